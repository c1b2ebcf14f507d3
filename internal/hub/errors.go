package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrQueueFull         = errors.New("hub queue is full")
	ErrNilConnection     = errors.New("nil connection")
)
