package router

import "errors"

// Router-specific error types
var (
	ErrTargetNotInRoom   = errors.New("signal target not in sender's room")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidRedisURL   = errors.New("invalid redis URL")
)
