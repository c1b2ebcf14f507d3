package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrSendBufferFull     = errors.New("send buffer full")
	ErrConnectionClosed   = errors.New("connection closed")
)
