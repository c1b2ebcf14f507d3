package session

import "errors"

var (
	// ErrNotInRoom is returned for room-scoped events from a connection that
	// has not joined a room.
	ErrNotInRoom = errors.New("connection is not in a room")
	// ErrUnhandledEvent means no handler exists for a decoded event type.
	ErrUnhandledEvent = errors.New("unhandled event type")
	// ErrHandlerPanic wraps a recovered panic from an event handler.
	ErrHandlerPanic = errors.New("event handler panicked")
	// ErrChatQueueFull means a chat message was delivered but not persisted.
	ErrChatQueueFull = errors.New("chat store queue is full")
)
