package interfaces

// Connection is one live client socket.
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and business logic
type Connection interface {
	// ID is the server-assigned connection id.
	ID() string

	// Send enqueues an encoded frame without blocking.
	// FUNCTIONAL DISCOVERY: A full outbound queue drops the frame and returns
	// an error so one slow client never stalls a broadcast.
	Send(data []byte) error

	// WriteJSON encodes v and enqueues it like Send.
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error

	// CurrentRoom returns the room this connection has joined, or "".
	CurrentRoom() string

	// SetCurrentRoom records the joined room; "" clears it.
	SetCurrentRoom(roomID string)
}
