package interfaces

import (
	"codestream/pkg/types"
)

// Broadcaster delivers outbound messages to room members.
// ARCHITECTURAL DISCOVERY: Recipient sets are resolved at send time, so a
// broadcast reaches exactly the members present when it is issued.
type Broadcaster interface {
	// Broadcast sends msg to every member of roomID except excludeID.
	// An empty excludeID includes everyone. Returns the number of frames queued.
	Broadcast(roomID string, msg *types.Message, excludeID string) int

	// SendTo sends msg to a single connection.
	SendTo(connID string, msg *types.Message) error

	// RelaySignal forwards sig from fromID to sig.Target if both are in roomID.
	RelaySignal(roomID, fromID string, sig *types.Signal) error
}
