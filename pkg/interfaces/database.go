package interfaces

import (
	"context"

	"codestream/pkg/types"
)

// ChatStore persists room chat so late joiners can replay it.
type ChatStore interface {
	// StoreChatMessage appends a message to the history of message.RoomInstance.
	StoreChatMessage(ctx context.Context, message *types.ChatMessage) error

	// GetRoomChatHistory returns up to limit most recent messages of a room
	// instance, oldest first.
	GetRoomChatHistory(ctx context.Context, instance string, limit int) ([]types.ChatMessage, error)

	// PurgeRoom deletes all history of a reclaimed room instance.
	PurgeRoom(ctx context.Context, instance string) error

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}
