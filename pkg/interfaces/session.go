package interfaces

import (
	"context"

	"codestream/pkg/types"
)

// EventHandler applies decoded client events to shared state.
type EventHandler interface {
	// Connected runs once when a connection is registered.
	Connected(ctx context.Context, conn Connection)

	// HandleEvent applies one inbound event from conn.
	HandleEvent(ctx context.Context, conn Connection, event types.InboundEvent)

	// Disconnected runs once when a connection goes away.
	Disconnected(ctx context.Context, conn Connection)
}
