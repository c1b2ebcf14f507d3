package router

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"codestream/internal/logging"
	"codestream/pkg/interfaces"
	"codestream/pkg/types"
)

// ConnectionLookup resolves a connection id to a live connection.
type ConnectionLookup interface {
	Get(connID string) (interfaces.Connection, bool)
}

// MemberSource reports current room membership.
type MemberSource interface {
	Members(roomID string) []string
	IsMember(roomID, connID string) bool
}

// Router implements interfaces.Broadcaster
// ARCHITECTURAL DISCOVERY: Pure delivery logic without room state or socket handling
// maintains clean separation between routing decisions and message delivery mechanisms
type Router struct {
	conns ConnectionLookup
	rooms MemberSource
	log   *logrus.Entry
}

// NewRouter creates a new message router
// FUNCTIONAL DISCOVERY: Dependency injection enables testing with mock components
func NewRouter(conns ConnectionLookup, rooms MemberSource) *Router {
	return &Router{
		conns: conns,
		rooms: rooms,
		log:   logging.Component("router"),
	}
}

// Broadcast sends msg to every current member of roomID except excludeID.
// TECHNICAL DISCOVERY: The frame is encoded once and enqueued per recipient
// without blocking; a full queue drops the frame for that recipient only.
func (r *Router) Broadcast(roomID string, msg *types.Message, excludeID string) int {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.WithError(err).WithField("type", msg.Type).Error("Failed to encode broadcast")
		return 0
	}

	delivered := 0
	for _, connID := range r.rooms.Members(roomID) {
		if connID == excludeID {
			continue
		}
		if r.deliver(connID, data, msg.Type) {
			delivered++
		}
	}
	return delivered
}

// SendTo delivers msg to a single connection.
func (r *Router) SendTo(connID string, msg *types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Type, err)
	}
	conn, exists := r.conns.Get(connID)
	if !exists {
		return interfaces.ErrConnectionNotFound
	}
	return conn.Send(data)
}

// RelaySignal forwards a peer-negotiation frame to its target, attaching the
// sender id. The payload is passed through untouched.
// FUNCTIONAL DISCOVERY: Targets outside the sender's room are dropped so
// signaling cannot be used to reach connections in other rooms.
func (r *Router) RelaySignal(roomID, fromID string, sig *types.Signal) error {
	if roomID == "" || !r.rooms.IsMember(roomID, sig.Target) {
		return ErrTargetNotInRoom
	}
	return r.SendTo(sig.Target, types.NewMessage(sig.Kind, sig.RelayPayload(fromID)))
}

func (r *Router) deliver(connID string, data []byte, msgType string) bool {
	conn, exists := r.conns.Get(connID)
	if !exists {
		return false
	}
	if err := conn.Send(data); err != nil {
		entry := r.log.WithFields(logrus.Fields{
			"connection_id": connID,
			"type":          msgType,
		})
		if errors.Is(err, interfaces.ErrSendBufferFull) {
			entry.Warn("Send buffer full, frame dropped")
		} else {
			entry.WithError(err).Debug("Send failed")
		}
		return false
	}
	return true
}
