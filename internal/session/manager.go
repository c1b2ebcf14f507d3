package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"codestream/internal/clock"
	"codestream/internal/execution"
	"codestream/internal/logging"
	"codestream/internal/room"
	"codestream/internal/router"
	"codestream/pkg/interfaces"
	"codestream/pkg/types"
)

// Runner starts and abandons code executions.
type Runner interface {
	Submit(req execution.Request) (*execution.Job, error)
	Abandon(connID string) int
}

// Options configures a Manager.
type Options struct {
	// HistoryLimit caps the CHAT_HISTORY replay; zero replays everything.
	HistoryLimit int
	// StoreTimeout bounds each background chat write or purge.
	StoreTimeout time.Duration
	// ReplayTimeout bounds the history read done while joining.
	ReplayTimeout time.Duration
	// StoreQueue is how many chat writes may wait for the store. A message
	// arriving at a full queue is delivered live but not persisted.
	StoreQueue int
}

// Manager applies client events to rooms, documents, chat, signaling and
// execution. It implements interfaces.EventHandler.
// ARCHITECTURAL DISCOVERY: Every call arrives from the hub goroutine, so events
// of one connection are applied strictly in arrival order.
type Manager struct {
	rooms  *room.Registry
	bus    interfaces.Broadcaster
	runner Runner
	chat   *chatWriter
	clock  clock.Clock
	opts   Options
	log    *logrus.Entry
}

// NewManager wires the event handlers. chat may be nil, which disables
// history persistence and replay. Call Close to flush queued chat writes.
func NewManager(rooms *room.Registry, bus interfaces.Broadcaster, runner Runner, chat interfaces.ChatStore, clk clock.Clock, opts Options) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.ReplayTimeout <= 0 {
		opts.ReplayTimeout = time.Second
	}
	if opts.StoreQueue <= 0 {
		opts.StoreQueue = 256
	}
	m := &Manager{
		rooms:  rooms,
		bus:    bus,
		runner: runner,
		clock:  clk,
		opts:   opts,
		log:    logging.Component("session"),
	}
	if chat != nil {
		m.chat = newChatWriter(chat, opts.StoreQueue, opts.StoreTimeout, m.log)
	}
	return m
}

// Close waits for queued chat writes and purges. Safe to call repeatedly.
func (m *Manager) Close() {
	if m.chat != nil {
		m.chat.Close()
	}
}

// Connected greets a new connection with its id.
func (m *Manager) Connected(ctx context.Context, conn interfaces.Connection) {
	msg := types.NewMessage(types.MessageConnected, types.ConnectedPayload{ConnectionID: conn.ID()})
	if err := conn.WriteJSON(msg); err != nil {
		m.log.WithError(err).WithField("connection_id", conn.ID()).Warn("Failed to send CONNECTED")
	}
}

// HandleEvent applies event for conn. Failures are logged and never reach the
// client or close the connection.
func (m *Manager) HandleEvent(ctx context.Context, conn interfaces.Connection, event types.InboundEvent) {
	err := m.dispatch(ctx, conn, event)
	if err == nil {
		return
	}

	entry := m.log.WithError(err).WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"event":         event.EventType(),
	})
	switch {
	case errors.Is(err, ErrHandlerPanic):
		entry.Error("Event handler failed")
	case errors.Is(err, ErrNotInRoom), errors.Is(err, router.ErrTargetNotInRoom):
		entry.Debug("Event dropped")
	default:
		entry.Warn("Event failed")
	}
}

// Disconnected leaves the current room and abandons the connection's jobs.
func (m *Manager) Disconnected(ctx context.Context, conn interfaces.Connection) {
	m.leave(conn)
	if m.runner != nil {
		m.runner.Abandon(conn.ID())
	}
}

// RoomReclaimed drops persisted state of one lifetime of a room whose grace
// period ran out. A room recreated under the same id is unaffected.
func (m *Manager) RoomReclaimed(roomID, instance string) {
	if m.chat == nil {
		return
	}
	if !m.chat.Purge(instance) {
		m.log.WithFields(logrus.Fields{
			"room_id":  roomID,
			"instance": instance,
		}).Warn("Chat purge not queued")
	}
}

func (m *Manager) dispatch(ctx context.Context, conn interfaces.Connection, event types.InboundEvent) (err error) {
	// TECHNICAL DISCOVERY: A panicking handler must not take down the hub loop
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	switch e := event.(type) {
	case *types.JoinRoom:
		return m.join(ctx, conn, e)
	case *types.FileAdd:
		return m.addFile(conn, e)
	case *types.FileDelete:
		return m.deleteFile(conn, e)
	case *types.FileUpdate:
		return m.updateFile(conn, e)
	case *types.FileRename:
		return m.renameFile(conn, e)
	case *types.LanguageChange:
		return m.changeLanguage(conn, e)
	case *types.CursorMove:
		return m.moveCursor(conn, e)
	case *types.ChatSend:
		return m.sendChat(ctx, conn, e)
	case *types.Signal:
		return m.relaySignal(conn, e)
	case *types.RunCode:
		return m.runCode(conn, e)
	default:
		return fmt.Errorf("%w: %s", ErrUnhandledEvent, event.EventType())
	}
}

func (m *Manager) join(ctx context.Context, conn interfaces.Connection, e *types.JoinRoom) error {
	if prev := conn.CurrentRoom(); prev != "" && prev != e.RoomID {
		m.leave(conn)
	}

	res := m.rooms.Join(e.RoomID, conn.ID(), e.Identity)
	conn.SetCurrentRoom(e.RoomID)

	entry := m.log.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"room_id":       e.RoomID,
	})
	if res.Created {
		entry.Info("Room created")
	}

	if err := conn.WriteJSON(types.NewMessage(types.MessageRoomJoined, types.RoomJoinedPayload{
		RoomID:       e.RoomID,
		Files:        res.Files,
		Participants: res.Participants,
		Self:         res.Self,
	})); err != nil {
		return fmt.Errorf("send room state: %w", err)
	}

	m.replayChat(ctx, conn, e.RoomID, res.Instance)

	if !res.Rejoined {
		m.bus.Broadcast(e.RoomID, types.NewMessage(types.MessageUserJoined, types.UserJoinedPayload{
			Participant: res.Self,
		}), conn.ID())
		entry.WithField("participants", len(res.Participants)).Info("Participant joined")
	}
	return nil
}

func (m *Manager) replayChat(ctx context.Context, conn interfaces.Connection, roomID, instance string) {
	if m.chat == nil {
		return
	}
	replayCtx, cancel := context.WithTimeout(ctx, m.opts.ReplayTimeout)
	defer cancel()

	history, err := m.chat.History(replayCtx, instance, m.opts.HistoryLimit)
	if err != nil {
		m.log.WithError(err).WithField("room_id", roomID).Warn("Failed to load chat history")
		return
	}
	if err := conn.WriteJSON(types.NewMessage(types.MessageChatHistory, types.ChatHistoryPayload{
		RoomID:   roomID,
		Messages: history,
	})); err != nil {
		m.log.WithError(err).WithField("connection_id", conn.ID()).Debug("Failed to send chat history")
	}
}

// leave removes conn from its current room. Safe to call repeatedly.
func (m *Manager) leave(conn interfaces.Connection) {
	roomID := conn.CurrentRoom()
	if roomID == "" {
		return
	}
	conn.SetCurrentRoom("")

	res := m.rooms.Leave(roomID, conn.ID())
	if !res.Removed {
		return
	}
	m.log.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"room_id":       roomID,
		"room_empty":    res.Empty,
	}).Info("Participant left")

	if !res.Empty {
		m.bus.Broadcast(roomID, types.NewMessage(types.MessageUserLeft, types.UserLeftPayload{
			ConnectionID: conn.ID(),
		}), conn.ID())
	}
}

// currentRoom returns the room conn may act in.
func (m *Manager) currentRoom(conn interfaces.Connection) (string, error) {
	roomID := conn.CurrentRoom()
	if roomID == "" || !m.rooms.IsMember(roomID, conn.ID()) {
		return "", ErrNotInRoom
	}
	return roomID, nil
}

func (m *Manager) broadcastState(roomID string, snap room.Snapshot) {
	m.bus.Broadcast(roomID, types.NewMessage(types.MessageStateUpdate, types.StateUpdatePayload{
		Files:        snap.Files,
		Participants: snap.Participants,
	}), "")
}
