package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"codestream/internal/execution"
	"codestream/pkg/interfaces"
	"codestream/pkg/types"
)

// FUNCTIONAL DISCOVERY: Structural file changes replicate the whole room state
// to everyone, content edits go to everyone but the author. Unknown file ids
// change nothing and broadcast nothing.

func (m *Manager) addFile(conn interfaces.Connection, e *types.FileAdd) error {
	roomID, err := m.currentRoom(conn)
	if err != nil {
		return err
	}
	snap, ok := m.rooms.AddFile(roomID, conn.ID(), types.FileRecord{
		ID:       e.ID,
		Name:     e.Name,
		Language: e.Language,
		Content:  e.Content,
	})
	if ok {
		m.broadcastState(roomID, snap)
	}
	return nil
}

func (m *Manager) deleteFile(conn interfaces.Connection, e *types.FileDelete) error {
	roomID, err := m.currentRoom(conn)
	if err != nil {
		return err
	}
	if snap, ok := m.rooms.DeleteFile(roomID, e.ID); ok {
		m.broadcastState(roomID, snap)
	}
	return nil
}

func (m *Manager) renameFile(conn interfaces.Connection, e *types.FileRename) error {
	roomID, err := m.currentRoom(conn)
	if err != nil {
		return err
	}
	if snap, ok := m.rooms.RenameFile(roomID, conn.ID(), e.ID, e.Name); ok {
		m.broadcastState(roomID, snap)
	}
	return nil
}

func (m *Manager) changeLanguage(conn interfaces.Connection, e *types.LanguageChange) error {
	roomID, err := m.currentRoom(conn)
	if err != nil {
		return err
	}
	if snap, ok := m.rooms.ChangeLanguage(roomID, conn.ID(), e.ID, e.Language); ok {
		m.broadcastState(roomID, snap)
	}
	return nil
}

func (m *Manager) updateFile(conn interfaces.Connection, e *types.FileUpdate) error {
	roomID, err := m.currentRoom(conn)
	if err != nil {
		return err
	}
	if !m.rooms.UpdateFile(roomID, conn.ID(), e.ID, e.Content) {
		return nil
	}
	m.bus.Broadcast(roomID, types.NewMessage(types.MessageFileUpdate, types.FileUpdatedPayload{
		ID:        e.ID,
		Content:   e.Content,
		UpdatedBy: conn.ID(),
	}), conn.ID())
	return nil
}

func (m *Manager) moveCursor(conn interfaces.Connection, e *types.CursorMove) error {
	roomID, err := m.currentRoom(conn)
	if err != nil {
		return err
	}
	self, ok := m.rooms.Participant(roomID, conn.ID())
	if !ok {
		return ErrNotInRoom
	}
	m.bus.Broadcast(roomID, types.NewMessage(types.MessageCursorUpdate, types.CursorUpdatePayload{
		Position:  e.Position,
		FileID:    e.FileID,
		UserID:    self.ConnectionID,
		UserName:  self.DisplayName,
		UserColor: self.Color,
	}), conn.ID())
	return nil
}

// sendChat broadcasts, then queues the message for the store.
func (m *Manager) sendChat(ctx context.Context, conn interfaces.Connection, e *types.ChatSend) error {
	roomID, err := m.currentRoom(conn)
	if err != nil {
		return err
	}
	self, ok := m.rooms.Participant(roomID, conn.ID())
	if !ok {
		return ErrNotInRoom
	}

	// The sender is a member, so the room cannot be reclaimed in between.
	instance, _ := m.rooms.Instance(roomID)

	msg := &types.ChatMessage{
		ID:           uuid.New().String(),
		RoomID:       roomID,
		User:         self,
		Text:         e.Text,
		Timestamp:    m.clock.Now().UTC(),
		RoomInstance: instance,
	}
	m.bus.Broadcast(roomID, types.NewMessage(types.MessageNewChatMessage, msg), "")

	if m.chat == nil {
		return nil
	}
	if !m.chat.Store(msg) {
		return ErrChatQueueFull
	}
	return nil
}

func (m *Manager) relaySignal(conn interfaces.Connection, e *types.Signal) error {
	roomID, err := m.currentRoom(conn)
	if err != nil {
		return err
	}
	return m.bus.RelaySignal(roomID, conn.ID(), e)
}

func (m *Manager) runCode(conn interfaces.Connection, e *types.RunCode) error {
	roomID, err := m.currentRoom(conn)
	if err != nil {
		return err
	}
	if m.runner == nil {
		return fmt.Errorf("%w: execution disabled", ErrUnhandledEvent)
	}
	self, ok := m.rooms.Participant(roomID, conn.ID())
	if !ok {
		return ErrNotInRoom
	}

	// Rejections were already reported to the requester as EXECUTION_RESULT.
	job, err := m.runner.Submit(execution.Request{
		RoomID:    roomID,
		Requester: self,
		Language:  e.Language,
		Code:      e.Code,
		FileName:  e.FileName,
	})
	if err != nil {
		m.log.WithError(err).WithField("connection_id", conn.ID()).Debug("Execution rejected")
		return nil
	}
	m.log.WithField("job_id", job.ID).Debug("Execution started")
	return nil
}
