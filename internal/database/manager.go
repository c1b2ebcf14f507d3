package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"codestream/internal/logging"
	dbconfig "codestream/pkg/database"
	"codestream/pkg/types"
)

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

// Manager persists room chat in SQLite and implements interfaces.ChatStore.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	log          *logrus.Entry
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine. Migrations
// are applied separately through GetDB.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := dbconfig.OpenSQLite(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		log:          logging.Component("database"),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.log.WithError(err).Warn("Database write failed")
			}
			op.result <- err

		case <-m.shutdown:
			m.log.Debug("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timeout.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-timeout.C:
		return ErrWriteTimeout
	}
}

// StoreChatMessage appends message to the history of its room instance.
func (m *Manager) StoreChatMessage(ctx context.Context, message *types.ChatMessage) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO chat_messages (id, room_id, room_instance, sender_id, sender_name, sender_color, text, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			message.ID,
			message.RoomID,
			message.RoomInstance,
			message.User.ConnectionID,
			message.User.DisplayName,
			message.User.Color,
			message.Text,
			message.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chat message: %w", err)
		}
		return nil
	})
}

// GetRoomChatHistory returns up to limit of the most recent messages of one
// room instance, oldest first. A non-positive limit returns everything.
func (m *Manager) GetRoomChatHistory(ctx context.Context, instance string, limit int) ([]types.ChatMessage, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	if limit <= 0 {
		limit = -1
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, room_id, room_instance, sender_id, sender_name, sender_color, text, timestamp
		FROM (
			SELECT id, room_id, room_instance, sender_id, sender_name, sender_color, text, timestamp, rowid
			FROM chat_messages
			WHERE room_instance = ?
			ORDER BY timestamp DESC, rowid DESC
			LIMIT ?
		)
		ORDER BY timestamp ASC, rowid ASC
	`, instance, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]types.ChatMessage, 0)
	for rows.Next() {
		var msg types.ChatMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.RoomInstance,
			&msg.User.ConnectionID,
			&msg.User.DisplayName,
			&msg.User.Color,
			&msg.Text,
			&msg.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat rows: %w", err)
	}
	return messages, nil
}

// PurgeRoom deletes every chat message of one room instance. Rows of a newer
// instance with the same room id are untouched.
func (m *Manager) PurgeRoom(ctx context.Context, instance string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, "DELETE FROM chat_messages WHERE room_instance = ?", instance); err != nil {
			return fmt.Errorf("failed to purge room chat: %w", err)
		}
		return nil
	})
}

// PurgeAll deletes all chat history and returns the number of rows removed.
// FUNCTIONAL DISCOVERY: Rooms live only in memory, so rows left by a previous
// process belong to rooms that no longer exist.
func (m *Manager) PurgeAll(ctx context.Context) (int64, error) {
	var removed int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, "DELETE FROM chat_messages")
		if err != nil {
			return fmt.Errorf("failed to clear chat history: %w", err)
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	return removed, err
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_messages LIMIT 1").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
