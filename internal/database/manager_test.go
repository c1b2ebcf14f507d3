package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "codestream/pkg/database"
	"codestream/pkg/interfaces"
	"codestream/pkg/types"
)

var _ interfaces.ChatStore = (*Manager)(nil)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	return openTestDB(t, filepath.Join(t.TempDir(), "test.db"))
}

func openTestDB(t *testing.T, path string) *Manager {
	t.Helper()
	config := dbconfig.DefaultConfig()
	config.DatabasePath = path

	manager, err := NewManager(config)
	require.NoError(t, err)
	require.NoError(t, dbconfig.NewMigrationManager(manager.GetDB(), nil).ApplyMigrations())
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func chat(id, room, text string, at time.Time) *types.ChatMessage {
	return &types.ChatMessage{
		ID:     id,
		RoomID: room,
		User: types.Participant{
			ConnectionID: "c1",
			DisplayName:  "Ada",
			Color:        "#FF6B6B",
		},
		Text:         text,
		Timestamp:    at,
		RoomInstance: room,
	}
}

func TestManager_StoreAndHistory(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.StoreChatMessage(ctx, chat(fmt.Sprintf("m%d", i), "r1", fmt.Sprintf("hello %d", i), base.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, m.StoreChatMessage(ctx, chat("other", "r2", "elsewhere", base)))

	all, err := m.GetRoomChatHistory(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "m0", all[0].ID)
	assert.Equal(t, "m4", all[4].ID)
	assert.Equal(t, "Ada", all[0].User.DisplayName)
	assert.Equal(t, "#FF6B6B", all[0].User.Color)
	assert.True(t, base.Equal(all[0].Timestamp))

	recent, err := m.GetRoomChatHistory(ctx, "r1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, []string{"m3", "m4"}, []string{recent[0].ID, recent[1].ID}, "most recent, oldest first")

	none, err := m.GetRoomChatHistory(ctx, "missing", 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestManager_SameTimestampKeepsInsertOrder(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	at := time.Now()

	require.NoError(t, m.StoreChatMessage(ctx, chat("a", "r1", "first", at)))
	require.NoError(t, m.StoreChatMessage(ctx, chat("b", "r1", "second", at)))

	history, err := m.GetRoomChatHistory(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "a", history[0].ID)
	assert.Equal(t, "b", history[1].ID)
}

func TestManager_PurgeRoom(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, m.StoreChatMessage(ctx, chat("a", "r1", "x", time.Now())))
	require.NoError(t, m.StoreChatMessage(ctx, chat("b", "r2", "y", time.Now())))
	require.NoError(t, m.PurgeRoom(ctx, "r1"))

	r1, err := m.GetRoomChatHistory(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Empty(t, r1)

	r2, err := m.GetRoomChatHistory(ctx, "r2", 0)
	require.NoError(t, err)
	assert.Len(t, r2, 1)
}

func TestManager_PurgeRoomLeavesNewerInstance(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	old := chat("a", "r1", "before reclaim", time.Now())
	old.RoomInstance = "r1-first"
	fresh := chat("b", "r1", "after recreate", time.Now())
	fresh.RoomInstance = "r1-second"
	require.NoError(t, m.StoreChatMessage(ctx, old))
	require.NoError(t, m.StoreChatMessage(ctx, fresh))

	require.NoError(t, m.PurgeRoom(ctx, "r1-first"))

	gone, err := m.GetRoomChatHistory(ctx, "r1-first", 0)
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := m.GetRoomChatHistory(ctx, "r1-second", 0)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "b", kept[0].ID)
	assert.Equal(t, "r1", kept[0].RoomID)
	assert.Equal(t, "r1-second", kept[0].RoomInstance)
}

func TestManager_PurgeAllClearsPreviousProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart.db")
	ctx := context.Background()

	first := openTestDB(t, path)
	require.NoError(t, first.StoreChatMessage(ctx, chat("a", "r1", "x", time.Now())))
	require.NoError(t, first.StoreChatMessage(ctx, chat("b", "r2", "y", time.Now())))
	require.NoError(t, first.Close())

	second := openTestDB(t, path)
	removed, err := second.PurgeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	var count int
	require.NoError(t, second.GetDB().QueryRow("SELECT COUNT(*) FROM chat_messages").Scan(&count))
	assert.Zero(t, count)
}

func TestManager_DuplicateIDFails(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, m.StoreChatMessage(ctx, chat("dup", "r1", "x", time.Now())))
	assert.Error(t, m.StoreChatMessage(ctx, chat("dup", "r1", "y", time.Now())))
}

func TestManager_ConcurrentWrites(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, m.StoreChatMessage(ctx, chat(fmt.Sprintf("m%02d", i), "r1", "hi", time.Now())))
		}(i)
	}
	wg.Wait()

	history, err := m.GetRoomChatHistory(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 20)
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	assert.NoError(t, m.HealthCheck(ctx))
	require.NoError(t, m.Close())
	assert.NoError(t, m.Close(), "second close is a no-op")
	assert.ErrorIs(t, m.StoreChatMessage(ctx, chat("late", "r1", "x", time.Now())), ErrManagerClosed)
}

func TestManager_HealthCheckWithoutSchema(t *testing.T) {
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "bare.db")
	m, err := NewManager(config)
	require.NoError(t, err)
	defer m.Close()

	assert.Error(t, m.HealthCheck(context.Background()))
}
