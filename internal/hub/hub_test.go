package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codestream/internal/clock"
	"codestream/internal/router"
	"codestream/pkg/interfaces"
	"codestream/pkg/types"
)

type stubConn struct {
	id     string
	closed bool
	room   string
}

func (c *stubConn) ID() string                    { return c.id }
func (c *stubConn) Send(data []byte) error        { return nil }
func (c *stubConn) WriteJSON(v interface{}) error { return nil }
func (c *stubConn) Close() error                  { c.closed = true; return nil }
func (c *stubConn) CurrentRoom() string           { return c.room }
func (c *stubConn) SetCurrentRoom(roomID string)  { c.room = roomID }

type stubRegistry struct {
	mu     sync.Mutex
	live   map[string]bool
	reject bool
}

func (r *stubRegistry) Register(conn interfaces.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject {
		return errors.New("duplicate")
	}
	r.live[conn.ID()] = true
	return nil
}

func (r *stubRegistry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, connID)
}

// recorder logs every call in order and signals each one.
type recorder struct {
	mu    sync.Mutex
	calls []string
	ch    chan string
}

func newRecorder() *recorder { return &recorder{ch: make(chan string, 100)} }

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
	r.ch <- s
}

func (r *recorder) Connected(ctx context.Context, conn interfaces.Connection) {
	r.add("connected:" + conn.ID())
}

func (r *recorder) HandleEvent(ctx context.Context, conn interfaces.Connection, event types.InboundEvent) {
	if chat, ok := event.(*types.ChatSend); ok {
		r.add("chat:" + conn.ID() + ":" + chat.Text)
		return
	}
	r.add("event:" + conn.ID() + ":" + event.EventType())
}

func (r *recorder) Disconnected(ctx context.Context, conn interfaces.Connection) {
	r.add("disconnected:" + conn.ID())
}

func (r *recorder) wait(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for call %d of %d", i+1, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.calls...)
}

func startHub(t *testing.T, limiter router.Limiter) (*Hub, *stubRegistry, *recorder) {
	t.Helper()
	reg := &stubRegistry{live: make(map[string]bool)}
	rec := newRecorder()
	h := NewHub(reg, rec, limiter, 16)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop() })
	return h, reg, rec
}

func TestHub_StartStop(t *testing.T) {
	h := NewHub(&stubRegistry{live: map[string]bool{}}, newRecorder(), nil, 0)

	assert.ErrorIs(t, h.Stop(), ErrHubNotRunning)
	require.NoError(t, h.Start(context.Background()))
	assert.ErrorIs(t, h.Start(context.Background()), ErrHubAlreadyRunning)
	require.NoError(t, h.Stop())

	c := &stubConn{id: "c1"}
	assert.ErrorIs(t, h.Register(c), ErrHubNotRunning)
	assert.ErrorIs(t, h.Dispatch(context.Background(), c, &types.ChatSend{Text: "x"}), ErrHubNotRunning)
	assert.ErrorIs(t, h.Register(nil), ErrNilConnection)
}

func TestHub_PreservesPerConnectionOrder(t *testing.T) {
	h, reg, rec := startHub(t, nil)
	c := &stubConn{id: "c1"}
	ctx := context.Background()

	require.NoError(t, h.Register(c))
	for _, text := range []string{"1", "2", "3"} {
		require.NoError(t, h.Dispatch(ctx, c, &types.ChatSend{Text: text}))
	}
	require.NoError(t, h.Unregister(c))

	calls := rec.wait(t, 5)
	assert.Equal(t, []string{
		"connected:c1",
		"chat:c1:1",
		"chat:c1:2",
		"chat:c1:3",
		"disconnected:c1",
	}, calls)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	assert.Empty(t, reg.live)
}

func TestHub_RegistrationFailureClosesConnection(t *testing.T) {
	reg := &stubRegistry{live: make(map[string]bool), reject: true}
	rec := newRecorder()
	h := NewHub(reg, rec, nil, 4)
	require.NoError(t, h.Start(context.Background()))
	defer h.Stop()

	bad := &stubConn{id: "bad"}
	require.NoError(t, h.Register(bad))
	marker := &stubConn{id: "marker"}
	require.NoError(t, h.Dispatch(context.Background(), marker, &types.FileDelete{ID: "f"}))

	calls := rec.wait(t, 1)
	assert.Equal(t, []string{"event:marker:FILE_DELETE"}, calls, "no CONNECTED for rejected connection")
	assert.True(t, bad.closed)
}

func TestHub_RateLimitDropsFrames(t *testing.T) {
	limiter := router.NewMemoryLimiter(2, time.Minute, clock.NewFake(time.Unix(0, 0)))
	h, _, rec := startHub(t, limiter)
	c := &stubConn{id: "c1"}
	ctx := context.Background()

	require.NoError(t, h.Dispatch(ctx, c, &types.ChatSend{Text: "a"}))
	require.NoError(t, h.Dispatch(ctx, c, &types.ChatSend{Text: "b"}))
	err := h.Dispatch(ctx, c, &types.ChatSend{Text: "c"})
	assert.ErrorIs(t, err, router.ErrRateLimitExceeded)

	other := &stubConn{id: "c2"}
	assert.NoError(t, h.Dispatch(ctx, other, &types.ChatSend{Text: "d"}), "limits are per connection")

	require.NoError(t, h.Unregister(c))
	calls := rec.wait(t, 4)
	assert.NotContains(t, calls, "chat:c1:c")
	assert.Eventually(t, func() bool { return limiter.Allow(ctx, "c1") }, time.Second, 10*time.Millisecond, "unregister forgets the counter")
}

func TestHub_QueueFull(t *testing.T) {
	reg := &stubRegistry{live: make(map[string]bool)}
	h := NewHub(reg, newRecorder(), nil, 1)
	// Mark running without starting the loop so nothing drains the queue.
	h.running = true
	c := &stubConn{id: "c1"}

	require.NoError(t, h.Dispatch(context.Background(), c, &types.ChatSend{Text: "1"}))
	assert.ErrorIs(t, h.Dispatch(context.Background(), c, &types.ChatSend{Text: "2"}), ErrQueueFull)
}
