package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codestream/pkg/interfaces"
	"codestream/pkg/types"
)

type recordingDispatcher struct {
	mu           sync.Mutex
	registered   []interfaces.Connection
	events       []types.InboundEvent
	unregistered []string
	eventCh      chan types.InboundEvent
	goneCh       chan string
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{
		eventCh: make(chan types.InboundEvent, 16),
		goneCh:  make(chan string, 4),
	}
}

func (d *recordingDispatcher) Register(conn interfaces.Connection) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registered = append(d.registered, conn)
	return conn.WriteJSON(types.NewMessage(types.MessageConnected, types.ConnectedPayload{ConnectionID: conn.ID()}))
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, conn interfaces.Connection, event types.InboundEvent) error {
	d.mu.Lock()
	d.events = append(d.events, event)
	d.mu.Unlock()
	d.eventCh <- event
	return nil
}

func (d *recordingDispatcher) Unregister(conn interfaces.Connection) error {
	d.mu.Lock()
	d.unregistered = append(d.unregistered, conn.ID())
	d.mu.Unlock()
	d.goneCh <- conn.ID()
	return nil
}

func dialHandler(t *testing.T, d *recordingDispatcher, opts Options) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(NewHandler(d, opts))
	t.Cleanup(server.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestHandler_ConnectedThenEvents(t *testing.T) {
	d := newRecordingDispatcher()
	client := dialHandler(t, d, Options{BufferSize: 8})

	var greeting types.Envelope
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, client.ReadJSON(&greeting))
	assert.Equal(t, types.MessageConnected, greeting.Type)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"JOIN_ROOM","payload":{"roomId":"r1","identity":{"name":"Ada"}}}`)))

	select {
	case event := <-d.eventCh:
		join, ok := event.(*types.JoinRoom)
		require.True(t, ok)
		assert.Equal(t, "r1", join.RoomID)
		assert.Equal(t, "Ada", join.Identity.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("event not dispatched")
	}
}

func TestHandler_InvalidFramesDroppedConnectionKept(t *testing.T) {
	d := newRecordingDispatcher()
	client := dialHandler(t, d, Options{})

	bad := []string{
		`not json`,
		`{"payload":{}}`,
		`{"type":"EXPLODE","payload":{}}`,
		`{"type":"FILE_ADD","payload":{"id":""}}`,
		`{"type":"CHAT_MESSAGE","payload":{"text":"   "}}`,
	}
	for _, frame := range bad {
		require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(frame)))
	}
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte(`{"type":"FILE_DELETE","payload":{"id":"f1"}}`)))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"CHAT_MESSAGE","payload":{"text":"still here"}}`)))

	select {
	case event := <-d.eventCh:
		chat, ok := event.(*types.ChatSend)
		require.True(t, ok, "first dispatched event is the valid chat")
		assert.Equal(t, "still here", chat.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("connection should survive invalid frames")
	}
}

func TestHandler_CloseUnregisters(t *testing.T) {
	d := newRecordingDispatcher()
	client := dialHandler(t, d, Options{})

	var greeting types.Envelope
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, client.ReadJSON(&greeting))
	id := greeting.Payload

	require.NoError(t, client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = client.Close()

	select {
	case gone := <-d.goneCh:
		assert.Contains(t, string(id), gone)
	case <-time.After(2 * time.Second):
		t.Fatal("connection not unregistered")
	}
}

func TestHandler_OversizedFrameClosesSocket(t *testing.T) {
	d := newRecordingDispatcher()
	client := dialHandler(t, d, Options{MaxMessageSize: 64})

	big := `{"type":"CHAT_MESSAGE","payload":{"text":"` + strings.Repeat("a", 200) + `"}}`
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(big)))

	select {
	case <-d.goneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("oversized frame should end the connection")
	}
}
