package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"codestream/pkg/types"
)

// testClient is a websocket client that collects server frames.
type testClient struct {
	t            *testing.T
	conn         *websocket.Conn
	frames       chan types.Envelope
	done         chan struct{}
	closeOnce    sync.Once
	ConnectionID string
}

// dial connects to serverAddr and consumes the CONNECTED frame.
func dial(t *testing.T, serverAddr string) *testClient {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: serverAddr, Path: "/ws"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	require.NoError(t, err)

	tc := &testClient{
		t:      t,
		conn:   conn,
		frames: make(chan types.Envelope, 256),
		done:   make(chan struct{}),
	}
	go tc.readLoop()
	t.Cleanup(tc.Close)

	var connected types.ConnectedPayload
	tc.expect(types.MessageConnected, &connected)
	require.NotEmpty(t, connected.ConnectionID)
	tc.ConnectionID = connected.ConnectionID
	return tc
}

func (tc *testClient) readLoop() {
	defer close(tc.done)
	for {
		var env types.Envelope
		if err := tc.conn.ReadJSON(&env); err != nil {
			return
		}
		select {
		case tc.frames <- env:
		default:
			tc.t.Logf("client %s dropped %s frame", tc.ConnectionID, env.Type)
		}
	}
}

func (tc *testClient) send(eventType string, payload interface{}) {
	tc.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(tc.t, err)
	_ = tc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	require.NoError(tc.t, tc.conn.WriteJSON(types.Envelope{Type: eventType, Payload: raw}))
}

func (tc *testClient) join(roomID, name string) types.RoomJoinedPayload {
	tc.t.Helper()
	tc.send(types.EventJoinRoom, types.JoinRoom{RoomID: roomID, Identity: types.Identity{Name: name}})
	var joined types.RoomJoinedPayload
	tc.expect(types.MessageRoomJoined, &joined)
	return joined
}

// expect skips frames until one of msgType arrives and decodes it into out.
func (tc *testClient) expect(msgType string, out interface{}) {
	tc.t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case env := <-tc.frames:
			if env.Type != msgType {
				continue
			}
			if out != nil {
				require.NoError(tc.t, json.Unmarshal(env.Payload, out))
			}
			return
		case <-tc.done:
			require.FailNow(tc.t, fmt.Sprintf("connection closed waiting for %s", msgType))
		case <-timeout:
			require.FailNow(tc.t, fmt.Sprintf("timeout waiting for %s", msgType))
		}
	}
}

// expectNone fails if a frame of msgType arrives within wait.
func (tc *testClient) expectNone(msgType string, wait time.Duration) {
	tc.t.Helper()
	timeout := time.After(wait)
	for {
		select {
		case env := <-tc.frames:
			if env.Type == msgType {
				require.FailNow(tc.t, fmt.Sprintf("unexpected %s: %s", msgType, env.Payload))
			}
		case <-tc.done:
			return
		case <-timeout:
			return
		}
	}
}

func (tc *testClient) Close() {
	tc.closeOnce.Do(func() {
		_ = tc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = tc.conn.Close()
	})
}
