package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"codestream/internal/logging"
	"codestream/pkg/interfaces"
	"codestream/pkg/types"
)

// Dispatcher receives connection lifecycle and decoded events.
type Dispatcher interface {
	Register(conn interfaces.Connection) error
	Dispatch(ctx context.Context, conn interfaces.Connection, event types.InboundEvent) error
	Unregister(conn interfaces.Connection) error
}

// Options configures socket timing and limits.
type Options struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
}

// Handler upgrades /ws requests and pumps frames into the dispatcher.
// ARCHITECTURAL DISCOVERY: Frames are decoded into the closed event set here,
// once; nothing past this point sees raw JSON.
type Handler struct {
	dispatcher Dispatcher
	opts       Options
	upgrader   websocket.Upgrader
	log        *logrus.Entry
}

func NewHandler(dispatcher Dispatcher, opts Options) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	return &Handler{
		dispatcher: dispatcher,
		opts:       opts,
		upgrader: websocket.Upgrader{
			// FUNCTIONAL DISCOVERY: Browser editors are served from other origins
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		log: logging.Component("websocket"),
	}
}

// ServeHTTP handles GET /ws.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	conn := NewConnection(ws, h.opts.BufferSize, h.opts.WriteTimeout)
	if err := h.dispatcher.Register(conn); err != nil {
		h.log.WithError(err).Warn("Failed to register connection")
		_ = conn.Close()
		return
	}

	go h.handleConnection(conn)
}

// handleConnection runs the read pump until the socket fails or closes.
func (h *Handler) handleConnection(conn *Connection) {
	entry := h.log.WithField("connection_id", conn.ID())
	defer func() {
		if err := h.dispatcher.Unregister(conn); err != nil {
			entry.WithError(err).Debug("Unregister skipped")
		}
		_ = conn.Close()
	}()

	ws := conn.conn
	if h.opts.MaxMessageSize > 0 {
		ws.SetReadLimit(h.opts.MaxMessageSize)
	}

	// TECHNICAL DISCOVERY: Read deadline is extended by every pong; a peer that
	// stops answering pings is dropped after ReadTimeout
	if err := ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.pingLoop(conn)

	ctx := context.Background()
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				entry.WithError(err).Debug("WebSocket closed unexpectedly")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		event, err := types.DecodeInbound(data)
		if err != nil {
			entry.WithError(err).Debug("Dropping invalid frame")
			continue
		}
		if err := h.dispatcher.Dispatch(ctx, conn, event); err != nil {
			entry.WithError(err).WithField("event", event.EventType()).Debug("Frame not dispatched")
		}
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					_ = conn.Close()
				}
				return
			}
		case <-conn.Done():
			return
		}
	}
}
