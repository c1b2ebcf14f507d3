package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"codestream/internal/logging"
	"codestream/internal/router"
	"codestream/pkg/interfaces"
	"codestream/pkg/types"
)

// ConnectionRegistry tracks live connections for delivery lookups.
type ConnectionRegistry interface {
	Register(conn interfaces.Connection) error
	Unregister(connID string)
}

type itemKind int

const (
	kindRegister itemKind = iota
	kindEvent
	kindUnregister
)

type item struct {
	kind  itemKind
	conn  interfaces.Connection
	event types.InboundEvent
}

// Hub serializes connection lifecycle and client events onto one goroutine.
// ARCHITECTURAL DISCOVERY: Register, event and unregister share a single FIFO
// queue, so a connection's CONNECTED always precedes its events and its
// disconnect is applied after every frame it sent.
type Hub struct {
	queue           chan item
	shutdownChannel chan struct{}
	done            chan struct{}

	conns   ConnectionRegistry
	handler interfaces.EventHandler
	limiter router.Limiter

	running bool
	mu      sync.RWMutex
	log     *logrus.Entry
}

// NewHub creates a hub. limiter may be nil to disable rate limiting.
func NewHub(conns ConnectionRegistry, handler interfaces.EventHandler, limiter router.Limiter, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Hub{
		queue:           make(chan item, queueSize),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
		conns:           conns,
		handler:         handler,
		limiter:         limiter,
		log:             logging.Component("hub"),
	}
}

// Start begins hub processing
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	h.log.Info("Starting hub")
	go h.run(ctx)
	return nil
}

// Stop signals the loop to exit and waits for it.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	h.mu.Unlock()

	<-h.done
	h.log.Info("Hub stopped")
	return nil
}

// Register queues conn for registration. It blocks while the queue is full.
func (h *Hub) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	return h.enqueueBlocking(item{kind: kindRegister, conn: conn})
}

// Unregister queues conn for removal. It blocks while the queue is full so a
// disconnect is never lost.
func (h *Hub) Unregister(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	return h.enqueueBlocking(item{kind: kindUnregister, conn: conn})
}

// Dispatch rate limits and queues one decoded event from conn.
// FUNCTIONAL DISCOVERY: Over-limit or overflow frames are dropped; the
// connection stays open.
func (h *Hub) Dispatch(ctx context.Context, conn interfaces.Connection, event types.InboundEvent) error {
	if !h.isRunning() {
		return ErrHubNotRunning
	}
	if h.limiter != nil && !h.limiter.Allow(ctx, conn.ID()) {
		return fmt.Errorf("%w: %s", router.ErrRateLimitExceeded, conn.ID())
	}

	select {
	case h.queue <- item{kind: kindEvent, conn: conn, event: event}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (h *Hub) enqueueBlocking(it item) error {
	if !h.isRunning() {
		return ErrHubNotRunning
	}
	select {
	case h.queue <- it:
		return nil
	case <-h.shutdownChannel:
		return ErrHubNotRunning
	}
}

func (h *Hub) isRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case it := <-h.queue:
			h.process(ctx, it)
		case <-h.shutdownChannel:
			return
		case <-ctx.Done():
			h.log.Debug("Hub context cancelled")
			return
		}
	}
}

func (h *Hub) process(ctx context.Context, it item) {
	entry := h.log.WithField("connection_id", it.conn.ID())

	switch it.kind {
	case kindRegister:
		if err := h.conns.Register(it.conn); err != nil {
			entry.WithError(err).Warn("Connection registration failed")
			_ = it.conn.Close()
			return
		}
		entry.Debug("Connection registered")
		h.handler.Connected(ctx, it.conn)

	case kindEvent:
		h.handler.HandleEvent(ctx, it.conn, it.event)

	case kindUnregister:
		h.handler.Disconnected(ctx, it.conn)
		h.conns.Unregister(it.conn.ID())
		if h.limiter != nil {
			h.limiter.Forget(it.conn.ID())
		}
		entry.Debug("Connection unregistered")
	}
}
