package websocket

import (
	"sync"

	"codestream/pkg/interfaces"
)

// Registry indexes live connections by id.
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic
// maintains clean separation between connection tracking and connection operations
type Registry struct {
	mu          sync.RWMutex
	connections map[string]interfaces.Connection
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
	}
}

// Register adds conn. Ids are server-generated UUIDs, so a duplicate means a
// programming error and is refused.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	return nil
}

// Unregister removes connID. Unknown ids are ignored.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, connID)
}

func (r *Registry) Get(connID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.connections[connID]
	return conn, exists
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CloseAll closes every registered connection; used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
