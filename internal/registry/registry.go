// Package registry maps each authenticated user to their live WebSocket
// connection. It is the in-process source of presence truth while a user is
// connected; the Redis session mirror carries the same facts across
// instances.
package registry

import (
	"sync"

	"github.com/pingme/chat-server/internal/ws"
)

// Registry is a thread-safe userID -> connection map.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*ws.Connection
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byUser: make(map[string]*ws.Connection),
	}
}

// Register stores the mapping for the connection's user and returns the
// previous connection for that user, if any. A second connection for an
// already-connected user silently replaces the old mapping; closing the
// stale connection is the caller's decision.
func (r *Registry) Register(conn *ws.Connection) (prev *ws.Connection) {
	r.mu.Lock()
	prev = r.byUser[conn.UserID]
	r.byUser[conn.UserID] = conn
	r.mu.Unlock()
	return prev
}

// Unregister removes the mapping, but only if conn is still the registered
// connection for its user. A disconnect from a connection that has been
// replaced is a no-op, so the replacement stays registered and the user is
// not wrongly marked offline. Returns true if the mapping was removed.
func (r *Registry) Unregister(conn *ws.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byUser[conn.UserID]
	if !ok || current.ID != conn.ID {
		return false
	}
	delete(r.byUser, conn.UserID)
	return true
}

// Get returns the live connection for userID, or nil if the user is not
// connected to this instance.
func (r *Registry) Get(userID string) *ws.Connection {
	r.mu.RLock()
	conn := r.byUser[userID]
	r.mu.RUnlock()
	return conn
}

// Count returns the number of connected users.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byUser)
	r.mu.RUnlock()
	return n
}

// Connections returns a snapshot of all registered connections, safe to
// iterate without holding the lock.
func (r *Registry) Connections() []*ws.Connection {
	r.mu.RLock()
	conns := make([]*ws.Connection, 0, len(r.byUser))
	for _, conn := range r.byUser {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()
	return conns
}
