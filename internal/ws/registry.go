package ws

import (
	"sync"

	"github.com/samber/lo"
)

// Registry maps user identities to their live connections.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Connection
	total  int
	limit  int
}

// NewRegistry creates an empty registry. A limit <= 0 disables the hard cap.
func NewRegistry(limit int) *Registry {
	return &Registry{
		byUser: make(map[string]map[string]*Connection),
		limit:  limit,
	}
}

// Add registers conn under userID. Adding the same connection twice is a
// no-op. When the registry is full the connection is refused with a
// *CapacityError and nothing is mutated.
func (r *Registry) Add(userID string, conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.byUser[userID]
	if ok {
		if _, exists := conns[conn.ID()]; exists {
			return nil
		}
	}
	if r.limit > 0 && r.total >= r.limit {
		return &CapacityError{Current: r.total, Max: r.limit}
	}
	if !ok {
		conns = make(map[string]*Connection)
		r.byUser[userID] = conns
	}
	conns[conn.ID()] = conn
	r.total++
	return nil
}

// Remove deregisters conn. It reports offline=true when conn was the last
// connection of the user, in which case the user entry is gone. Removing an
// unknown connection is a no-op.
func (r *Registry) Remove(userID string, conn *Connection) (offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.byUser[userID]
	if !ok {
		return false
	}
	if _, exists := conns[conn.ID()]; !exists {
		return false
	}
	delete(conns, conn.ID())
	r.total--
	if len(conns) == 0 {
		delete(r.byUser, userID)
		return true
	}
	return false
}

// ConnectionsOf returns a snapshot of the user's live connections.
func (r *Registry) ConnectionsOf(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.byUser[userID])
}

// Has reports whether the user has at least one live connection.
func (r *Registry) Has(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// UserCount returns the number of users with at least one connection.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Limit returns the configured connection cap.
func (r *Registry) Limit() int {
	return r.limit
}
