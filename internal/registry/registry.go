// Package registry tracks live per-account connections. It is an explicit
// object passed into whatever needs connection lookup; there is no
// process-global state.
package registry

import "sync"

// Connection is the handle the registry holds for a running account.
type Connection interface {
	AccountID() string
	State() string
	Stop() error
}

// Registry maps account id to its single live connection. Each account has
// at most one slot; Acquire enforces the exclusivity.
type Registry struct {
	mu    sync.Mutex
	conns map[string]Connection
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[string]Connection)}
}

// Acquire claims the slot for conn's account. Returns false when the slot
// is already held, leaving the existing connection in place.
func (r *Registry) Acquire(conn Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.conns[conn.AccountID()]; held {
		return false
	}
	r.conns[conn.AccountID()] = conn
	return true
}

// Release frees the slot, but only when it is still held by conn. A stale
// handle releasing after a restart must not evict the replacement.
func (r *Registry) Release(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if held, ok := r.conns[conn.AccountID()]; ok && held == conn {
		delete(r.conns, conn.AccountID())
	}
}

// Get returns the live connection for an account, if any.
func (r *Registry) Get(accountID string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[accountID]
	return conn, ok
}

// List returns all live connections.
func (r *Registry) List() []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
