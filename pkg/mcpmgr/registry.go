package mcpmgr

import "sync"

// ServerConnection is a live connection owned by the Registry.
type ServerConnection struct {
	Name string
	// Handle is the opaque connection used for tools/list and tools/call.
	Handle Connection
	// Initialized reports whether the connection completed the MCP handshake.
	Initialized bool
}

// Registry maps server names to live connections. It is the single source of
// truth for whether a server is up. Removed entries are returned to the
// caller, who must close them.
type Registry struct {
	mu    sync.RWMutex
	order []string
	conns map[string]*ServerConnection
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*ServerConnection)}
}

// Add installs conn under name and returns the entry it replaced, if any.
func (r *Registry) Add(name string, conn *ServerConnection) *ServerConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.conns[name]
	if !ok {
		r.order = append(r.order, name)
	}
	r.conns[name] = conn
	return prev
}

// Remove deletes name and returns its entry. Missing names are not an error.
func (r *Registry) Remove(name string) (*ServerConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(name)
}

// RemoveIf deletes name only while it still maps to conn.
func (r *Registry) RemoveIf(name string, conn *ServerConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[name]; !ok || cur != conn {
		return false
	}
	r.removeLocked(name)
	return true
}

func (r *Registry) removeLocked(name string) (*ServerConnection, bool) {
	conn, ok := r.conns[name]
	if !ok {
		return nil, false
	}
	delete(r.conns, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return conn, true
}

// Get returns the entry for name.
func (r *Registry) Get(name string) (*ServerConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[name]
	return conn, ok
}

// Names returns the connected server names in insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Snapshot returns the current entries in insertion order.
func (r *Registry) Snapshot() []*ServerConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ServerConnection, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.conns[name])
	}
	return out
}

// Len reports how many servers are connected.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
