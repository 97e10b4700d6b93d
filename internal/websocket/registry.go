package websocket

import "sync"

// Registry tracks attached viewers by connection id
// TECHNICAL DISCOVERY: RWMutex favors the broadcast path, which only reads
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	peak        int
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{connections: make(map[string]*Connection)}
}

// RegisterConnection adds conn
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.GetID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.GetID()] = conn
	if len(r.connections) > r.peak {
		r.peak = len(r.connections)
	}
	return nil
}

// UnregisterConnection removes conn; it is a no-op for an unknown or
// already replaced connection
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, exists := r.connections[conn.GetID()]; exists && registered == conn {
		delete(r.connections, conn.GetID())
	}
}

// GetConnection looks a viewer up by id
func (r *Registry) GetConnection(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.connections[id]
	return conn, exists
}

// All returns every attached viewer
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		connections = append(connections, conn)
	}
	return connections
}

// Count returns the number of attached viewers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// GetStats returns registry statistics for health reporting
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"total_connections": len(r.connections),
		"peak_connections":  r.peak,
	}
}
