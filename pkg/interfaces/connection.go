package interfaces

// Connection represents a viewer attached to the live feed
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// keeps the hub independent of the WebSocket library
type Connection interface {
	// WriteJSON queues a JSON message for the viewer (thread-safe)
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error

	// GetID returns the viewer connection identifier
	GetID() string
}
