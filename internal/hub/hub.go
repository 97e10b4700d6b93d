package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"airamed/internal/websocket"
	"airamed/pkg/interfaces"
	"airamed/pkg/types"
)

// Envelope types pushed to viewers
const (
	TypeFrame      = "frame"
	TypeNavigation = "navigation"
	TypeSession    = "session"
)

// Envelope is one message on the viewer feed
type Envelope struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// SessionNotice is the viewer-safe projection of a session transition
type SessionNotice struct {
	Kind       types.SessionEventKind `json:"kind"`
	Reason     string                 `json:"reason,omitempty"`
	Role       types.Role             `json:"role,omitempty"`
	FacilityID string                 `json:"facility_id,omitempty"`
}

// Hub fans derived state out to every attached viewer
// ARCHITECTURAL DISCOVERY: A single goroutine owns delivery, so frames reach
// each viewer in publication order and registration never races a broadcast
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channels keep publishers (pollers, the
	// navigator) from ever blocking on slow viewers
	broadcastChannel  chan Envelope
	registerChannel   chan *websocket.Connection
	unregisterChannel chan *websocket.Connection
	shutdownChannel   chan struct{}

	registry *websocket.Registry

	latestMu    sync.RWMutex
	latestFrame *types.Frame

	dropped uint64
	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub over registry
func NewHub(registry *websocket.Registry) *Hub {
	return &Hub{
		broadcastChannel:  make(chan Envelope, 1000),
		registerChannel:   make(chan *websocket.Connection, 100),
		unregisterChannel: make(chan *websocket.Connection, 100),
		shutdownChannel:   make(chan struct{}),
		registry:          registry,
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

	log.Println("Starting viewer hub...")
	go h.run(ctx)
	return nil
}

// Stop shuts the hub down and closes every viewer
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	log.Println("Stopping viewer hub...")
	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	return nil
}

// IsRunning reports whether the hub loop is accepting work
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// PublishFrame records frame as the latest view state and broadcasts it
func (h *Hub) PublishFrame(frame types.Frame) {
	h.latestMu.Lock()
	copied := frame
	h.latestFrame = &copied
	h.latestMu.Unlock()

	h.enqueue(Envelope{Type: TypeFrame, Payload: frame, Timestamp: time.Now()})
}

// PublishNavigation broadcasts a route change
func (h *Hub) PublishNavigation(nav interfaces.Navigation) {
	h.enqueue(Envelope{Type: TypeNavigation, Payload: nav, Timestamp: time.Now()})
}

// PublishSession broadcasts a session transition without its credential
func (h *Hub) PublishSession(event types.SessionEvent) {
	notice := SessionNotice{
		Kind:       event.Kind,
		Reason:     event.Reason,
		Role:       event.Session.Role,
		FacilityID: event.Session.FacilityID,
	}
	h.enqueue(Envelope{Type: TypeSession, Payload: notice, Timestamp: time.Now()})
}

func (h *Hub) enqueue(env Envelope) {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return
	}

	select {
	case h.broadcastChannel <- env:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		log.Printf("Hub: broadcast channel full, dropping %s", env.Type)
	}
}

// LatestFrame returns the most recently published frame
func (h *Hub) LatestFrame() (types.Frame, bool) {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	if h.latestFrame == nil {
		return types.Frame{}, false
	}
	return *h.latestFrame, true
}

// Attach queues a viewer for registration
func (h *Hub) Attach(conn *websocket.Connection) error {
	if !h.IsRunning() {
		return ErrHubNotRunning
	}
	select {
	case h.registerChannel <- conn:
		return nil
	default:
		return ErrRegisterChannelFull
	}
}

// Detach queues a viewer for removal
func (h *Hub) Detach(conn *websocket.Connection) {
	if !h.IsRunning() {
		h.registry.UnregisterConnection(conn)
		return
	}
	select {
	case h.unregisterChannel <- conn:
	default:
		// Removal must not be lost; the registry is safe to touch directly
		h.registry.UnregisterConnection(conn)
	}
}

// Stats reports viewer counts for health checks
func (h *Hub) Stats() map[string]int {
	stats := h.registry.GetStats()
	h.mu.RLock()
	stats["dropped_broadcasts"] = int(h.dropped)
	h.mu.RUnlock()
	return stats
}

// run is the hub processing loop
// TECHNICAL DISCOVERY: Single select loop handles all coordination
func (h *Hub) run(ctx context.Context) {
	defer log.Println("Hub processing stopped")
	defer h.closeAll()

	for {
		select {
		case env := <-h.broadcastChannel:
			h.broadcast(env)

		case conn := <-h.registerChannel:
			h.handleRegistration(conn)

		case conn := <-h.unregisterChannel:
			h.registry.UnregisterConnection(conn)
			log.Printf("Viewer detached: %s", conn.GetID())

		case <-h.shutdownChannel:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			return
		}
	}
}

func (h *Hub) broadcast(env Envelope) {
	for _, conn := range h.registry.All() {
		if err := conn.Send(env); err != nil {
			// FUNCTIONAL DISCOVERY: A viewer that cannot keep up is dropped
			// rather than stalling every other viewer
			log.Printf("Dropping viewer %s: %v", conn.GetID(), err)
			h.registry.UnregisterConnection(conn)
			_ = conn.Close()
		}
	}
}

// handleRegistration adds a viewer and replays the latest frame to it
func (h *Hub) handleRegistration(conn *websocket.Connection) {
	if conn == nil {
		log.Printf("Attempted to register nil viewer")
		return
	}

	if err := h.registry.RegisterConnection(conn); err != nil {
		log.Printf("Viewer registration failed for %s: %v", conn.GetID(), err)
		_ = conn.Close()
		return
	}
	log.Printf("Viewer attached: %s from %s", conn.GetID(), conn.RemoteAddr())

	if frame, ok := h.LatestFrame(); ok {
		if err := conn.Send(Envelope{Type: TypeFrame, Payload: frame, Timestamp: time.Now()}); err != nil {
			log.Printf("Failed to replay latest frame to %s: %v", conn.GetID(), err)
		}
	}
}

func (h *Hub) closeAll() {
	for _, conn := range h.registry.All() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
	}
}
