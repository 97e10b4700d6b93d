package websocket

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"airamed/pkg/interfaces"
)

const (
	readDeadline = 60 * time.Second
	pingInterval = 30 * time.Second
	maxReadBytes = 4096
)

// Command is a message sent by a viewer
type Command struct {
	Type  string `json:"type"`
	Route string `json:"route,omitempty"`
}

// CommandNavigate asks the daemon to move to Route
const CommandNavigate = "navigate"

// Feed attaches viewers to the broadcast stream
type Feed interface {
	Attach(conn *Connection) error
	Detach(conn *Connection)
}

// CommandHandler executes viewer commands
type CommandHandler interface {
	HandleCommand(cmd Command) error
}

// CommandHandlerFunc adapts a function to CommandHandler
type CommandHandlerFunc func(cmd Command) error

func (f CommandHandlerFunc) HandleCommand(cmd Command) error { return f(cmd) }

// Handler upgrades viewer requests and runs their read pumps
type Handler struct {
	feed      Feed
	commands  CommandHandler
	viewerKey string
	limiter   *CommandLimiter
	origins   map[string]bool
	upgrader  websocket.Upgrader
}

// NewHandler creates a handler. An empty viewerKey admits every viewer.
func NewHandler(feed Feed, commands CommandHandler, viewerKey string) *Handler {
	h := &Handler{
		feed:      feed,
		commands:  commands,
		viewerKey: viewerKey,
		limiter:   NewCommandLimiter(commandLimit, commandWindow),
		origins:   make(map[string]bool),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// AllowOrigins admits browser viewers from origins. Call before serving.
func (h *Handler) AllowOrigins(origins []string) {
	for _, origin := range origins {
		h.origins[origin] = true
	}
}

// FUNCTIONAL DISCOVERY: Viewers may navigate the daemon, so a browser page
// attaches only from a configured origin; clients without an Origin header
// are not browsers and rely on the viewer key
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || h.origins[origin]
}

// HandleWebSocket admits, upgrades and attaches one viewer
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := h.admit(r); err != nil {
		http.Error(w, "Viewer key required", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn)
	if err := h.feed.Attach(wsConn); err != nil {
		log.Printf("Failed to attach viewer %s: %v", wsConn.GetID(), err)
		_ = wsConn.Close()
		return
	}

	go h.handleConnection(wsConn)
}

func (h *Handler) admit(r *http.Request) error {
	if h.viewerKey == "" {
		return nil
	}
	key := r.URL.Query().Get("key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.viewerKey)) != 1 {
		return interfaces.ErrUnauthorized
	}
	return nil
}

// handleConnection runs the heartbeat and read pump until the viewer leaves
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.feed.Detach(conn)
		h.limiter.Forget(conn.GetID())
		_ = conn.Close()
	}()

	conn.conn.SetReadLimit(maxReadBytes)
	if err := conn.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for viewer %s: %v", conn.GetID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		cmdErr := ErrRateLimitExceeded
		if h.limiter.Allow(conn.GetID()) {
			cmdErr = h.dispatch(data)
		}
		if cmdErr != nil {
			reply := map[string]interface{}{
				"type":      "error",
				"error":     cmdErr.Error(),
				"timestamp": time.Now(),
			}
			if err := conn.WriteJSON(reply); err != nil {
				log.Printf("Failed to report command error to viewer %s: %v", conn.GetID(), err)
				return
			}
		}
	}
}

func (h *Handler) dispatch(data []byte) error {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	switch cmd.Type {
	case CommandNavigate:
		if strings.TrimSpace(cmd.Route) == "" {
			return fmt.Errorf("%w: navigate requires a route", ErrInvalidCommand)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, cmd.Type)
	}

	if h.commands == nil {
		return nil
	}
	return h.commands.HandleCommand(cmd)
}
