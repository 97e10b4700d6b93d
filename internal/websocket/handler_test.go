package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type mockFeed struct {
	mu       sync.Mutex
	attached []*Connection
	detached chan string
	err      error
}

func newMockFeed() *mockFeed {
	return &mockFeed{detached: make(chan string, 4)}
}

func (m *mockFeed) Attach(conn *Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.attached = append(m.attached, conn)
	return conn.WriteJSON(map[string]string{"type": "welcome", "id": conn.GetID()})
}

func (m *mockFeed) Detach(conn *Connection) {
	m.detached <- conn.GetID()
}

type commandLog struct {
	mu   sync.Mutex
	cmds []Command
	err  error
	seen chan struct{}
}

func (c *commandLog) HandleCommand(cmd Command) error {
	c.mu.Lock()
	c.cmds = append(c.cmds, cmd)
	c.mu.Unlock()
	c.seen <- struct{}{}
	return c.err
}

func startHandler(t *testing.T, h *Handler) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func readJSONType(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func TestHandler_AttachesViewerAndDispatchesNavigate(t *testing.T) {
	feed := newMockFeed()
	commands := &commandLog{seen: make(chan struct{}, 4)}
	url := startHandler(t, NewHandler(feed, commands, ""))

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if msg := readJSONType(t, conn); msg["type"] != "welcome" {
		t.Fatalf("expected welcome, got %v", msg)
	}

	if err := conn.WriteJSON(Command{Type: CommandNavigate, Route: "/commander"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-commands.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("command not dispatched")
	}

	commands.mu.Lock()
	if commands.cmds[0].Route != "/commander" {
		t.Errorf("dispatched %+v", commands.cmds[0])
	}
	commands.mu.Unlock()
}

func TestHandler_RejectsInvalidCommands(t *testing.T) {
	commands := &commandLog{seen: make(chan struct{}, 4)}
	url := startHandler(t, NewHandler(newMockFeed(), commands, ""))

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	readJSONType(t, conn)

	for _, payload := range []string{`not json`, `{"type":"shutdown"}`, `{"type":"navigate"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			t.Fatal(err)
		}
		msg := readJSONType(t, conn)
		if msg["type"] != "error" {
			t.Errorf("payload %s: expected error reply, got %v", payload, msg)
		}
	}

	if len(commands.seen) != 0 {
		t.Error("invalid commands reached the handler")
	}
}

func TestHandler_ReportsCommandFailure(t *testing.T) {
	commands := &commandLog{seen: make(chan struct{}, 1), err: errors.New("route unavailable")}
	url := startHandler(t, NewHandler(newMockFeed(), commands, ""))

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	readJSONType(t, conn)

	_ = conn.WriteJSON(Command{Type: CommandNavigate, Route: "/x"})
	msg := readJSONType(t, conn)
	if msg["type"] != "error" || msg["error"] != "route unavailable" {
		t.Errorf("unexpected reply %v", msg)
	}
}

func TestHandler_ViewerKey(t *testing.T) {
	url := startHandler(t, NewHandler(newMockFeed(), nil, "s3cret"))

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without key should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %+v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url+"?key=s3cret", nil)
	if err != nil {
		t.Fatalf("dial with key failed: %v", err)
	}
	conn.Close()
}

func TestHandler_BrowserOrigins(t *testing.T) {
	h := NewHandler(newMockFeed(), nil, "")
	h.AllowOrigins([]string{"http://wall.local:3000"})
	url := startHandler(t, h)

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatal("dial from a foreign origin should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %+v", resp)
	}

	for _, header := range []http.Header{nil, {"Origin": {"http://wall.local:3000"}}} {
		conn, _, err := websocket.DefaultDialer.Dial(url, header)
		if err != nil {
			t.Fatalf("dial with origin %q failed: %v", header.Get("Origin"), err)
		}
		conn.Close()
	}
}

func TestHandler_DetachOnDisconnect(t *testing.T) {
	feed := newMockFeed()
	url := startHandler(t, NewHandler(feed, nil, ""))

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	readJSONType(t, conn)
	conn.Close()

	select {
	case id := <-feed.detached:
		if id == "" {
			t.Error("detached without id")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("viewer not detached after disconnect")
	}
}

func TestHandler_AttachFailureClosesViewer(t *testing.T) {
	feed := newMockFeed()
	feed.err = errors.New("hub not running")
	url := startHandler(t, NewHandler(feed, nil, ""))

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the server to close the viewer")
	}
}

func TestHandler_RateLimitsCommands(t *testing.T) {
	commands := &commandLog{seen: make(chan struct{}, 4)}
	h := NewHandler(newMockFeed(), commands, "")
	h.limiter = NewCommandLimiter(2, time.Minute)
	url := startHandler(t, h)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	readJSONType(t, conn)

	for i := 0; i < 3; i++ {
		if err := conn.WriteJSON(Command{Type: CommandNavigate, Route: "/hospital"}); err != nil {
			t.Fatal(err)
		}
	}
	msg := readJSONType(t, conn)
	if msg["type"] != "error" || !strings.Contains(msg["error"].(string), "rate limit") {
		t.Errorf("expected rate limit reply, got %v", msg)
	}
	if len(commands.seen) != 2 {
		t.Errorf("dispatched %d commands, want 2", len(commands.seen))
	}
}
