package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"airamed/internal/poller"
	"airamed/pkg/types"
)

// ChatData is the chat panel's part of a frame
type ChatData struct {
	Messages []types.ChatMessage `json:"messages"`
	Error    string              `json:"error,omitempty"`
}

// chatPanel polls the shared network chat for its owning view
type chatPanel struct {
	api      CapacityAPI
	onChange func()

	mu       sync.Mutex
	messages []types.ChatMessage
	err      string
	handle   *poller.Handle
}

func newChatPanel(api CapacityAPI, onChange func()) *chatPanel {
	return &chatPanel{api: api, onChange: onChange}
}

func (c *chatPanel) start(s *poller.Synchronizer, owner string, interval time.Duration) {
	handle := poller.Start(s, owner+".chat", interval, c.api.ChatMessages, func(r poller.Result[[]types.ChatMessage]) {
		c.mu.Lock()
		if r.Err != nil {
			log.Printf("Chat: poll #%d failed: %v", r.Seq, r.Err)
			c.err = errorText(r.Err)
		} else {
			c.messages = r.Value
			c.err = ""
		}
		c.mu.Unlock()
		c.onChange()
	})

	c.mu.Lock()
	c.handle = handle
	c.mu.Unlock()
}

func (c *chatPanel) stop() {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()
	if handle != nil {
		handle.Stop()
	}
}

func (c *chatPanel) data() *ChatData {
	c.mu.Lock()
	defer c.mu.Unlock()
	messages := make([]types.ChatMessage, len(c.messages))
	copy(messages, c.messages)
	return &ChatData{Messages: messages, Error: c.err}
}

// send rejects blank messages before anything leaves the process
func (c *chatPanel) send(ctx context.Context, message string) error {
	req := types.ChatSendRequest{Message: message}
	if err := req.Validate(); err != nil {
		return err
	}
	return c.api.SendChat(ctx, req.Message)
}
