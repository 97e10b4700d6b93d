package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeBuffer  = 100
	writeTimeout = 5 * time.Second
)

// Connection implements the interfaces.Connection interface for one viewer
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so every
// frame goes through writeCh to a single writer goroutine
type Connection struct {
	conn        *websocket.Conn
	writeCh     chan []byte
	id          string
	remoteAddr  string
	connectedAt time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	closeOnce   sync.Once
}

// NewConnection wraps conn and starts its writer
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:        conn,
		writeCh:     make(chan []byte, writeBuffer),
		id:          uuid.NewString(),
		connectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}
	if conn != nil {
		c.remoteAddr = conn.RemoteAddr().String()
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	// writeCh is never closed; senders select on ctx instead
	defer c.cancel()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v, waiting up to the write timeout for buffer space
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := c.encode(v)
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Send queues v without waiting; a full buffer means the viewer fell behind
func (c *Connection) Send(v interface{}) error {
	data, err := c.encode(v)
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrWriteBufferFull
	}
}

func (c *Connection) encode(v interface{}) ([]byte, error) {
	select {
	case <-c.ctx.Done():
		return nil, ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, ErrInvalidJSON
	}
	return data, nil
}

// Close stops the writer and closes the socket; safe to call repeatedly
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection stops writing
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) GetID() string { return c.id }

func (c *Connection) RemoteAddr() string { return c.remoteAddr }

func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }
