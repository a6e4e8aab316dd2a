package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"lifeline/pkg/types"
)

// Connection wraps one guardian's live transport session
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race
// conditions - a broadcast and a pong reply may fire at the same instant
type Connection struct {
	id        string
	conn      *websocket.Conn
	writeCh   chan []byte // FUNCTIONAL DISCOVERY: 100 buffer absorbs alert bursts without blocking the broadcaster
	principal *types.Principal
	subjects  []string // Authorized child IDs, immutable after authorization
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	mu        sync.RWMutex // Protects lastHeartbeat
	lastBeat  time.Time
}

// NewConnection creates a connection wrapper for an authorized guardian.
// The subject set is computed by the handler before registration and never
// changes for the lifetime of the connection
func NewConnection(conn *websocket.Conn, principal *types.Principal, subjects []string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:        uuid.New().String(),
		conn:      conn,
		writeCh:   make(chan []byte, 100),
		principal: principal,
		subjects:  subjects,
		ctx:       ctx,
		cancel:    cancel,
		lastBeat:  time.Now(),
	}

	// Start the single writer goroutine
	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races.
// Closure is signaled only through the context - writeCh is never closed, so
// a transport failure surfaces to senders as ErrConnectionClosed instead of a
// send on a closed channel
func (c *Connection) writeLoop() {
	defer c.cancel()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
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

// WriteJSON sends a JSON message through the single-writer channel.
// A closed or wedged connection surfaces as an error so the broadcaster can
// treat the session as dead and deregister it
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(5 * time.Second):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close tears down the transport; safe to call from any goroutine, any number
// of times
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

// ConnectionID returns the unique transport session identifier.
func (c *Connection) ConnectionID() string {
	return c.id
}

// Principal returns the authenticated guardian identity.
func (c *Connection) Principal() *types.Principal {
	return c.principal
}

// Subjects returns the authorized child ID set.
func (c *Connection) Subjects() []string {
	return c.subjects
}

// Touch records a heartbeat or application traffic.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastBeat = time.Now()
	c.mu.Unlock()
}

// LastHeartbeat returns when the connection last showed signs of life.
func (c *Connection) LastHeartbeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastBeat
}
