package client

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"lifeline/pkg/types"
)

// State of the subscriber-side connection machine:
// disconnected -> connecting -> connected -> (heartbeat loop) -> disconnected
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Config controls the reconnection agent
// FUNCTIONAL DISCOVERY: Backoff is an explicit, testable parameter rather
// than a hardcoded constant - retries are unlimited by design, acceptable
// for a safety-critical UI that must come back on its own
type Config struct {
	ServerURL        string        // http(s) base URL of the alert service
	Token            string        // bearer credential for the handshake
	PingInterval     time.Duration // default 30s
	ReconnectBackoff time.Duration // default 3s, fixed (no exponential growth)
}

// Agent maintains a guardian's subscription to the alert channel, surfacing
// exactly one event per received alert and reconnecting automatically
// ARCHITECTURAL DISCOVERY: Connection errors never surface as failures -
// the UI only ever observes the state transitions and the alert stream
type Agent struct {
	config  Config
	alerts  chan *types.AlertEvent
	dropped int64 // Alerts lost to a full buffer, read atomically

	mu             sync.Mutex
	conn           *websocket.Conn
	state          State
	reconnectTimer *time.Timer // Non-nil while exactly one reconnect is pending
	closed         bool
}

// New creates an agent; Start must be called to begin connecting.
func New(config Config) *Agent {
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.ReconnectBackoff <= 0 {
		config.ReconnectBackoff = 3 * time.Second
	}
	return &Agent{
		config: config,
		alerts: make(chan *types.AlertEvent, 100),
		state:  StateDisconnected,
	}
}

// Alerts returns the stream of received SOS alerts.
func (a *Agent) Alerts() <-chan *types.AlertEvent {
	return a.alerts
}

// DroppedAlerts reports how many alerts were discarded because the buffer
// was full. A nonzero value means the consumer fell behind.
func (a *Agent) DroppedAlerts() int64 {
	return atomic.LoadInt64(&a.dropped)
}

// State returns the current connection state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start begins the connect loop. A failed first attempt is not an error -
// the agent schedules a retry exactly like any later disconnection
func (a *Agent) Start() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("agent is closed")
	}
	a.mu.Unlock()

	a.connect()
	return nil
}

// Close deliberately stops the machine; no reconnect is scheduled after.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.state = StateDisconnected

	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
		a.reconnectTimer = nil
	}
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	return nil
}

// connect performs one connection attempt
func (a *Agent) connect() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.state = StateConnecting
	a.mu.Unlock()

	wsURL, err := a.buildURL()
	if err != nil {
		log.Printf("Invalid alert server URL: %v", err)
		a.scheduleReconnect()
		return
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		log.Printf("Alert channel connect failed: %v", err)
		a.scheduleReconnect()
		return
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = conn.Close()
		return
	}
	a.conn = conn
	a.state = StateConnected
	a.mu.Unlock()

	log.Println("Alert channel connected")

	go a.readLoop(conn)
	go a.pingLoop(conn)
}

// buildURL switches the scheme and attaches the credential as ?token=
// because browser-parity clients cannot set headers on the upgrade request
func (a *Agent) buildURL() (string, error) {
	u, err := url.Parse(a.config.ServerURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/alerts"
	query := u.Query()
	query.Set("token", a.config.Token)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// readLoop surfaces alerts until the connection drops
func (a *Agent) readLoop(conn *websocket.Conn) {
	defer a.handleDisconnect(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue // Malformed frames are ignored
		}

		switch envelope.Type {
		case types.MessageTypeSOSAlert:
			var alert types.AlertEvent
			if err := json.Unmarshal(data, &alert); err != nil {
				continue
			}
			// FUNCTIONAL DISCOVERY: Exactly one UI event per received alert;
			// if the consumer is hopelessly behind the alert is dropped
			// rather than wedging the read loop, and the loss is counted so
			// the UI can surface it
			select {
			case a.alerts <- &alert:
			default:
				atomic.AddInt64(&a.dropped, 1)
				log.Println("Alert buffer full, dropping SOS alert")
			}

		case types.MessageTypeConnected:
			var msg types.ControlMessage
			if err := json.Unmarshal(data, &msg); err == nil {
				log.Printf("Alert channel: %s", msg.Message)
			}

		case types.MessageTypePong:
			// Keepalive response

		default:
			// Unrecognized message types are ignored, not errors
		}
	}
}

// pingLoop sends a heartbeat on the fixed interval while connected
func (a *Agent) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(a.config.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		a.mu.Lock()
		current := a.conn
		a.mu.Unlock()
		if current != conn {
			return // This connection is gone; its replacement has its own loop
		}

		ping, _ := json.Marshal(types.ControlMessage{Type: types.MessageTypePing})
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
			return // Read loop observes the same failure and handles reconnect
		}
	}
}

// handleDisconnect tears down one connection and schedules the retry
func (a *Agent) handleDisconnect(conn *websocket.Conn) {
	_ = conn.Close()

	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
		a.state = StateDisconnected
	}
	closed := a.closed
	a.mu.Unlock()

	if !closed {
		log.Println("Alert channel disconnected")
		a.scheduleReconnect()
	}
}

// scheduleReconnect arms at most one pending reconnect timer
// TECHNICAL DISCOVERY: Both the read loop and a failed dial can race here;
// the timer guard ensures a single attempt per backoff period no matter how
// many paths report the same failure
func (a *Agent) scheduleReconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.reconnectTimer != nil {
		return
	}
	a.state = StateDisconnected
	a.reconnectTimer = time.AfterFunc(a.config.ReconnectBackoff, func() {
		a.mu.Lock()
		a.reconnectTimer = nil
		a.mu.Unlock()
		a.connect()
	})
}
