package client

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lifeline/pkg/types"
)

var agentTestUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// alertServer is a scriptable stand-in for the alert service
type alertServer struct {
	server *httptest.Server

	mu          sync.Mutex
	connections []*websocket.Conn
	dials       int64
	lastToken   string
}

func newAlertServer(t *testing.T) *alertServer {
	t.Helper()

	as := &alertServer{}
	as.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&as.dials, 1)

		as.mu.Lock()
		as.lastToken = r.URL.Query().Get("token")
		as.mu.Unlock()

		conn, err := agentTestUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		as.mu.Lock()
		as.connections = append(as.connections, conn)
		as.mu.Unlock()

		_ = conn.WriteJSON(types.ControlMessage{Type: types.MessageTypeConnected, Message: "ok"})

		for {
			var msg types.ControlMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == types.MessageTypePing {
				_ = conn.WriteJSON(types.ControlMessage{Type: types.MessageTypePong})
			}
		}
	}))
	t.Cleanup(as.server.Close)

	return as
}

func (as *alertServer) dialCount() int64 {
	return atomic.LoadInt64(&as.dials)
}

func (as *alertServer) latestConn(t *testing.T) *websocket.Conn {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		as.mu.Lock()
		n := len(as.connections)
		var conn *websocket.Conn
		if n > 0 {
			conn = as.connections[n-1]
		}
		as.mu.Unlock()
		if conn != nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("No connection arrived at the alert server")
	return nil
}

func waitForState(t *testing.T, agent *Agent, want State) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if agent.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Agent never reached state %s (stuck at %s)", want, agent.State())
}

func TestAgent_ConnectAndReceiveAlert(t *testing.T) {
	server := newAlertServer(t)

	agent := New(Config{
		ServerURL:        server.server.URL,
		Token:            "guardian-token",
		ReconnectBackoff: 50 * time.Millisecond,
	})
	defer agent.Close()

	if err := agent.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, agent, StateConnected)

	server.mu.Lock()
	token := server.lastToken
	server.mu.Unlock()
	if token != "guardian-token" {
		t.Errorf("Credential should travel as ?token=, got %q", token)
	}

	conn := server.latestConn(t)
	alert := types.NewAlertEvent(types.ChildSnapshot{ID: "child1", Username: "emma"}, "help")
	if err := conn.WriteJSON(alert); err != nil {
		t.Fatalf("Server failed to send alert: %v", err)
	}

	select {
	case received := <-agent.Alerts():
		if received.Child.ID != "child1" {
			t.Errorf("Wrong child in alert: %s", received.Child.ID)
		}
		if received.Message != "help" {
			t.Errorf("Wrong message: %q", received.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Agent never surfaced the alert")
	}
}

func TestAgent_IgnoresUnknownMessageTypes(t *testing.T) {
	server := newAlertServer(t)

	agent := New(Config{ServerURL: server.server.URL, Token: "tok"})
	defer agent.Close()
	_ = agent.Start()
	waitForState(t, agent, StateConnected)

	conn := server.latestConn(t)
	_ = conn.WriteJSON(map[string]string{"type": "mystery"})
	_ = conn.WriteJSON(types.ControlMessage{Type: types.MessageTypePong})

	// A real alert after the noise still comes through
	_ = conn.WriteJSON(types.NewAlertEvent(types.ChildSnapshot{ID: "child1"}, ""))

	select {
	case received := <-agent.Alerts():
		if received.Child.ID != "child1" {
			t.Errorf("Wrong alert surfaced: %+v", received)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Alert lost behind unknown message types")
	}

	// Exactly one event: the unknown frames must not synthesize alerts
	select {
	case extra := <-agent.Alerts():
		t.Errorf("Unexpected extra event: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAgent_CountsDroppedAlertsWhenBufferFull(t *testing.T) {
	server := newAlertServer(t)

	agent := New(Config{ServerURL: server.server.URL, Token: "tok"})
	defer agent.Close()
	_ = agent.Start()
	waitForState(t, agent, StateConnected)

	// Nothing drains the alert channel; flood past its capacity so the
	// overflow must be dropped and counted
	const total = 120
	overflow := int64(total - cap(agent.alerts))

	conn := server.latestConn(t)
	for i := 0; i < total; i++ {
		if err := conn.WriteJSON(types.NewAlertEvent(types.ChildSnapshot{ID: "child1"}, "")); err != nil {
			t.Fatalf("Server failed to send alert %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if agent.DroppedAlerts() == overflow {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := agent.DroppedAlerts(); got != overflow {
		t.Fatalf("Expected %d dropped alerts, got %d", overflow, got)
	}

	// The buffer itself still holds a full complement of events
	buffered := 0
	for {
		select {
		case <-agent.Alerts():
			buffered++
			continue
		default:
		}
		break
	}
	if buffered != cap(agent.alerts) {
		t.Errorf("Expected %d buffered alerts, got %d", cap(agent.alerts), buffered)
	}
}

func TestAgent_ReconnectsAfterServerDrop(t *testing.T) {
	server := newAlertServer(t)

	agent := New(Config{
		ServerURL:        server.server.URL,
		Token:            "tok",
		ReconnectBackoff: 50 * time.Millisecond,
	})
	defer agent.Close()
	_ = agent.Start()
	waitForState(t, agent, StateConnected)

	// Server kills the connection; the agent must come back on its own
	conn := server.latestConn(t)
	_ = conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if server.dialCount() >= 2 && agent.State() == StateConnected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Agent did not reconnect: dials=%d state=%s", server.dialCount(), agent.State())
}

func TestAgent_SingleReconnectTimer(t *testing.T) {
	// Server is down from the start: every attempt fails immediately
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := dead.URL
	dead.Close()

	agent := New(Config{
		ServerURL:        url,
		Token:            "tok",
		ReconnectBackoff: 100 * time.Millisecond,
	})
	defer agent.Close()
	_ = agent.Start()

	// Let several backoff periods elapse while every attempt fails
	time.Sleep(500 * time.Millisecond)

	agent.mu.Lock()
	pending := agent.reconnectTimer != nil
	state := agent.state
	agent.mu.Unlock()

	if !pending {
		t.Error("A reconnect should remain scheduled while the server is down")
	}
	if state != StateDisconnected && state != StateConnecting {
		t.Errorf("Unexpected state while retrying: %s", state)
	}
}

func TestAgent_CloseStopsReconnection(t *testing.T) {
	server := newAlertServer(t)

	agent := New(Config{
		ServerURL:        server.server.URL,
		Token:            "tok",
		ReconnectBackoff: 50 * time.Millisecond,
	})
	_ = agent.Start()
	waitForState(t, agent, StateConnected)

	if err := agent.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	dialsAtClose := server.dialCount()
	time.Sleep(300 * time.Millisecond)

	if got := server.dialCount(); got != dialsAtClose {
		t.Errorf("Agent reconnected after Close: %d -> %d dials", dialsAtClose, got)
	}
	if agent.State() != StateDisconnected {
		t.Errorf("Closed agent should report disconnected, got %s", agent.State())
	}

	// Close is idempotent
	if err := agent.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
}

func TestAgent_StartAfterClose(t *testing.T) {
	agent := New(Config{ServerURL: "http://127.0.0.1:0", Token: "tok"})
	_ = agent.Close()

	if err := agent.Start(); err == nil {
		t.Error("Start after Close should fail")
	}
}

func TestAgent_PingKeepsConnectionAlive(t *testing.T) {
	server := newAlertServer(t)

	agent := New(Config{
		ServerURL:    server.server.URL,
		Token:        "tok",
		PingInterval: 50 * time.Millisecond,
	})
	defer agent.Close()
	_ = agent.Start()
	waitForState(t, agent, StateConnected)

	// The server replies pong to each ping; several cycles without a drop
	// means the heartbeat loop is running
	time.Sleep(300 * time.Millisecond)

	if agent.State() != StateConnected {
		t.Errorf("Agent should remain connected through ping cycles, got %s", agent.State())
	}
	if server.dialCount() != 1 {
		t.Errorf("Expected a single connection, got %d dials", server.dialCount())
	}
}
