package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"lifeline/internal/auth"
	"lifeline/pkg/interfaces"
	"lifeline/pkg/types"
)

// WebSocket upgrader with production-ready settings
// ARCHITECTURAL DISCOVERY: Separate upgrader configuration enables reuse
// and consistent WebSocket settings across different handler instances
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: Allow all origins for development
		// Production deployments should implement stricter origin checking
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler turns an inbound handshake into a registered guardian connection
// State machine: CONNECTING -> AUTHENTICATING -> SUBSCRIBED -> ALIVE -> CLOSED,
// where CLOSED always runs full deregistration
type Handler struct {
	registry       *Registry
	verifier       interfaces.TokenVerifier
	directory      interfaces.Directory
	livenessWindow time.Duration
}

// NewHandler creates a WebSocket handler with dependency injection
func NewHandler(registry *Registry, verifier interfaces.TokenVerifier, directory interfaces.Directory, livenessWindow time.Duration) *Handler {
	return &Handler{
		registry:       registry,
		verifier:       verifier,
		directory:      directory,
		livenessWindow: livenessWindow,
	}
}

// HandleAlerts handles guardian subscription requests on /ws/alerts
// FUNCTIONAL DISCOVERY: Credential travels as ?token= because browser
// WebSocket clients cannot attach custom headers to the upgrade request;
// the Authorization header is honored for non-browser clients
func (h *Handler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.ExtractBearerToken(r.Header.Get("Authorization"))
	}

	// Unauthenticated: refuse before the upgrade completes
	if token == "" {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// ARCHITECTURAL DISCOVERY: Authentication after upgrade mirrors the
	// handshake contract - failures past this point close with the 1008
	// policy-violation code and never leave a partial registration
	principal, err := h.verifier.VerifyToken(r.Context(), token)
	if err != nil {
		switch err {
		case auth.ErrUnknownPrincipal:
			closePolicyViolation(conn, "User not found")
		default:
			closePolicyViolation(conn, "Authentication failed")
		}
		return
	}

	// RoleNotPermitted: a child cannot subscribe to its own alert channel
	if !principal.IsGuardian() {
		closePolicyViolation(conn, "Only parents and teachers can subscribe to SOS alerts")
		return
	}

	subjects, err := h.computeSubjects(r.Context(), principal)
	if err != nil {
		log.Printf("Failed to compute authorized subjects for %s: %v", principal.ID, err)
		closePolicyViolation(conn, "Authorization failed")
		return
	}

	wsConn := NewConnection(conn, principal, subjects)

	// Registration is atomic with respect to concurrent broadcasts reading
	// the subscription index
	if err := h.registry.Register(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}

	// Confirmation sent once, immediately after successful registration
	confirmation := types.ControlMessage{
		Type:    types.MessageTypeConnected,
		Message: "Successfully connected to SOS alert system",
	}
	if err := wsConn.WriteJSON(confirmation); err != nil {
		log.Printf("Failed to send connected confirmation: %v", err)
		h.registry.Unregister(wsConn)
		_ = wsConn.Close()
		return
	}

	log.Printf("Guardian connected to SOS alerts: user=%s role=%s subjects=%d",
		principal.Username, principal.Role, len(subjects))

	go h.readLoop(wsConn)
}

// computeSubjects resolves the authorized child set for a guardian
// FUNCTIONAL DISCOVERY: Teacher scope is a connect-time snapshot of all
// children - ones registered afterward require a reconnect to appear.
// Recomputing per broadcast was considered and rejected; see DESIGN.md
func (h *Handler) computeSubjects(ctx context.Context, principal *types.Principal) ([]string, error) {
	switch principal.Role {
	case types.RoleTeacher:
		children, err := h.directory.ListUsersByRole(ctx, types.RoleChild)
		if err != nil {
			return nil, err
		}
		subjects := make([]string, 0, len(children))
		for _, child := range children {
			subjects = append(subjects, child.ID)
		}
		return subjects, nil

	default: // parent
		linked, err := h.directory.LinkedAccounts(ctx, principal.ID)
		if err != nil {
			return nil, err
		}
		var subjects []string
		for _, account := range linked {
			if account.Role == types.RoleChild {
				subjects = append(subjects, account.ID)
			}
		}
		return subjects, nil
	}
}

// readLoop manages the connection lifecycle until close, error or eviction
// ARCHITECTURAL DISCOVERY: Single goroutine per connection handles heartbeat
// replies and reading; deferred cleanup guarantees deregistration on every
// exit path, not only graceful close
func (h *Handler) readLoop(conn *Connection) {
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
		log.Printf("Guardian disconnected from SOS alerts: user=%s", conn.Principal().Username)
	}()

	// TECHNICAL DISCOVERY: Read deadline set to the liveness window so the
	// read loop unblocks itself even when the sweep has not run yet
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.livenessWindow)); err != nil {
		return
	}

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		// Any inbound traffic counts as liveness
		conn.Touch()
		if err := conn.conn.SetReadDeadline(time.Now().Add(h.livenessWindow)); err != nil {
			return
		}

		var msg types.ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // Malformed frames are ignored, not fatal
		}

		// FUNCTIONAL DISCOVERY: Application-level ping/pong instead of
		// WebSocket control frames - browser clients cannot observe control
		// frames, so keepalive must ride the message stream
		if msg.Type == types.MessageTypePing {
			pong := types.ControlMessage{Type: types.MessageTypePong}
			if err := conn.WriteJSON(pong); err != nil {
				return
			}
		}
		// Unrecognized message types are ignored, not errors
	}
}

func closePolicyViolation(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
