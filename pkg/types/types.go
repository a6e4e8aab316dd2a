package types

import (
	"time"
)

// Role constants defined exactly as stored in the user directory
// to ensure compatibility with authorization logic across the system
const (
	RoleChild   = "child"
	RoleParent  = "parent"
	RoleTeacher = "teacher"
)

// Wire message type constants for the subscriber channel
// ARCHITECTURAL DISCOVERY: Discriminated payloads with a single "type" field
// keep browser clients trivial - they switch on one string and ignore the rest
const (
	MessageTypeConnected = "connected"
	MessageTypeSOSAlert  = "SOS_ALERT"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
)

// Principal represents an authenticated identity in the user directory
// FUNCTIONAL DISCOVERY: Principal is immutable after creation except for links,
// which are owned by the directory - the alert core only ever reads it
type Principal struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	FullName     string    `json:"fullName" db:"full_name"`
	Role         string    `json:"role" db:"role"`
	PasswordHash string    `json:"-" db:"password_hash"` // Never serialized
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// IsGuardian reports whether the principal may subscribe to alerts.
func (p *Principal) IsGuardian() bool {
	return p.Role == RoleParent || p.Role == RoleTeacher
}

// ChildSnapshot carries only display-safe child fields over the wire
// FUNCTIONAL DISCOVERY: Snapshot taken at trigger time so guardians see
// who needs help even if the directory record changes mid-broadcast
type ChildSnapshot struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

// Snapshot extracts the display-safe fields from a principal.
func (p *Principal) Snapshot() ChildSnapshot {
	return ChildSnapshot{
		ID:       p.ID,
		Username: p.Username,
		Email:    p.Email,
		FullName: p.FullName,
	}
}

// AlertEvent is the subscriber-bound SOS payload
// ARCHITECTURAL DISCOVERY: Ephemeral value - exists only for the duration of
// one broadcast call and is never persisted or queued for offline recipients
type AlertEvent struct {
	Type      string        `json:"type"`
	Timestamp string        `json:"timestamp"` // RFC3339 / ISO-8601
	Child     ChildSnapshot `json:"child"`
	Message   string        `json:"message"`
	Urgent    bool          `json:"urgent"`
}

// DefaultAlertMessage is sent when the child triggers without free text.
const DefaultAlertMessage = "A child has triggered an SOS alert and needs immediate help."

// NewAlertEvent builds the wire payload for one broadcast.
func NewAlertEvent(child ChildSnapshot, message string) *AlertEvent {
	if message == "" {
		message = DefaultAlertMessage
	}
	return &AlertEvent{
		Type:      MessageTypeSOSAlert,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Child:     child,
		Message:   message,
		Urgent:    true,
	}
}

// ControlMessage covers the non-alert wire messages (connected, ping, pong)
type ControlMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// ChatLog is one stored conversation entry; Payload is the hex-encoded
// encryption envelope, never plaintext
type ChatLog struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	Payload   string    `json:"-" db:"payload"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
