package interfaces

import (
	"time"

	"lifeline/pkg/types"
)

// Subscriber represents a live guardian channel interface
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and alert logic
type Subscriber interface {
	// WriteJSON sends a JSON message to the guardian (thread-safe)
	// FUNCTIONAL DISCOVERY: Thread-safety requirement documented in interface
	// to ensure all implementations use single-writer pattern to prevent races
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error

	// ConnectionID returns the unique identifier of this transport session
	ConnectionID() string

	// Principal returns the authenticated guardian identity
	Principal() *types.Principal

	// Subjects returns the child IDs this connection is authorized for.
	// TECHNICAL DISCOVERY: Computed once during authorization and immutable
	// afterwards - re-authorization requires a reconnect
	Subjects() []string

	// LastHeartbeat returns when the connection last showed signs of life
	LastHeartbeat() time.Time

	// Touch records application traffic or a heartbeat ping
	Touch()
}
