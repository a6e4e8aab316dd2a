package websocket

import (
	"sync"
	"time"

	"lifeline/pkg/interfaces"
)

// Registry manages live guardian connections and the subscription index
// ARCHITECTURAL DISCOVERY: Pure connection state without business logic -
// authorization decides the subject set, the registry only enforces the
// invariant that index[childID] == {c | childID in c.Subjects()}
type Registry struct {
	mu            sync.RWMutex // TECHNICAL DISCOVERY: RWMutex optimizes for broadcast-heavy read patterns
	connections   map[string]interfaces.Subscriber            // connectionID -> Subscriber
	subscriptions map[string]map[string]interfaces.Subscriber // childID -> connectionID -> Subscriber
}

// NewRegistry creates a new connection registry
// FUNCTIONAL DISCOVERY: Initialize all maps to prevent nil pointer access
// during concurrent operations
func NewRegistry() *Registry {
	return &Registry{
		connections:   make(map[string]interfaces.Subscriber),
		subscriptions: make(map[string]map[string]interfaces.Subscriber),
	}
}

// Register inserts a connection into the index for every authorized subject
// atomically - a concurrent broadcast sees either the complete subject set or
// no registration at all, never a partial one
func (r *Registry) Register(conn interfaces.Subscriber) error {
	if conn == nil {
		return ErrNilConnection
	}

	// FUNCTIONAL DISCOVERY: A guardian with no linked children is still a
	// valid session - tracked for liveness, absent from the index
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ConnectionID()]; exists {
		return ErrAlreadyRegistered
	}

	r.connections[conn.ConnectionID()] = conn
	for _, childID := range conn.Subjects() {
		if r.subscriptions[childID] == nil {
			r.subscriptions[childID] = make(map[string]interfaces.Subscriber)
		}
		r.subscriptions[childID][conn.ConnectionID()] = conn
	}

	return nil
}

// Unregister removes a connection from every subject's subscriber set
// FUNCTIONAL DISCOVERY: Idempotent - most failures are not graceful, so this
// runs on close, error and sweep eviction and must tolerate repeats
func (r *Registry) Unregister(conn interfaces.Subscriber) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ConnectionID()]; !exists {
		return // Idempotent - no error if connection is already gone
	}

	delete(r.connections, conn.ConnectionID())

	// TECHNICAL DISCOVERY: Clean up empty subject sets to prevent the index
	// growing monotonically with every child that ever had a subscriber
	for _, childID := range conn.Subjects() {
		if subscribers, exists := r.subscriptions[childID]; exists {
			delete(subscribers, conn.ConnectionID())
			if len(subscribers) == 0 {
				delete(r.subscriptions, childID)
			}
		}
	}
}

// Subscribers returns a point-in-time snapshot of the authorized connections
// for a child
// ARCHITECTURAL DISCOVERY: Snapshot semantics let the broadcaster iterate and
// send without holding the registry lock across network writes
func (r *Registry) Subscribers(childID string) []interfaces.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscribers, exists := r.subscriptions[childID]
	if !exists {
		return nil
	}

	snapshot := make([]interfaces.Subscriber, 0, len(subscribers))
	for _, conn := range subscribers {
		snapshot = append(snapshot, conn)
	}
	return snapshot
}

// Connections returns a snapshot of every live connection.
func (r *Registry) Connections() []interfaces.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]interfaces.Subscriber, 0, len(r.connections))
	for _, conn := range r.connections {
		snapshot = append(snapshot, conn)
	}
	return snapshot
}

// Stale returns connections with no heartbeat or traffic inside the window
// FUNCTIONAL DISCOVERY: Guards against half-open sockets the transport layer
// never reports as closed - without this the index accumulates dead entries
func (r *Registry) Stale(window time.Duration) []interfaces.Subscriber {
	cutoff := time.Now().Add(-window)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []interfaces.Subscriber
	for _, conn := range r.connections {
		if conn.LastHeartbeat().Before(cutoff) {
			stale = append(stale, conn)
		}
	}
	return stale
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections":   len(r.connections),
		"subscribed_subjects": len(r.subscriptions),
	}
}
