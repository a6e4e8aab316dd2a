package broadcast

import (
	"log"

	"lifeline/internal/websocket"
	"lifeline/pkg/types"
)

// Broadcaster fans one AlertEvent out to every live authorized connection
// ARCHITECTURAL DISCOVERY: Delivery is best-effort and at-most-once per
// currently connected subscriber - no acknowledgment, no retry, no queue,
// and nothing for guardians who connect after the broadcast completes
type Broadcaster struct {
	registry *websocket.Registry
}

// NewBroadcaster creates a broadcaster over the given registry
func NewBroadcaster(registry *websocket.Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// Deliver sends an alert for the child to all current subscribers and
// returns the number of successful sends.
// FUNCTIONAL DISCOVERY: An empty subscriber set returns 0 without error -
// "nobody was listening" is an expected outcome, not a failure
func (b *Broadcaster) Deliver(childID string, child types.ChildSnapshot, message string) int {
	// Point-in-time snapshot tolerates concurrent registration and
	// deregistration during iteration
	subscribers := b.registry.Subscribers(childID)
	if len(subscribers) == 0 {
		log.Printf("No subscribers for child %s", childID)
		return 0
	}

	alert := types.NewAlertEvent(child, message)

	sentCount := 0
	for _, conn := range subscribers {
		if err := conn.WriteJSON(alert); err != nil {
			// TECHNICAL DISCOVERY: A failed send means the transport is dead -
			// deregister immediately rather than retrying into a black hole
			log.Printf("Error sending SOS alert to %s: %v", conn.ConnectionID(), err)
			b.registry.Unregister(conn)
			_ = conn.Close()
			continue
		}
		sentCount++
	}

	log.Printf("SOS alert sent to %d subscribers for child %s", sentCount, childID)
	return sentCount
}
