package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"lifeline/internal/broadcast"
	"lifeline/internal/websocket"
	"lifeline/pkg/types"
)

// Hub serializes alert broadcasts and owns the liveness sweep
// ARCHITECTURAL DISCOVERY: Single hub goroutine applies broadcasts and sweep
// evictions one at a time, so each broadcast sees a consistent registry state
// relative to the sweep - connect and disconnect serialize on the registry
// mutex, which is never held across a network send
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channel absorbs trigger bursts; the
	// result channel per request carries the delivered count back to the
	// trigger endpoint synchronously
	broadcastChannel chan *broadcastRequest
	shutdownChannel  chan struct{} // Unbuffered for immediate shutdown signaling

	registry    *websocket.Registry
	broadcaster *broadcast.Broadcaster

	sweepInterval  time.Duration
	livenessWindow time.Duration

	running bool
	mu      sync.RWMutex
}

// broadcastRequest wraps one alert with its synchronous result channel
type broadcastRequest struct {
	childID string
	child   types.ChildSnapshot
	message string
	result  chan int
}

// NewHub creates a hub over the registry and broadcaster
func NewHub(registry *websocket.Registry, broadcaster *broadcast.Broadcaster, sweepInterval, livenessWindow time.Duration) *Hub {
	return &Hub{
		broadcastChannel: make(chan *broadcastRequest, 100),
		shutdownChannel:  make(chan struct{}),
		registry:         registry,
		broadcaster:      broadcaster,
		sweepInterval:    sweepInterval,
		livenessWindow:   livenessWindow,
	}
}

// Start begins hub processing
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting alert hub...")
	go h.run(ctx)

	return nil
}

// Stop gracefully shuts down the hub
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	log.Println("Stopping alert hub...")

	// TECHNICAL DISCOVERY: Safe channel close using select to prevent panic
	select {
	case <-h.shutdownChannel:
		// Channel already closed
	default:
		close(h.shutdownChannel)
	}

	return nil
}

// Broadcast queues one alert and waits for its delivered count.
// FUNCTIONAL DISCOVERY: Synchronous result lets the trigger endpoint report
// recipientsNotified without the hub giving up its single-owner guarantee
func (h *Hub) Broadcast(ctx context.Context, childID string, child types.ChildSnapshot, message string) (int, error) {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return 0, ErrHubNotRunning
	}
	h.mu.RUnlock()

	req := &broadcastRequest{
		childID: childID,
		child:   child,
		message: message,
		result:  make(chan int, 1),
	}

	select {
	case h.broadcastChannel <- req:
	default:
		return 0, ErrBroadcastChannelFull
	}

	select {
	case count := <-req.result:
		return count, nil
	case <-h.shutdownChannel:
		return 0, ErrHubShuttingDown
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context) {
	defer log.Println("Alert hub stopped")

	// FUNCTIONAL DISCOVERY: Periodic sweep prunes half-open sockets the
	// transport never reports as closed; without it the subscription index
	// accumulates dead entries indefinitely
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case req := <-h.broadcastChannel:
			req.result <- h.broadcaster.Deliver(req.childID, req.child, req.message)

		case <-ticker.C:
			h.sweepStale()

		case <-h.shutdownChannel:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			return
		}
	}
}

// sweepStale evicts connections silent past the liveness window
func (h *Hub) sweepStale() {
	stale := h.registry.Stale(h.livenessWindow)
	for _, conn := range stale {
		log.Printf("Evicting stale connection: user=%s idle_since=%s",
			conn.Principal().Username, conn.LastHeartbeat().Format(time.RFC3339))
		h.registry.Unregister(conn)
		_ = conn.Close()
	}
}
