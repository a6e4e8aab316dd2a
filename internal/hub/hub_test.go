package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"lifeline/internal/broadcast"
	ws "lifeline/internal/websocket"
	"lifeline/pkg/types"
)

// testSubscriber is a transport-free subscriber for hub tests
type testSubscriber struct {
	id       string
	subjects []string

	mu        sync.Mutex
	delivered int
	closed    bool
	lastBeat  time.Time
}

func newTestSubscriber(id string, subjects []string) *testSubscriber {
	return &testSubscriber{id: id, subjects: subjects, lastBeat: time.Now()}
}

func (s *testSubscriber) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered++
	return nil
}

func (s *testSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *testSubscriber) ConnectionID() string { return s.id }
func (s *testSubscriber) Principal() *types.Principal {
	return &types.Principal{ID: s.id, Username: s.id, Role: types.RoleParent}
}
func (s *testSubscriber) Subjects() []string { return s.subjects }
func (s *testSubscriber) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBeat
}
func (s *testSubscriber) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBeat = time.Now()
}

func (s *testSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *testSubscriber) setLastBeat(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBeat = t
}

func newTestHub(sweepInterval, livenessWindow time.Duration) (*Hub, *ws.Registry) {
	registry := ws.NewRegistry()
	broadcaster := broadcast.NewBroadcaster(registry)
	return NewHub(registry, broadcaster, sweepInterval, livenessWindow), registry
}

func TestHub_StartStopLifecycle(t *testing.T) {
	hub, _ := newTestHub(time.Minute, 90*time.Second)

	ctx := context.Background()
	if err := hub.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := hub.Start(ctx); err != ErrHubAlreadyRunning {
		t.Errorf("Expected ErrHubAlreadyRunning on double start, got %v", err)
	}

	if err := hub.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	if err := hub.Stop(); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning on double stop, got %v", err)
	}
}

func TestHub_BroadcastBeforeStart(t *testing.T) {
	hub, _ := newTestHub(time.Minute, 90*time.Second)

	_, err := hub.Broadcast(context.Background(), "child1", types.ChildSnapshot{ID: "child1"}, "")
	if err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
}

func TestHub_BroadcastReturnsDeliveredCount(t *testing.T) {
	hub, registry := newTestHub(time.Minute, 90*time.Second)

	sub1 := newTestSubscriber("conn1", []string{"child1"})
	sub2 := newTestSubscriber("conn2", []string{"child1"})
	unrelated := newTestSubscriber("conn3", []string{"child2"})
	_ = registry.Register(sub1)
	_ = registry.Register(sub2)
	_ = registry.Register(unrelated)

	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = hub.Stop() }()

	count, err := hub.Broadcast(context.Background(), "child1", types.ChildSnapshot{ID: "child1"}, "help")
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected delivered count 2, got %d", count)
	}
}

func TestHub_BroadcastZeroSubscribers(t *testing.T) {
	hub, _ := newTestHub(time.Minute, 90*time.Second)

	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = hub.Stop() }()

	count, err := hub.Broadcast(context.Background(), "child1", types.ChildSnapshot{ID: "child1"}, "")
	if err != nil {
		t.Fatalf("Broadcast with no subscribers must not error, got %v", err)
	}
	if count != 0 {
		t.Errorf("Expected delivered count 0, got %d", count)
	}
}

func TestHub_BroadcastAfterStop(t *testing.T) {
	hub, _ := newTestHub(time.Minute, 90*time.Second)

	_ = hub.Start(context.Background())
	_ = hub.Stop()

	_, err := hub.Broadcast(context.Background(), "child1", types.ChildSnapshot{ID: "child1"}, "")
	if err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning after stop, got %v", err)
	}
}

func TestHub_BroadcastContextCancellation(t *testing.T) {
	hub, _ := newTestHub(time.Minute, 90*time.Second)

	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = hub.Stop() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled context must not hang the caller even if the result never
	// arrives before the cancellation is observed
	_, err := hub.Broadcast(ctx, "child1", types.ChildSnapshot{ID: "child1"}, "")
	if err != nil && err != context.Canceled {
		t.Errorf("Expected nil or context.Canceled, got %v", err)
	}
}

func TestHub_SweepEvictsStaleConnections(t *testing.T) {
	hub, registry := newTestHub(20*time.Millisecond, 50*time.Millisecond)

	fresh := newTestSubscriber("fresh", []string{"child1"})
	stale := newTestSubscriber("stale", []string{"child1"})
	stale.setLastBeat(time.Now().Add(-time.Minute))

	_ = registry.Register(fresh)
	_ = registry.Register(stale)

	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = hub.Stop() }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if stale.isClosed() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !stale.isClosed() {
		t.Fatal("Stale connection should have been evicted by the sweep")
	}
	if fresh.isClosed() {
		t.Error("Fresh connection should survive the sweep")
	}
	if got := registry.Subscribers("child1"); len(got) != 1 {
		t.Errorf("Expected 1 remaining subscriber after sweep, got %d", len(got))
	}
}

func TestHub_ConcurrentBroadcasts(t *testing.T) {
	hub, registry := newTestHub(time.Minute, 90*time.Second)

	sub := newTestSubscriber("conn1", []string{"child1"})
	_ = registry.Register(sub)

	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = hub.Stop() }()

	const numBroadcasts = 20
	var wg sync.WaitGroup
	wg.Add(numBroadcasts)

	for i := 0; i < numBroadcasts; i++ {
		go func() {
			defer wg.Done()
			count, err := hub.Broadcast(context.Background(), "child1", types.ChildSnapshot{ID: "child1"}, "")
			if err != nil {
				t.Errorf("Concurrent broadcast failed: %v", err)
				return
			}
			if count != 1 {
				t.Errorf("Expected count 1, got %d", count)
			}
		}()
	}

	wg.Wait()
}
