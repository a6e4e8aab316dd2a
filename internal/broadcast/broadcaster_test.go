package broadcast

import (
	"sync"
	"testing"
	"time"

	ws "lifeline/internal/websocket"
	"lifeline/pkg/types"
)

// stubSubscriber records delivered alerts and can simulate a dead transport
type stubSubscriber struct {
	id       string
	subjects []string

	mu        sync.Mutex
	delivered []*types.AlertEvent
	failWrite bool
	closed    bool
}

func (s *stubSubscriber) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return ws.ErrConnectionClosed
	}
	if alert, ok := v.(*types.AlertEvent); ok {
		s.delivered = append(s.delivered, alert)
	}
	return nil
}

func (s *stubSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSubscriber) ConnectionID() string { return s.id }
func (s *stubSubscriber) Principal() *types.Principal {
	return &types.Principal{ID: s.id, Username: s.id, Role: types.RoleParent}
}
func (s *stubSubscriber) Subjects() []string       { return s.subjects }
func (s *stubSubscriber) LastHeartbeat() time.Time { return time.Now() }
func (s *stubSubscriber) Touch()                   {}

func (s *stubSubscriber) deliveredAlerts() []*types.AlertEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.AlertEvent(nil), s.delivered...)
}

func (s *stubSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestBroadcaster_DeliverToAllSubscribers(t *testing.T) {
	registry := ws.NewRegistry()
	broadcaster := NewBroadcaster(registry)

	sub1 := &stubSubscriber{id: "conn1", subjects: []string{"child1"}}
	sub2 := &stubSubscriber{id: "conn2", subjects: []string{"child1"}}
	other := &stubSubscriber{id: "conn3", subjects: []string{"child2"}}

	_ = registry.Register(sub1)
	_ = registry.Register(sub2)
	_ = registry.Register(other)

	child := types.ChildSnapshot{ID: "child1", Username: "emma", FullName: "Emma Test"}
	count := broadcaster.Deliver("child1", child, "Help me")

	if count != 2 {
		t.Errorf("Expected 2 deliveries, got %d", count)
	}

	for _, sub := range []*stubSubscriber{sub1, sub2} {
		alerts := sub.deliveredAlerts()
		if len(alerts) != 1 {
			t.Fatalf("Expected exactly 1 alert for %s, got %d", sub.id, len(alerts))
		}
		alert := alerts[0]
		if alert.Type != types.MessageTypeSOSAlert {
			t.Errorf("Expected type SOS_ALERT, got %s", alert.Type)
		}
		if alert.Child.ID != "child1" || alert.Child.Username != "emma" {
			t.Errorf("Alert carries wrong child snapshot: %+v", alert.Child)
		}
		if alert.Message != "Help me" {
			t.Errorf("Expected custom message, got %q", alert.Message)
		}
		if !alert.Urgent {
			t.Error("Alert must always be urgent")
		}
		if _, err := time.Parse(time.RFC3339, alert.Timestamp); err != nil {
			t.Errorf("Timestamp not RFC3339: %q", alert.Timestamp)
		}
	}

	// Subscriber of a different child must receive nothing
	if got := other.deliveredAlerts(); len(got) != 0 {
		t.Errorf("Unrelated subscriber received %d alerts", len(got))
	}
}

func TestBroadcaster_DefaultMessage(t *testing.T) {
	registry := ws.NewRegistry()
	broadcaster := NewBroadcaster(registry)

	sub := &stubSubscriber{id: "conn1", subjects: []string{"child1"}}
	_ = registry.Register(sub)

	broadcaster.Deliver("child1", types.ChildSnapshot{ID: "child1"}, "")

	alerts := sub.deliveredAlerts()
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Message != types.DefaultAlertMessage {
		t.Errorf("Empty message should fall back to the default, got %q", alerts[0].Message)
	}
}

func TestBroadcaster_NoSubscribers(t *testing.T) {
	registry := ws.NewRegistry()
	broadcaster := NewBroadcaster(registry)

	// Nobody listening is a successful delivery of zero
	count := broadcaster.Deliver("child1", types.ChildSnapshot{ID: "child1"}, "")
	if count != 0 {
		t.Errorf("Expected 0 deliveries with no subscribers, got %d", count)
	}
}

func TestBroadcaster_FailedSendEvictsSubscriber(t *testing.T) {
	registry := ws.NewRegistry()
	broadcaster := NewBroadcaster(registry)

	healthy := &stubSubscriber{id: "healthy", subjects: []string{"child1"}}
	dead := &stubSubscriber{id: "dead", subjects: []string{"child1"}, failWrite: true}

	_ = registry.Register(healthy)
	_ = registry.Register(dead)

	count := broadcaster.Deliver("child1", types.ChildSnapshot{ID: "child1"}, "")

	if count != 1 {
		t.Errorf("Expected 1 successful delivery, got %d", count)
	}
	if !dead.isClosed() {
		t.Error("Dead subscriber should be closed after failed send")
	}

	// The dead connection must be out of the index for the next broadcast
	if got := registry.Subscribers("child1"); len(got) != 1 {
		t.Errorf("Expected 1 remaining subscriber, got %d", len(got))
	}

	// Healthy subscriber unaffected by its neighbor's failure
	if got := healthy.deliveredAlerts(); len(got) != 1 {
		t.Errorf("Healthy subscriber should have received the alert, got %d", len(got))
	}
}
