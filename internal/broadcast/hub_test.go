package broadcast

import (
	"testing"
	"time"

	"privacyspace/internal/domain"
)

func update(subject string, version uint64) domain.Update {
	return domain.Update{Subject: subject, Kind: domain.KindDomain, Status: domain.StatusConfirmed, Version: version}
}

func TestPublishReachesEverySession(t *testing.T) {
	hub := NewHub(4)
	a := hub.Subscribe("reporter-a")
	b := hub.Subscribe("reporter-b")
	defer hub.Unsubscribe(a)
	defer hub.Unsubscribe(b)

	hub.Publish(update("evil.example", 2))

	for _, s := range []*Session{a, b} {
		select {
		case got := <-s.Updates():
			if got != update("evil.example", 2) {
				t.Fatalf("session %s got %+v", s.ID, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("session %s received nothing", s.ID)
		}
	}

	if hub.Len() != 2 {
		t.Fatalf("sessions = %d, want 2", hub.Len())
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	hub := NewHub(8)
	s := hub.Subscribe("reporter-a")
	defer hub.Unsubscribe(s)

	for v := uint64(1); v <= 5; v++ {
		hub.Publish(update("evil.example", v))
	}
	for v := uint64(1); v <= 5; v++ {
		if got := <-s.Updates(); got.Version != v {
			t.Fatalf("got version %d, want %d", got.Version, v)
		}
	}
}

func TestOverflowDrainsAndFlagsResync(t *testing.T) {
	hub := NewHub(2)
	slow := hub.Subscribe("slow")
	fast := hub.Subscribe("fast")
	defer hub.Unsubscribe(slow)
	defer hub.Unsubscribe(fast)

	if hub.Heartbeat(slow) {
		t.Fatal("fresh session should not need resync")
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			hub.Publish(update("evil.example", uint64(i+1)))
			<-fast.Updates()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if n := len(slow.Updates()); n != 0 {
		t.Fatalf("overflowed queue holds %d updates, want drained", n)
	}
	if !hub.Heartbeat(slow) {
		t.Fatal("heartbeat should report resync after overflow")
	}
	if hub.Heartbeat(slow) {
		t.Fatal("resync flag should clear after being reported")
	}
	if hub.Heartbeat(fast) {
		t.Fatal("fast session should not need resync")
	}
	if hub.Stats().Overflows != 1 {
		t.Fatalf("overflows = %d, want 1", hub.Stats().Overflows)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(4)
	s := hub.Subscribe("reporter-a")
	hub.Unsubscribe(s)
	hub.Unsubscribe(s)

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Unsubscribe")
	}

	hub.Publish(update("evil.example", 2))
	if len(s.Updates()) != 0 {
		t.Fatal("unsubscribed session received an update")
	}
	if hub.Len() != 0 {
		t.Fatalf("sessions = %d, want 0", hub.Len())
	}
}

func TestDisconnectAllEndsSessionsAndKeepsHubUsable(t *testing.T) {
	hub := NewHub(4)
	a := hub.Subscribe("reporter-a")
	b := hub.Subscribe("reporter-b")

	if n := hub.DisconnectAll(); n != 2 {
		t.Fatalf("DisconnectAll = %d, want 2", n)
	}
	for _, s := range []*Session{a, b} {
		select {
		case <-s.Done():
		default:
			t.Fatalf("session %s still open", s.ID)
		}
	}
	hub.Unsubscribe(a)

	c := hub.Subscribe("reporter-c")
	hub.Publish(update("evil.example", 2))
	if hub.Len() != 1 || len(c.Updates()) != 1 {
		t.Fatalf("hub after DisconnectAll: sessions %d, queued %d", hub.Len(), len(c.Updates()))
	}
}
