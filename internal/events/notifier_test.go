package events

import (
	"errors"
	"testing"
	"time"
)

func receive(t *testing.T, s *Subscriber) Event {
	t.Helper()
	select {
	case e, ok := <-s.C:
		if !ok {
			t.Fatal("subscriber channel closed")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestPublishReachesSubscribers(t *testing.T) {
	n := NewNotifier(8)
	n.Start()
	defer n.Stop()

	a := n.Subscribe("a")
	b := n.Subscribe("b")

	n.NotifyQueueChanged(7)

	for _, s := range []*Subscriber{a, b} {
		e := receive(t, s)
		if e.Type != QueueChanged {
			t.Errorf("Type = %s, want %s", e.Type, QueueChanged)
		}
		if e.Revision != 7 {
			t.Errorf("Revision = %d, want 7", e.Revision)
		}
		if e.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	n := NewNotifier(1)
	n.Start()
	defer n.Stop()

	s := n.Subscribe("slow")
	for i := 0; i < 5; i++ {
		n.NotifyQueueChanged(int64(i))
	}

	deadline := time.Now().Add(2 * time.Second)
	for n.GetStats().Dropped == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n.GetStats().Dropped == 0 {
		t.Error("expected dropped events for a full subscriber")
	}
	if e := receive(t, s); e.Type != QueueChanged {
		t.Errorf("Type = %s, want %s", e.Type, QueueChanged)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	n := NewNotifier(4)
	s := n.Subscribe("x")

	n.Unsubscribe("x")
	if _, ok := <-s.C; ok {
		t.Error("channel should be closed")
	}
	if n.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n.SubscriberCount())
	}
}

func TestTransferStats(t *testing.T) {
	n := NewNotifier(16)

	n.NotifyStarted("t1", 1000)
	n.NotifyStarted("t2", 1000)
	n.NotifyProgress("t1", 500, 1000)

	stats := n.GetTransferStats("t1")
	if stats == nil {
		t.Fatal("expected stats for t1")
	}
	if stats.BytesProcessed != 500 {
		t.Errorf("BytesProcessed = %d, want 500", stats.BytesProcessed)
	}

	n.NotifyCompleted("t1")
	n.NotifyFailed("t2", errors.New("boom"))

	got := n.GetStats()
	if got.Started != 2 || got.Completed != 1 || got.Failed != 1 || got.ActiveTransfers != 0 {
		t.Errorf("GetStats = %+v", got)
	}
	if n.GetTransferStats("t1") != nil {
		t.Error("stats should be removed after completion")
	}
}

func TestStopClosesSubscribers(t *testing.T) {
	n := NewNotifier(4)
	n.Start()
	s := n.Subscribe("x")

	n.Stop()
	n.Stop()

	if _, ok := <-s.C; ok {
		t.Error("channel should be closed after Stop")
	}
}
