package hub

import (
	"fmt"
	"testing"
	"time"

	"github.com/gatewatch/gatewatch/internal/aggregate"
	"github.com/gatewatch/gatewatch/internal/fortilog"
	"github.com/gatewatch/gatewatch/internal/model"
)

func newTestHub(t *testing.T, interval time.Duration, queueLen int) *Hub {
	t.Helper()
	h := New("fw-test", aggregate.New(100), interval, queueLen)
	t.Cleanup(h.Stop)
	return h
}

func testRecord(i int) *model.Record {
	raw := fmt.Sprintf("type=traffic subtype=forward action=accept srcip=10.0.0.%d", i)
	return fortilog.Parse(raw, "10.0.0.1:514", time.Now())
}

func recvEvent(t *testing.T, sub *Subscriber) model.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscriber channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return model.Event{}
}

func TestSubscribe_InitMatchesSnapshot(t *testing.T) {
	h := newTestHub(t, time.Hour, 16)

	for i := 0; i < 5; i++ {
		h.Ingest(testRecord(i))
	}

	sub := h.Subscribe()
	ev := recvEvent(t, sub)
	if ev.Type != model.EventInit {
		t.Fatalf("first event type = %q, want init", ev.Type)
	}
	if ev.Snapshot == nil {
		t.Fatal("init event carries no snapshot")
	}
	if got := ev.Snapshot.Stats.TotalCount; got != 5 {
		t.Errorf("init total = %d, want 5", got)
	}
	if got := len(ev.Snapshot.Records); got != 5 {
		t.Errorf("init records = %d, want 5", got)
	}

	// A record ingested after subscribe arrives as a live event, not in init.
	h.Ingest(testRecord(9))
	ev = recvEvent(t, sub)
	if ev.Type != model.EventRecord {
		t.Fatalf("second event type = %q, want log", ev.Type)
	}
	if ev.Record == nil || ev.Record.SrcIP != "10.0.0.9" {
		t.Errorf("record event = %+v", ev.Record)
	}
}

func TestIngest_DeliversInOrder(t *testing.T) {
	h := newTestHub(t, time.Hour, 64)

	sub := h.Subscribe()
	if ev := recvEvent(t, sub); ev.Type != model.EventInit {
		t.Fatalf("expected init first, got %q", ev.Type)
	}

	const n = 20
	for i := 0; i < n; i++ {
		h.Ingest(testRecord(i))
	}
	for i := 0; i < n; i++ {
		ev := recvEvent(t, sub)
		if ev.Type != model.EventRecord {
			t.Fatalf("event %d type = %q", i, ev.Type)
		}
		want := fmt.Sprintf("10.0.0.%d", i)
		if ev.Record.SrcIP != want {
			t.Fatalf("event %d srcip = %q, want %q (reordered?)", i, ev.Record.SrcIP, want)
		}
	}
}

func TestSetPaused_SuppressesWithoutBackfill(t *testing.T) {
	h := newTestHub(t, time.Hour, 64)

	sub := h.Subscribe()
	recvEvent(t, sub) // init

	h.SetPaused(sub, true)
	for i := 0; i < 7; i++ {
		h.Ingest(testRecord(i))
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("received %q while paused", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}

	h.SetPaused(sub, false)
	h.Ingest(testRecord(42))

	ev := recvEvent(t, sub)
	if ev.Type != model.EventRecord || ev.Record.SrcIP != "10.0.0.42" {
		t.Fatalf("after resume got %q %+v, want the post-resume record only", ev.Type, ev.Record)
	}

	// The paused records still reached the aggregator.
	if got := h.Stats().TotalCount; got != 8 {
		t.Errorf("TotalCount = %d, want 8", got)
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	h := newTestHub(t, time.Hour, 16)

	sub := h.Subscribe()
	if got := h.SubscriberCount(); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}

	h.Unsubscribe(sub)
	h.Unsubscribe(sub) // second call is a no-op

	if got := h.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("channel still open after unsubscribe")
	}

	// Other subscribers are unaffected.
	other := h.Subscribe()
	h.Ingest(testRecord(1))
	recvEvent(t, other) // init
	if ev := recvEvent(t, other); ev.Type != model.EventRecord {
		t.Errorf("remaining subscriber got %q, want log", ev.Type)
	}
}

func TestOverflow_DisconnectsOnlySlowSubscriber(t *testing.T) {
	h := newTestHub(t, time.Hour, 2)

	slow := h.Subscribe() // never drained: init occupies one slot
	fast := h.Subscribe()
	recvEvent(t, fast) // drain init

	// The slow queue fills (init + one record); the next enqueue overflows it.
	for i := 0; i < 3; i++ {
		h.Ingest(testRecord(i))
		if ev := recvEvent(t, fast); ev.Type != model.EventRecord {
			t.Fatalf("fast subscriber event %d = %q", i, ev.Type)
		}
	}

	deadline := time.After(2 * time.Second)
	for closed := false; !closed; {
		select {
		case _, ok := <-slow.Events():
			closed = !ok
		case <-deadline:
			t.Fatal("slow subscriber was not disconnected")
		}
	}

	if got := h.SubscriberCount(); got != 1 {
		t.Errorf("SubscriberCount = %d, want 1 (fast only)", got)
	}
}

func TestStatsLoop_BroadcastsDeltas(t *testing.T) {
	h := newTestHub(t, 20*time.Millisecond, 64)
	h.Start()

	h.Ingest(testRecord(1))
	sub := h.Subscribe()
	recvEvent(t, sub) // init

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type != model.EventStats {
				continue
			}
			if ev.Stats == nil || ev.Stats.TotalCount != 1 {
				t.Fatalf("stats event = %+v", ev.Stats)
			}
			if len(ev.Stats.TopSources) != 1 || ev.Stats.TopSources[0].Key != "10.0.0.1" {
				t.Fatalf("TopSources = %v", ev.Stats.TopSources)
			}
			return
		case <-deadline:
			t.Fatal("no stats_update event within deadline")
		}
	}
}

func TestReset_ThroughHub(t *testing.T) {
	h := newTestHub(t, time.Hour, 16)
	for i := 0; i < 10; i++ {
		h.Ingest(testRecord(i))
	}

	h.Reset()

	snap := h.Snapshot()
	if snap.Stats.TotalCount != 0 || len(snap.Records) != 0 {
		t.Errorf("after reset: total=%d records=%d, want 0/0", snap.Stats.TotalCount, len(snap.Records))
	}
}
