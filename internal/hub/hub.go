// Package hub fans one device's event stream out to any number of live
// subscribers. Each subscriber owns a bounded buffered channel drained by its
// transport; enqueue never blocks, so a slow viewer cannot stall ingestion or
// other viewers. A subscriber whose queue overflows is disconnected rather
// than silently skipped, which preserves per-subscriber ordering with no gaps.
package hub

import (
	"log"
	"sync"
	"time"

	"github.com/gatewatch/gatewatch/internal/metrics"
	"github.com/gatewatch/gatewatch/internal/model"
)

// Source is the per-device state the hub serializes access to. Ingest,
// Subscribe, Reset, and the stats tick all go through the hub's mutex, so the
// init snapshot a subscriber receives is exactly the state at subscription
// time: no record can arrive between snapshot and registration.
type Source interface {
	Ingest(*model.Record)
	Snapshot() model.Snapshot
	Stats() model.Stats
	Reset()
}

// Subscriber is one live viewer's delivery handle.
type Subscriber struct {
	ch     chan model.Event
	paused bool // guarded by the owning hub's mutex
}

// Events returns the subscriber's delivery channel. The channel is closed on
// unsubscribe, queue overflow, or hub shutdown.
func (s *Subscriber) Events() <-chan model.Event {
	return s.ch
}

// Hub owns the subscriber registry for one device.
type Hub struct {
	device   string
	source   Source
	interval time.Duration
	queueLen int

	mu   sync.Mutex
	subs map[*Subscriber]struct{}

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Hub for the given device. interval is the cadence of the
// periodic stats-delta broadcast; queueLen bounds each subscriber's outbound
// queue.
func New(device string, source Source, interval time.Duration, queueLen int) *Hub {
	if interval <= 0 {
		interval = model.DefaultStatsInterval
	}
	if queueLen <= 0 {
		queueLen = model.DefaultSubscriberQLen
	}
	return &Hub{
		device:   device,
		source:   source,
		interval: interval,
		queueLen: queueLen,
		subs:     make(map[*Subscriber]struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic stats broadcast loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.statsLoop()
}

// Stop ends the stats loop and disconnects every subscriber.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		h.mu.Lock()
		defer h.mu.Unlock()
		for sub := range h.subs {
			h.dropLocked(sub)
		}
	})
}

// Ingest routes one record through the device state and broadcasts it to all
// non-paused subscribers as a single serialized step.
func (h *Hub) Ingest(rec *model.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.source.Ingest(rec)

	if len(h.subs) == 0 {
		return
	}
	ev := model.Event{
		Type:   model.EventRecord,
		Device: h.device,
		Time:   time.Now().UTC(),
		Record: rec,
	}
	h.broadcastLocked(ev)
}

// Subscribe registers a new viewer and queues its init snapshot. The snapshot
// reflects every record ingested before this call and none after it.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := h.source.Snapshot()
	sub := &Subscriber{ch: make(chan model.Event, h.queueLen)}
	h.subs[sub] = struct{}{}
	metrics.Subscribers.WithLabelValues(h.device).Inc()

	sub.ch <- model.Event{
		Type:     model.EventInit,
		Device:   h.device,
		Time:     time.Now().UTC(),
		Snapshot: &snap,
	}
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Idempotent.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	h.dropLocked(sub)
}

// SetPaused toggles live delivery for one subscriber. While paused, neither
// record nor stats-delta events are delivered; resuming does not replay
// anything missed.
func (h *Hub) SetPaused(sub *Subscriber, paused bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	sub.paused = paused
}

// Snapshot returns the device snapshot, serialized with ingestion.
func (h *Hub) Snapshot() model.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.source.Snapshot()
}

// Stats returns the device statistics view, serialized with ingestion.
func (h *Hub) Stats() model.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.source.Stats()
}

// Reset clears the device state. Concurrent ingests order cleanly before or
// after the reset, never half-applied.
func (h *Hub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source.Reset()
}

// SubscriberCount reports the number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) statsLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.broadcastStats()
		case <-h.done:
			return
		}
	}
}

func (h *Hub) broadcastStats() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs) == 0 {
		return
	}
	stats := h.source.Stats()
	h.broadcastLocked(model.Event{
		Type:   model.EventStats,
		Device: h.device,
		Time:   time.Now().UTC(),
		Stats:  &stats,
	})
}

// broadcastLocked enqueues ev for every non-paused subscriber. A full queue
// disconnects that subscriber only; everyone else keeps receiving.
func (h *Hub) broadcastLocked(ev model.Event) {
	for sub := range h.subs {
		if sub.paused {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			log.Printf("hub: %s: subscriber queue full (%d), disconnecting", h.device, h.queueLen)
			metrics.SubscriberOverflows.WithLabelValues(h.device).Inc()
			h.dropLocked(sub)
		}
	}
}

func (h *Hub) dropLocked(sub *Subscriber) {
	delete(h.subs, sub)
	close(sub.ch)
	metrics.Subscribers.WithLabelValues(h.device).Dec()
}
