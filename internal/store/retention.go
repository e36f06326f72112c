package store

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gatewatch/gatewatch/internal/metrics"
)

// DefaultSweepInterval is how often the retention sweep runs.
const DefaultSweepInterval = time.Hour

// RetentionConfig controls how long persisted logs are kept.
type RetentionConfig struct {
	RetentionDays int
	SweepInterval time.Duration
}

// RetentionCleaner expires persisted logs past their retention age. One
// sweep runs at construction to catch up after downtime, then sweeps
// repeat on the configured interval until Stop.
type RetentionCleaner struct {
	store    *Store
	maxAge   time.Duration
	interval time.Duration
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewRetentionCleaner creates and starts a retention cleaner.
// Returns nil when retention is 0 (disabled).
func NewRetentionCleaner(store *Store, conf ...RetentionConfig) *RetentionCleaner {
	days := 30
	interval := DefaultSweepInterval
	if len(conf) > 0 {
		days = conf[0].RetentionDays
		if conf[0].SweepInterval > 0 {
			interval = conf[0].SweepInterval
		}
	}
	if days <= 0 {
		return nil
	}

	rc := &RetentionCleaner{
		store:    store,
		maxAge:   time.Duration(days) * 24 * time.Hour,
		interval: interval,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	rc.sweep()
	go rc.run()

	return rc
}

func (rc *RetentionCleaner) run() {
	defer close(rc.stopped)
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.sweep()
		case <-rc.done:
			return
		}
	}
}

// sweep deletes everything past the retention age and accounts for what it
// removed, per device.
func (rc *RetentionCleaner) sweep() {
	cutoff := time.Now().Add(-rc.maxAge)

	expired, err := rc.store.DeleteExpired(cutoff)
	if err != nil {
		log.Printf("store: retention sweep failed: %v", err)
		return
	}

	devices := make([]string, 0, len(expired))
	for dev := range expired {
		devices = append(devices, dev)
		metrics.LogsExpired.WithLabelValues(dev).Add(float64(expired[dev]))
	}
	sort.Strings(devices)
	for _, dev := range devices {
		log.Printf("store: retention expired %d logs for %s (older than %s)", expired[dev], dev, rc.maxAge)
	}
}

// Stop halts the sweep loop and waits for it to exit.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
		<-rc.stopped
	})
}
