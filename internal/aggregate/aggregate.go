// Package aggregate maintains per-device running statistics and a bounded
// ring of recent records. The ring and the statistics are updated as one
// transaction under a single mutex, so readers never observe one without the
// other.
package aggregate

import (
	"sync"

	"github.com/gatewatch/gatewatch/internal/fortilog"
	"github.com/gatewatch/gatewatch/internal/model"
)

// Aggregator is the single authoritative owner of one device's state.
// Ingest is the only mutation path.
type Aggregator struct {
	mu       sync.Mutex
	capacity int
	topN     int

	// ring buffer of the most recent records, FIFO eviction
	buf   []model.Record
	start int
	size  int

	total   int64
	allowed int64
	blocked int64

	byAction   *counterMap
	byCategory *counterMap
	bySource   *counterMap
	byDest     *counterMap

	blockedSites      *counterMap
	blockedSiteDetail map[string]*counterMap // site -> srcip counts

	blockedCats      *counterMap
	blockedCatDetail map[string]*tupleCounter // category -> (srcip, destination) counts
}

// New creates an Aggregator with the given ring capacity. A capacity of zero
// or less falls back to the shared default.
func New(capacity int) *Aggregator {
	if capacity <= 0 {
		capacity = model.DefaultLogBuffer
	}
	a := &Aggregator{
		capacity: capacity,
		topN:     model.DefaultTopN,
	}
	a.initLocked()
	return a
}

func (a *Aggregator) initLocked() {
	a.buf = make([]model.Record, a.capacity)
	a.start = 0
	a.size = 0
	a.total = 0
	a.allowed = 0
	a.blocked = 0
	a.byAction = newCounterMap()
	a.byCategory = newCounterMap()
	a.bySource = newCounterMap()
	a.byDest = newCounterMap()
	a.blockedSites = newCounterMap()
	a.blockedSiteDetail = make(map[string]*counterMap)
	a.blockedCats = newCounterMap()
	a.blockedCatDetail = make(map[string]*tupleCounter)
}

// Ingest appends the record to the ring (evicting the oldest when full) and
// updates every statistic it contributes to.
func (a *Aggregator) Ingest(rec *model.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Ring append with FIFO eviction.
	if a.size < a.capacity {
		a.buf[(a.start+a.size)%a.capacity] = *rec
		a.size++
	} else {
		a.buf[a.start] = *rec
		a.start = (a.start + 1) % a.capacity
	}

	a.total++

	action := rec.Action
	if action == "" {
		action = "unknown"
	}
	a.byAction.inc(action)
	a.byCategory.inc(rec.Category)

	isBlock := fortilog.IsBlock(rec.Action)
	switch {
	case isBlock:
		a.blocked++
	case fortilog.IsAllow(rec.Action):
		a.allowed++
	}

	if rec.SrcIP != "" {
		a.bySource.inc(rec.SrcIP)
	}

	dest := resolveDestination(rec.Hostname, rec.DstIP)
	if dest != "" {
		a.byDest.inc(dest)
	}

	// Blocked-site tracking is limited to UTM logs so that inbound policy
	// denies do not show up as content blocks.
	if isBlock && rec.LogType == "utm" {
		site := dest
		if site != "" {
			a.blockedSites.inc(site)
			detail, ok := a.blockedSiteDetail[site]
			if !ok {
				detail = newCounterMap()
				a.blockedSiteDetail[site] = detail
			}
			if rec.SrcIP != "" {
				detail.inc(rec.SrcIP)
			}
		}

		if rec.Subtype == "webfilter" || rec.CatDesc != "" {
			category := rec.CatDesc
			if category == "" {
				category = "Other"
			}
			a.blockedCats.inc(category)
			detail, ok := a.blockedCatDetail[category]
			if !ok {
				detail = newTupleCounter()
				a.blockedCatDetail[category] = detail
			}
			if rec.SrcIP != "" && site != "" {
				detail.inc(rec.SrcIP, site)
			}
		}
	}
}

// Snapshot returns a consistent point-in-time copy of the ring contents and
// the statistics, including the derived Top-N structures.
func (a *Aggregator) Snapshot() model.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return model.Snapshot{
		Records: a.recordsLocked(a.size),
		Stats:   a.statsLocked(),
	}
}

// Stats returns the statistics view alone, without copying the ring.
func (a *Aggregator) Stats() model.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statsLocked()
}

// Recent returns up to limit of the most recent records in arrival order.
// A non-positive limit returns the whole ring.
func (a *Aggregator) Recent(limit int) []model.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	if limit <= 0 || limit > a.size {
		limit = a.size
	}
	return a.recordsLocked(limit)
}

// Reset clears the ring and reinitializes all statistics.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initLocked()
}

// recordsLocked copies the newest n records out of the ring in arrival order.
func (a *Aggregator) recordsLocked(n int) []model.Record {
	if n > a.size {
		n = a.size
	}
	out := make([]model.Record, n)
	first := a.size - n
	for i := 0; i < n; i++ {
		out[i] = a.buf[(a.start+first+i)%a.capacity]
	}
	return out
}

func (a *Aggregator) statsLocked() model.Stats {
	s := model.Stats{
		TotalCount:           a.total,
		AllowedCount:         a.allowed,
		BlockedCount:         a.blocked,
		ByAction:             a.byAction.plain(),
		ByCategory:           a.byCategory.plain(),
		TopSources:           a.bySource.top(a.topN),
		TopDestinations:      a.byDest.top(a.topN),
		TopBlocked:           a.blockedSites.top(a.topN),
		TopBlockedCategories: a.blockedCats.top(a.topN),
	}

	s.TopBlockedDetail = make([]model.BlockedSiteDetail, 0, len(s.TopBlocked))
	for _, site := range s.TopBlocked {
		d := model.BlockedSiteDetail{Site: site.Key, Count: site.Count}
		if detail, ok := a.blockedSiteDetail[site.Key]; ok {
			d.Sources = detail.top(a.topN)
		}
		s.TopBlockedDetail = append(s.TopBlockedDetail, d)
	}

	s.TopBlockedCatsDetail = make([]model.BlockedCategoryDetail, 0, len(s.TopBlockedCategories))
	for _, cat := range s.TopBlockedCategories {
		d := model.BlockedCategoryDetail{Category: cat.Key, Count: cat.Count}
		if detail, ok := a.blockedCatDetail[cat.Key]; ok {
			d.Sources = detail.top(a.topN)
		}
		s.TopBlockedCatsDetail = append(s.TopBlockedCatsDetail, d)
	}

	return s
}
