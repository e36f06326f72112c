package model

import "time"

// EventType identifies the payload shape of a subscription event.
type EventType string

const (
	// EventInit carries the full snapshot delivered once per subscription.
	EventInit EventType = "init"
	// EventRecord carries a single live record.
	EventRecord EventType = "log"
	// EventStats carries the periodic Top-N statistics delta.
	EventStats EventType = "stats_update"
)

// Event is one message delivered through a hub subscription. Exactly one of
// Snapshot, Record, or Stats is set, matching Type.
type Event struct {
	Type     EventType `json:"type"`
	Device   string    `json:"device"`
	Time     time.Time `json:"timestamp"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Record   *Record   `json:"record,omitempty"`
	Stats    *Stats    `json:"stats,omitempty"`
}
