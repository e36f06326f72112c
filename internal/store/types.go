package store

import (
	"time"

	"github.com/gatewatch/gatewatch/internal/model"
)

// StoredLog is one persisted log row.
type StoredLog struct {
	Device     string    `json:"device"`
	Timestamp  string    `json:"timestamp,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	SourceAddr string    `json:"source_addr,omitempty"`
	SrcIP      string    `json:"srcip,omitempty"`
	DstIP      string    `json:"dstip,omitempty"`
	Hostname   string    `json:"hostname,omitempty"`
	Action     string    `json:"action,omitempty"`
	LogType    string    `json:"type,omitempty"`
	Subtype    string    `json:"subtype,omitempty"`
	Category   string    `json:"category,omitempty"`
	SrcPort    int64     `json:"srcport,omitempty"`
	DstPort    int64     `json:"dstport,omitempty"`
	Proto      int64     `json:"proto,omitempty"`
	Service    string    `json:"service,omitempty"`
	App        string    `json:"app,omitempty"`
	PolicyID   int64     `json:"policyid,omitempty"`
	Raw        string    `json:"raw"`
}

// RecordWriter accepts batches of parsed records for persistence.
type RecordWriter interface {
	InsertLogBatch(records []*model.Record) error
}
