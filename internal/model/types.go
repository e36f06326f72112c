package model

import "time"

// Record represents a single parsed firewall log event. It is the canonical
// type for aggregation, transport (websocket), and storage.
//
// Well-known fields are promoted to typed struct fields; every key=value pair
// found in the payload, including the promoted ones, is also kept in Fields so
// that vendor extension fields survive parsing untouched.
type Record struct {
	ReceivedAt time.Time `json:"received_at"`         // assigned by the ingestor, always set
	Timestamp  string    `json:"timestamp,omitempty"` // synthesized from date+time fields, empty when absent
	SourceAddr string    `json:"source_addr"`         // network address the datagram arrived from
	Device     string    `json:"device"`              // owning device id

	SrcIP    string `json:"srcip,omitempty"`
	DstIP    string `json:"dstip,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	DstPort  int64  `json:"dstport,omitempty"`
	Action   string `json:"action,omitempty"`
	LogType  string `json:"type,omitempty"`
	Subtype  string `json:"subtype,omitempty"`
	Category string `json:"category"` // derived from (type, subtype)
	CatDesc  string `json:"catdesc,omitempty"`

	Raw    string         `json:"raw"`
	Fields map[string]any `json:"fields,omitempty"` // values are string or int64
}

// Datagram carries one raw log payload with receive metadata.
// It is the transport contract between listeners and the device pipeline.
type Datagram struct {
	Addr       string
	Raw        string
	ReceivedAt time.Time
}

// DeviceInfo describes one monitored firewall as configured at startup.
type DeviceInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Port    int    `json:"port"`
	TCPPort int    `json:"tcp_port,omitempty"` // 0 = reliable-mode listener disabled
}
