// Package metrics exposes internal counters on the prometheus registry.
// The HTTP server serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatagramsReceived counts raw payloads accepted per device, before parsing.
	DatagramsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewatch_datagrams_received_total",
		Help: "Raw syslog payloads received, per device.",
	}, []string{"device"})

	// RecordsIngested counts records accepted into a device aggregator.
	RecordsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewatch_records_ingested_total",
		Help: "Parsed records ingested into per-device state.",
	}, []string{"device"})

	// ParseFallbacks counts payloads that yielded no key=value fields.
	ParseFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewatch_parse_fallbacks_total",
		Help: "Payloads parsed into minimal raw-only records.",
	}, []string{"device"})

	// Subscribers tracks currently registered live viewers per device.
	Subscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gatewatch_subscribers",
		Help: "Live subscribers currently registered, per device.",
	}, []string{"device"})

	// SubscriberOverflows counts subscribers disconnected because their
	// outbound queue filled up.
	SubscriberOverflows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewatch_subscriber_overflows_total",
		Help: "Subscribers dropped due to outbound queue overflow.",
	}, []string{"device"})

	// LogsExpired counts persisted rows removed by the retention sweep.
	LogsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewatch_logs_expired_total",
		Help: "Persisted log rows deleted by retention, per device.",
	}, []string{"device"})
)
