// Package device composes one monitored firewall's listeners, aggregator,
// and fan-out hub, and routes external callers to the right device.
package device

import (
	"log"
	"net"
	"strconv"
	"sync"

	"github.com/gatewatch/gatewatch/internal/aggregate"
	"github.com/gatewatch/gatewatch/internal/fortilog"
	"github.com/gatewatch/gatewatch/internal/hub"
	"github.com/gatewatch/gatewatch/internal/metrics"
	"github.com/gatewatch/gatewatch/internal/model"
	"github.com/gatewatch/gatewatch/internal/syslogd"
)

// RecordSink receives every accepted record for optional persistence.
// Add must never block on IO.
type RecordSink interface {
	Add(*model.Record)
}

// Device owns one firewall's full pipeline: listeners feed the parser, the
// parser feeds the hub, the hub serializes aggregation and fan-out.
type Device struct {
	info      model.DeviceInfo
	agg       *aggregate.Aggregator
	hub       *hub.Hub
	sources   []syslogd.Source
	sink      RecordSink
	available bool

	wg sync.WaitGroup
}

// Info returns the device's static configuration.
func (d *Device) Info() model.DeviceInfo { return d.info }

// Available reports whether at least one listener bound successfully.
func (d *Device) Available() bool { return d.available }

// Subscribe registers a live viewer; the first delivered event is an init
// snapshot consistent with the moment of subscription.
func (d *Device) Subscribe() *hub.Subscriber { return d.hub.Subscribe() }

// Unsubscribe removes a viewer. Idempotent.
func (d *Device) Unsubscribe(sub *hub.Subscriber) { d.hub.Unsubscribe(sub) }

// SetPaused toggles live delivery for one viewer.
func (d *Device) SetPaused(sub *hub.Subscriber, paused bool) { d.hub.SetPaused(sub, paused) }

// Snapshot returns a consistent point-in-time copy of ring and statistics.
func (d *Device) Snapshot() model.Snapshot { return d.hub.Snapshot() }

// Stats returns the statistics view with derived Top-N rankings.
func (d *Device) Stats() model.Stats { return d.hub.Stats() }

// Recent returns up to limit of the most recent records in arrival order.
func (d *Device) Recent(limit int) []model.Record { return d.agg.Recent(limit) }

// Reset clears the device's ring and statistics. Idempotent; other devices
// are unaffected.
func (d *Device) Reset() { d.hub.Reset() }

// SubscriberCount reports the number of attached viewers.
func (d *Device) SubscriberCount() int { return d.hub.SubscriberCount() }

func (d *Device) run(src syslogd.Source) {
	defer d.wg.Done()
	for dg := range src.Datagrams() {
		d.ingest(dg)
	}
}

func (d *Device) ingest(dg model.Datagram) {
	metrics.DatagramsReceived.WithLabelValues(d.info.ID).Inc()

	rec := fortilog.Parse(dg.Raw, dg.Addr, dg.ReceivedAt)
	rec.Device = d.info.ID
	if len(rec.Fields) == 0 {
		metrics.ParseFallbacks.WithLabelValues(d.info.ID).Inc()
	}

	d.hub.Ingest(rec)
	metrics.RecordsIngested.WithLabelValues(d.info.ID).Inc()

	if d.sink != nil {
		d.sink.Add(rec)
	}
}

// startSources binds the device's listeners. A bind failure is logged and
// leaves the device registered but unavailable; other devices are unaffected.
func (d *Device) startSources(host string, conf syslogd.Config) {
	udp := syslogd.NewUDPServer(net.JoinHostPort(host, strconv.Itoa(d.info.Port)), conf)
	if err := udp.Start(); err != nil {
		log.Printf("device: %s: udp bind on port %d failed, marking unavailable: %v", d.info.ID, d.info.Port, err)
	} else {
		d.sources = append(d.sources, udp)
		d.available = true
	}

	if d.info.TCPPort > 0 {
		tcp := syslogd.NewTCPServer(net.JoinHostPort(host, strconv.Itoa(d.info.TCPPort)), conf)
		if err := tcp.Start(); err != nil {
			log.Printf("device: %s: tcp bind on port %d failed: %v", d.info.ID, d.info.TCPPort, err)
		} else {
			d.sources = append(d.sources, tcp)
			d.available = true
		}
	}

	for _, src := range d.sources {
		d.wg.Add(1)
		go d.run(src)
	}
}

func (d *Device) stop() {
	for _, src := range d.sources {
		src.Stop()
	}
	d.wg.Wait()
	d.hub.Stop()
}
