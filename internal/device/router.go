package device

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gatewatch/gatewatch/internal/aggregate"
	"github.com/gatewatch/gatewatch/internal/hub"
	"github.com/gatewatch/gatewatch/internal/model"
	"github.com/gatewatch/gatewatch/internal/syslogd"
)

// ErrNotFound is returned for device ids absent from the configuration.
var ErrNotFound = errors.New("device not found")

// Options holds shared tuning for every device pipeline.
type Options struct {
	Host            string // bind host for listeners, default 0.0.0.0
	RingSize        int
	StatsInterval   time.Duration
	SubscriberQueue int
	Sink            RecordSink     // optional persistence, may be nil
	SourceConfig    syslogd.Config // listener queue tuning
}

// Router holds the fixed device registry built once from configuration.
type Router struct {
	devices map[string]*Device
	order   []*Device
	opts    Options
}

// NewRouter builds the device registry. Listeners are not bound until Start.
func NewRouter(infos []model.DeviceInfo, opts Options) (*Router, error) {
	if opts.Host == "" {
		opts.Host = "0.0.0.0"
	}

	r := &Router{devices: make(map[string]*Device, len(infos))}
	for _, info := range infos {
		if info.ID == "" {
			return nil, errors.New("device with empty id")
		}
		if _, dup := r.devices[info.ID]; dup {
			return nil, fmt.Errorf("duplicate device id %q", info.ID)
		}

		agg := aggregate.New(opts.RingSize)
		d := &Device{
			info: info,
			agg:  agg,
			hub:  hub.New(info.ID, agg, opts.StatsInterval, opts.SubscriberQueue),
			sink: opts.Sink,
		}
		r.devices[info.ID] = d
		r.order = append(r.order, d)
	}
	r.opts = opts
	return r, nil
}

// Start binds every device's listeners and launches its pipeline. Bind
// failures are isolated per device.
func (r *Router) Start() {
	for _, d := range r.order {
		d.startSources(r.opts.Host, r.opts.SourceConfig)
		d.hub.Start()
		if d.available {
			log.Printf("device: %s (%s) listening on udp port %d", d.info.ID, d.info.Name, d.info.Port)
		}
	}
}

// Stop shuts down every device pipeline.
func (r *Router) Stop() {
	for _, d := range r.order {
		d.stop()
	}
}

// List returns all configured devices in configuration order.
func (r *Router) List() []model.DeviceInfo {
	out := make([]model.DeviceInfo, len(r.order))
	for i, d := range r.order {
		out[i] = d.info
	}
	return out
}

// Get returns the device for id, or ErrNotFound.
func (r *Router) Get(id string) (*Device, error) {
	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return d, nil
}
