// Package stats exposes the compositor's periodic statistics tick (§4.2's
// event loop source (d)) as Prometheus metrics.
package stats

import "github.com/prometheus/client_golang/prometheus"

// Collector holds the gauges and counters the Control Plane updates as it
// handles events and on its statistics tick; the Render Loop does not
// touch it. A Collector with a nil *Collector
// receiver is valid and a no-op, so callers that don't want metrics can pass
// nil without branching.
type Collector struct {
	reg *prometheus.Registry

	sessions       prometheus.Gauge
	clients        prometheus.Gauge
	monitors       prometheus.Gauge
	bufferRequests prometheus.Counter
	bufferAcks     prometheus.Counter
	bufferReleases prometheus.Counter
	pageFlips      prometheus.Counter
	fatalErrors    prometheus.Counter
}

// New creates a Collector registered against a fresh Prometheus registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		reg: reg,
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shift", Name: "sessions", Help: "Number of sessions currently tracked.",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shift", Name: "clients", Help: "Number of connected client sockets.",
		}),
		monitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shift", Name: "monitors", Help: "Number of known monitors.",
		}),
		bufferRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shift", Name: "buffer_requests_total", Help: "BUFFER_REQUEST frames accepted for forwarding.",
		}),
		bufferAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shift", Name: "buffer_request_acks_total", Help: "BUFFER_REQUEST_ACK frames sent.",
		}),
		bufferReleases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shift", Name: "buffer_releases_total", Help: "BUFFER_RELEASE frames sent.",
		}),
		pageFlips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shift", Name: "page_flips_total", Help: "Page-flip events processed.",
		}),
		fatalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shift", Name: "render_fatal_errors_total", Help: "FatalError events received from the Render Loop.",
		}),
	}
	reg.MustRegister(c.sessions, c.clients, c.monitors, c.bufferRequests, c.bufferAcks, c.bufferReleases, c.pageFlips, c.fatalErrors)
	return c
}

// Registry returns the Prometheus registry backing this collector, for
// wiring into an HTTP exposition handler.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.reg
}

// SetCounts updates the point-in-time gauges on the Control Plane's
// periodic statistics tick.
func (c *Collector) SetCounts(sessions, clients, monitors int) {
	if c == nil {
		return
	}
	c.sessions.Set(float64(sessions))
	c.clients.Set(float64(clients))
	c.monitors.Set(float64(monitors))
}

func (c *Collector) IncBufferRequests() {
	if c != nil {
		c.bufferRequests.Inc()
	}
}

func (c *Collector) IncBufferAcks() {
	if c != nil {
		c.bufferAcks.Inc()
	}
}

func (c *Collector) IncBufferReleases() {
	if c != nil {
		c.bufferReleases.Inc()
	}
}

func (c *Collector) IncPageFlips() {
	if c != nil {
		c.pageFlips.Inc()
	}
}

func (c *Collector) IncFatalErrors() {
	if c != nil {
		c.fatalErrors.Inc()
	}
}
