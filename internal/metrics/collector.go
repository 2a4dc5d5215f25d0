// Package metrics holds the prometheus collectors shared by the fabric,
// the task queue and device sessions. A nil *Collector is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "daudio"

// Drop and rejection reasons used as label values.
const (
	ReasonQueueFull   = "queue_full"
	ReasonTooLarge    = "too_large"
	ReasonEmpty       = "empty"
	ReasonNoListener  = "no_listener"
	ReasonMalformed   = "malformed"
	ReasonSendFailed  = "send_failed"
	ReasonSessionGone = "session_gone"
)

type Collector struct {
	outboundEnqueued prometheus.Counter
	outboundDropped  *prometheus.CounterVec
	outboundSent     prometheus.Counter
	outboundDepth    prometheus.Gauge
	inboundRejected  *prometheus.CounterVec
	sessionsOpen     prometheus.Gauge

	tasksRejected prometheus.Counter
	taskPanics    prometheus.Counter

	jitterUnderruns *prometheus.CounterVec
	jitterDropped   *prometheus.CounterVec
	latencyTrips    *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		outboundEnqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fabric", Name: "outbound_enqueued_total",
			Help: "Stream frames accepted into the outbound queue",
		}),
		outboundDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fabric", Name: "outbound_dropped_total",
			Help: "Stream frames dropped before or during transmission",
		}, []string{"reason"}),
		outboundSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fabric", Name: "outbound_sent_total",
			Help: "Stream frames handed to the network fabric",
		}),
		outboundDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "fabric", Name: "outbound_queue_depth",
			Help: "Frames waiting in the outbound queue",
		}),
		inboundRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fabric", Name: "inbound_rejected_total",
			Help: "Inbound payloads dropped by the session fabric",
		}, []string{"reason"}),
		sessionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "fabric", Name: "sessions_open",
			Help: "Sessions currently tracked by the session fabric",
		}),
		tasksRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "taskqueue", Name: "rejected_total",
			Help: "Tasks refused because the queue was full",
		}),
		taskPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "taskqueue", Name: "panics_total",
			Help: "Tasks that panicked",
		}),
		jitterUnderruns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "device", Name: "jitter_underruns_total",
			Help: "Render ticks that found the jitter queue empty",
		}, []string{"dh_id"}),
		jitterDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "device", Name: "jitter_dropped_total",
			Help: "Frames evicted from a full jitter queue",
		}, []string{"dh_id"}),
		latencyTrips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "device", Name: "latency_watchdog_trips_total",
			Help: "Capture or send gaps above the latency threshold",
		}, []string{"dh_id", "stage"}),
	}
}

func (c *Collector) OutboundEnqueued(depth int) {
	if c == nil {
		return
	}
	c.outboundEnqueued.Inc()
	c.outboundDepth.Set(float64(depth))
}

func (c *Collector) OutboundDropped(reason string) {
	if c == nil {
		return
	}
	c.outboundDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) OutboundSent(depth int) {
	if c == nil {
		return
	}
	c.outboundSent.Inc()
	c.outboundDepth.Set(float64(depth))
}

func (c *Collector) InboundRejected(reason string) {
	if c == nil {
		return
	}
	c.inboundRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) SessionsOpen(n int) {
	if c == nil {
		return
	}
	c.sessionsOpen.Set(float64(n))
}

func (c *Collector) TaskRejected() {
	if c == nil {
		return
	}
	c.tasksRejected.Inc()
}

func (c *Collector) TaskPanicked() {
	if c == nil {
		return
	}
	c.taskPanics.Inc()
}

func (c *Collector) JitterUnderrun(dhID string) {
	if c == nil {
		return
	}
	c.jitterUnderruns.WithLabelValues(dhID).Inc()
}

func (c *Collector) JitterDropped(dhID string) {
	if c == nil {
		return
	}
	c.jitterDropped.WithLabelValues(dhID).Inc()
}

func (c *Collector) LatencyTrip(dhID, stage string) {
	if c == nil {
		return
	}
	c.latencyTrips.WithLabelValues(dhID, stage).Inc()
}
