// Package metrics exposes Prometheus metrics plus a plain snapshot for the
// stats endpoint.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all service metrics. A nil *Collector is valid and every
// method on it is a no-op, so components can take metrics optionally.
type Collector struct {
	framesReceived  atomic.Uint64
	framesDropped   atomic.Uint64
	eventsDelivered atomic.Uint64
	eventsAbandoned atomic.Uint64
	deliveryRetries atomic.Uint64
	activeCalls     atomic.Int64

	promFramesReceived  prometheus.Counter
	promFramesDropped   prometheus.Counter
	promEventsDelivered prometheus.Counter
	promEventsAbandoned prometheus.Counter
	promDeliveryRetries prometheus.Counter
	promActiveCalls     prometheus.Gauge
}

// Stats is the snapshot served by the stats endpoint.
type Stats struct {
	ActiveCalls     int64  `json:"activeCalls"`
	FramesReceived  uint64 `json:"framesReceived"`
	FramesDropped   uint64 `json:"framesDropped"`
	EventsDelivered uint64 `json:"eventsDelivered"`
	EventsAbandoned uint64 `json:"eventsAbandoned"`
	DeliveryRetries uint64 `json:"deliveryRetries"`
}

// NewCollector registers all metrics with the given registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		promFramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingbot_audio_frames_received_total",
			Help: "Total PCM frames received from the media layer",
		}),
		promFramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingbot_audio_frames_dropped_total",
			Help: "Total PCM frames dropped under backpressure",
		}),
		promEventsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingbot_transcript_events_delivered_total",
			Help: "Total transcript events delivered to the sink",
		}),
		promEventsAbandoned: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingbot_transcript_events_abandoned_total",
			Help: "Total transcript events abandoned after retries or drain timeout",
		}),
		promDeliveryRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingbot_transcript_delivery_retries_total",
			Help: "Total sink delivery retry attempts",
		}),
		promActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetingbot_active_calls",
			Help: "Current number of active call sessions",
		}),
	}
}

func (c *Collector) FrameReceived() {
	if c == nil {
		return
	}
	c.framesReceived.Add(1)
	c.promFramesReceived.Inc()
}

func (c *Collector) FrameDropped() {
	if c == nil {
		return
	}
	c.framesDropped.Add(1)
	c.promFramesDropped.Inc()
}

func (c *Collector) EventDelivered() {
	if c == nil {
		return
	}
	c.eventsDelivered.Add(1)
	c.promEventsDelivered.Inc()
}

func (c *Collector) EventAbandoned() {
	if c == nil {
		return
	}
	c.eventsAbandoned.Add(1)
	c.promEventsAbandoned.Inc()
}

func (c *Collector) DeliveryRetry() {
	if c == nil {
		return
	}
	c.deliveryRetries.Add(1)
	c.promDeliveryRetries.Inc()
}

func (c *Collector) SetActiveCalls(n int) {
	if c == nil {
		return
	}
	c.activeCalls.Store(int64(n))
	c.promActiveCalls.Set(float64(n))
}

func (c *Collector) Snapshot() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		ActiveCalls:     c.activeCalls.Load(),
		FramesReceived:  c.framesReceived.Load(),
		FramesDropped:   c.framesDropped.Load(),
		EventsDelivered: c.eventsDelivered.Load(),
		EventsAbandoned: c.eventsAbandoned.Load(),
		DeliveryRetries: c.deliveryRetries.Load(),
	}
}
