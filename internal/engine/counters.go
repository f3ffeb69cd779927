package engine

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mkrav/confa/internal/core"
)

// Counts is a point-in-time snapshot of the process-wide stream population.
type Counts struct {
	AudioProducers int64
	VideoProducers int64
	AudioConsumers int64
	VideoConsumers int64
}

// StreamCounters tracks the number of actively flowing (not-paused)
// producers and consumers per kind, across all rooms. Capacity is a
// server-wide resource, so the counters are process-wide and injected into
// every room rather than kept as a singleton.
type StreamCounters struct {
	audioProducers atomic.Int64
	videoProducers atomic.Int64
	audioConsumers atomic.Int64
	videoConsumers atomic.Int64

	gaugeProducers *prometheus.GaugeVec
	gaugeConsumers *prometheus.GaugeVec
}

func NewStreamCounters(reg prometheus.Registerer) *StreamCounters {
	c := &StreamCounters{
		gaugeProducers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "confa_active_producers",
			Help: "Not-paused producers by media kind.",
		}, []string{"kind"}),
		gaugeConsumers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "confa_active_consumers",
			Help: "Not-paused consumers by media kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(c.gaugeProducers, c.gaugeConsumers)
	}
	return c
}

func (c *StreamCounters) AddProducer(kind core.MediaKind) {
	c.producer(kind).Add(1)
	c.gaugeProducers.WithLabelValues(string(kind)).Inc()
}

func (c *StreamCounters) RemoveProducer(kind core.MediaKind) {
	c.producer(kind).Add(-1)
	c.gaugeProducers.WithLabelValues(string(kind)).Dec()
}

func (c *StreamCounters) AddConsumer(kind core.MediaKind) {
	c.consumer(kind).Add(1)
	c.gaugeConsumers.WithLabelValues(string(kind)).Inc()
}

func (c *StreamCounters) RemoveConsumer(kind core.MediaKind) {
	c.consumer(kind).Add(-1)
	c.gaugeConsumers.WithLabelValues(string(kind)).Dec()
}

func (c *StreamCounters) Snapshot() Counts {
	return Counts{
		AudioProducers: c.audioProducers.Load(),
		VideoProducers: c.videoProducers.Load(),
		AudioConsumers: c.audioConsumers.Load(),
		VideoConsumers: c.videoConsumers.Load(),
	}
}

func (c *StreamCounters) producer(kind core.MediaKind) *atomic.Int64 {
	if kind == core.KindAudio {
		return &c.audioProducers
	}
	return &c.videoProducers
}

func (c *StreamCounters) consumer(kind core.MediaKind) *atomic.Int64 {
	if kind == core.KindAudio {
		return &c.audioConsumers
	}
	return &c.videoConsumers
}
