package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mkrav/confa/internal/core"
	"github.com/mkrav/confa/internal/domain"
)

// Gateway is the façade over the native media-engine workers. It creates
// routers/transports/producers/consumers and owns the process-wide stream
// counters. Per-room bookkeeping stays in the room; the gateway holds no
// room state.
type Gateway struct {
	workers  []core.Worker
	counters *StreamCounters
}

func NewGateway(workers []core.Worker, counters *StreamCounters) *Gateway {
	return &Gateway{workers: workers, counters: counters}
}

func (g *Gateway) Counters() *StreamCounters { return g.counters }

func (g *Gateway) WorkerCount() int { return len(g.workers) }

// CreateRouters allocates one router per worker, all configured with the
// same codec, so any of them can represent the room's capabilities.
func (g *Gateway) CreateRouters(ctx context.Context, codec domain.VideoCodec) ([]core.Router, error) {
	routers := make([]core.Router, 0, len(g.workers))
	for i, w := range g.workers {
		r, err := w.CreateRouter(ctx, codec)
		if err != nil {
			for _, created := range routers {
				created.Close()
			}
			return nil, fmt.Errorf("create router on worker %d: %w", i, err)
		}
		routers = append(routers, r)
	}
	return routers, nil
}

// CreateTransport allocates a WebRTC transport on the given router. Binding
// it to the user's producing/consuming slot is done by the room under its
// own serialization point, after this call returns.
func (g *Gateway) CreateTransport(ctx context.Context, router core.Router) (core.Transport, error) {
	t, err := router.CreateWebRtcTransport(ctx)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	return t, nil
}

// CreateProducer produces on the given transport and pipes the producer from
// its home router (routers[0]) to every other router in the set, so a
// consumer attached to any router can consume it. A pipe failure fails the
// whole creation; a partially-piped producer is never left behind.
func (g *Gateway) CreateProducer(
	ctx context.Context,
	transport core.Transport,
	kind core.MediaKind,
	rtpParameters json.RawMessage,
	routers []core.Router,
) (core.Producer, error) {
	p, err := transport.Produce(ctx, kind, rtpParameters)
	if err != nil {
		return nil, fmt.Errorf("produce %s: %w", kind, err)
	}
	for i := 1; i < len(routers); i++ {
		if err := routers[0].PipeProducer(ctx, p.ID(), routers[i]); err != nil {
			log.Error().Err(err).
				Str("module", "engine.gateway").
				Str("producer", p.ID()).
				Str("router", routers[i].ID()).
				Msg("pipe producer failed, rolling back")
			p.Close()
			return nil, fmt.Errorf("pipe producer %s: %w", p.ID(), err)
		}
	}
	return p, nil
}

// CreateConsumer creates a consumer for producerID on the user's consuming
// transport. Preconditions: the subscriber has declared rtp capabilities and
// the router accepts the pairing. The engine creates consumers paused.
func (g *Gateway) CreateConsumer(
	ctx context.Context,
	transport core.Transport,
	router core.Router,
	producerID string,
	rtpCapabilities json.RawMessage,
) (core.Consumer, error) {
	if transport == nil {
		return nil, fmt.Errorf("consume %s: no consuming transport: %w", producerID, core.ErrNotFound)
	}
	if len(rtpCapabilities) == 0 || !router.CanConsume(producerID, rtpCapabilities) {
		return nil, fmt.Errorf("consume %s: %w", producerID, core.ErrCapabilityMismatch)
	}
	c, err := transport.Consume(ctx, producerID, rtpCapabilities)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", producerID, err)
	}
	return c, nil
}
