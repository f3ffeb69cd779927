package core

import (
	"context"
	"encoding/json"

	"github.com/mkrav/confa/internal/domain"
)

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool { return k == KindAudio || k == KindVideo }

// Worker is one native media-engine process. The engine itself is a black
// box reachable over this surface; calls may block for a real round trip.
type Worker interface {
	CreateRouter(ctx context.Context, codec domain.VideoCodec) (Router, error)
	Close()
}

// Router is a media routing context on one worker. All routers created for
// one room share the same codec set, so any router's capabilities can stand
// in for the room's capabilities.
type Router interface {
	ID() string
	RtpCapabilities() json.RawMessage

	// CanConsume asks the engine whether a subscriber with the given
	// capabilities can consume the producer. Negotiation is engine-delegated,
	// never re-implemented on this side.
	CanConsume(producerID string, rtpCapabilities json.RawMessage) bool

	CreateWebRtcTransport(ctx context.Context) (Transport, error)

	// PipeProducer replicates a producer hosted on this router onto target,
	// so consumers attached to target can subscribe to it.
	PipeProducer(ctx context.Context, producerID string, target Router) error

	Close()
}

// TransportInfo is the connection material handed to the client verbatim.
type TransportInfo struct {
	ID   string          `json:"id"`
	Ice  json.RawMessage `json:"ice"`
	Dtls json.RawMessage `json:"dtls"`
}

// Transport is a per-direction network endpoint bound to one participant
// and one router.
type Transport interface {
	ID() string
	Info() TransportInfo

	Connect(ctx context.Context, dtlsParameters json.RawMessage) error

	Produce(ctx context.Context, kind MediaKind, rtpParameters json.RawMessage) (Producer, error)

	// Consume creates a consumer for producerID. Engine contract: the
	// consumer always starts paused.
	Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (Consumer, error)

	// OnClose fires when the engine closes the transport from its side.
	OnClose(fn func())
	Close()
}

// Producer is a published inbound media track.
type Producer interface {
	ID() string
	Kind() MediaKind
	Paused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error

	// OnTransportClose fires when the owning transport goes away.
	OnTransportClose(fn func())

	// Close tears the producer down and makes the engine fire the
	// producer-closed event on every consumer of it.
	Close()
}

// Consumer is a forwarded subscription to one producer.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() MediaKind
	Paused() bool
	RtpParameters() json.RawMessage
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error

	OnTransportClose(fn func())
	OnProducerClose(fn func())
	OnProducerPause(fn func())
	OnProducerResume(fn func())

	Close()
}
