package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/mkrav/confa/internal/core"
)

type localRouter struct {
	id    string
	api   *webrtc.API
	audio webrtc.RTPCodecCapability
	video webrtc.RTPCodecCapability
	caps  json.RawMessage

	mu         sync.RWMutex
	relays     map[string]*relay // producer id -> relay, piped ones included
	transports map[string]*localTransport
	closed     bool
}

func (r *localRouter) ID() string { return r.id }

func (r *localRouter) RtpCapabilities() json.RawMessage { return r.caps }

// CanConsume: in-process routers share one codec set per room, so any
// subscriber that declared capabilities at all can consume a known producer.
func (r *localRouter) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	if len(rtpCapabilities) == 0 {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.relays[producerID]
	return ok
}

func (r *localRouter) CreateWebRtcTransport(ctx context.Context) (core.Transport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("router %s closed", r.id)
	}

	pc, err := r.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	t := newLocalTransport(uuid.NewString(), r, pc)
	r.mu.Lock()
	if r.transports == nil {
		r.transports = make(map[string]*localTransport)
	}
	r.transports[t.id] = t
	r.mu.Unlock()
	return t, nil
}

// PipeProducer shares the producer's relay with the target router, so
// consumers attached there can subscribe. In-process piping is a map entry,
// not a network hop, but the contract is the same: after a successful pipe
// the producer is consumable from the target.
func (r *localRouter) PipeProducer(ctx context.Context, producerID string, target core.Router) error {
	dst, ok := target.(*localRouter)
	if !ok {
		return fmt.Errorf("pipe producer %s: target router is not in-process", producerID)
	}
	r.mu.RLock()
	rel, ok := r.relays[producerID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("pipe producer %s: %w", producerID, core.ErrNotFound)
	}
	dst.registerRelay(rel)
	rel.attachRouter(dst)
	return nil
}

func (r *localRouter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*localTransport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
}

func (r *localRouter) registerRelay(rel *relay) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relays[rel.producerID] = rel
}

func (r *localRouter) unregisterRelay(producerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.relays, producerID)
}

func (r *localRouter) relay(producerID string) (*relay, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rel, ok := r.relays[producerID]
	return rel, ok
}

func (r *localRouter) dropTransport(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}

func (r *localRouter) codecFor(kind core.MediaKind) webrtc.RTPCodecCapability {
	if kind == core.KindAudio {
		return r.audio
	}
	return r.video
}
