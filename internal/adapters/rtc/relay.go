package rtc

import (
	"context"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mkrav/confa/internal/core"
)

// relay fans one producer's RTP stream out to its consumers. The source
// track binds asynchronously, when the client's media actually arrives;
// until then the relay exists but forwards nothing.
type relay struct {
	producerID string
	kind       core.MediaKind
	codec      webrtc.RTPCodecCapability

	mu      sync.RWMutex
	src     *webrtc.TrackRemote
	outs    map[string]*localConsumer // consumer id -> subscriber
	routers []*localRouter            // every router this relay is registered on
	paused  bool                      // producer-requested: forwarding fully suspended
	closed  bool
	cancel  context.CancelFunc

	log zerolog.Logger
}

func newRelay(producerID string, kind core.MediaKind, codec webrtc.RTPCodecCapability, home *localRouter) *relay {
	return &relay{
		producerID: producerID,
		kind:       kind,
		codec:      codec,
		outs:       make(map[string]*localConsumer),
		routers:    []*localRouter{home},
		log:        log.With().Str("module", "rtc.relay").Str("producer", producerID).Logger(),
	}
}

// bind attaches the remote source track and starts the forwarding loop.
func (r *relay) bind(ctx context.Context, track *webrtc.TrackRemote) {
	r.mu.Lock()
	if r.closed || r.src != nil {
		r.mu.Unlock()
		return
	}
	r.src = track
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	r.log.Info().Msg("source track bound, starting relay loop")
	go r.loop(loopCtx, track)
}

func (r *relay) loop(ctx context.Context, src *webrtc.TrackRemote) {
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("relay ctx done")
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			r.log.Error().Err(err).Msg("relay read RTP error, closing")
			r.close()
			return
		}
		r.forward(pkt)
	}
}

func (r *relay) forward(pkt *rtp.Packet) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.paused {
		return
	}
	for _, c := range r.outs {
		if !c.flowing() {
			continue
		}
		if err := c.track.WriteRTP(pkt); err != nil {
			r.log.Error().Err(err).Str("consumer", c.id).Msg("relay write RTP error")
		}
	}
}

func (r *relay) addOut(c *localConsumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outs[c.id] = c
}

func (r *relay) removeOut(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.outs, id)
}

func (r *relay) attachRouter(router *localRouter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routers = append(r.routers, router)
}

// setPaused toggles the producer-side pause and fires the corresponding
// producer event on every subscriber.
func (r *relay) setPaused(paused bool) {
	r.mu.Lock()
	if r.closed || r.paused == paused {
		r.mu.Unlock()
		return
	}
	r.paused = paused
	outs := r.snapshotOutsLocked()
	r.mu.Unlock()

	for _, c := range outs {
		if paused {
			c.fireProducerPause()
		} else {
			c.fireProducerResume()
		}
	}
}

// close tears the relay down: the forwarding loop stops, every subscriber
// receives producer-closed, and the relay disappears from all routers.
func (r *relay) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.cancel != nil {
		r.cancel()
	}
	outs := r.snapshotOutsLocked()
	routers := make([]*localRouter, len(r.routers))
	copy(routers, r.routers)
	r.outs = make(map[string]*localConsumer)
	r.mu.Unlock()

	for _, router := range routers {
		router.unregisterRelay(r.producerID)
	}
	for _, c := range outs {
		c.fireProducerClose()
	}
	r.log.Info().Msg("relay closed")
}

func (r *relay) snapshotOutsLocked() []*localConsumer {
	outs := make([]*localConsumer, 0, len(r.outs))
	for _, c := range r.outs {
		outs = append(outs, c)
	}
	return outs
}
