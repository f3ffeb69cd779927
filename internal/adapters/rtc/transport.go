package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/mkrav/confa/internal/core"
)

// localTransport wraps one pion PeerConnection. The server is the offerer:
// Info carries the local offer in the dtls slot and the ICE server list in
// the ice slot; Connect expects the client's SDP answer.
type localTransport struct {
	id     string
	router *localRouter
	pc     *webrtc.PeerConnection

	mu        sync.Mutex
	pending   map[core.MediaKind][]*localProducer // produce requests awaiting their track
	producers map[string]*localProducer
	consumers map[string]*localConsumer
	onClose   []func()
	closed    bool
}

func newLocalTransport(id string, router *localRouter, pc *webrtc.PeerConnection) *localTransport {
	t := &localTransport{
		id:        id,
		router:    router,
		pc:        pc,
		pending:   make(map[core.MediaKind][]*localProducer),
		producers: make(map[string]*localProducer),
		consumers: make(map[string]*localConsumer),
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		t.bindTrack(track)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("module", "rtc.transport").Str("transport", t.id).Str("state", s.String()).Msg("connection state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			t.Close()
		}
	})
	return t
}

func (t *localTransport) ID() string { return t.id }

func (t *localTransport) Info() core.TransportInfo {
	ice, _ := json.Marshal([]string{"stun:stun.l.google.com:19302"})

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		log.Error().Err(err).Str("module", "rtc.transport").Str("transport", t.id).Msg("create offer")
		return core.TransportInfo{ID: t.id, Ice: ice}
	}
	gathered := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		log.Error().Err(err).Str("module", "rtc.transport").Str("transport", t.id).Msg("set local description")
		return core.TransportInfo{ID: t.id, Ice: ice}
	}
	<-gathered

	dtls, _ := json.Marshal(t.pc.LocalDescription())
	return core.TransportInfo{ID: t.id, Ice: ice, Dtls: dtls}
}

func (t *localTransport) Connect(ctx context.Context, dtlsParameters json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(dtlsParameters, &answer); err != nil {
		return fmt.Errorf("transport %s connect: bad answer: %w", t.id, err)
	}
	if err := t.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("transport %s connect: %w", t.id, err)
	}
	return nil
}

func (t *localTransport) Produce(ctx context.Context, kind core.MediaKind, rtpParameters json.RawMessage) (core.Producer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport %s closed", t.id)
	}
	t.mu.Unlock()

	direction := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}
	var err error
	if kind == core.KindAudio {
		_, err = t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, direction)
	} else {
		_, err = t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, direction)
	}
	if err != nil {
		return nil, fmt.Errorf("produce %s: add transceiver: %w", kind, err)
	}

	rel := newRelay(uuid.NewString(), kind, t.router.codecFor(kind), t.router)
	p := &localProducer{
		id:        rel.producerID,
		kind:      kind,
		relay:     rel,
		transport: t,
	}
	t.router.registerRelay(rel)

	t.mu.Lock()
	t.pending[kind] = append(t.pending[kind], p)
	t.producers[p.id] = p
	t.mu.Unlock()
	return p, nil
}

// bindTrack matches an arriving remote track against the oldest produce
// request of its kind.
func (t *localTransport) bindTrack(track *webrtc.TrackRemote) {
	kind := core.KindVideo
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		kind = core.KindAudio
	}

	t.mu.Lock()
	queue := t.pending[kind]
	if len(queue) == 0 {
		t.mu.Unlock()
		log.Warn().Str("module", "rtc.transport").Str("transport", t.id).Str("kind", string(kind)).Msg("track arrived with no produce request")
		return
	}
	p := queue[0]
	t.pending[kind] = queue[1:]
	t.mu.Unlock()

	p.relay.bind(context.Background(), track)
}

func (t *localTransport) Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (core.Consumer, error) {
	rel, ok := t.router.relay(producerID)
	if !ok {
		return nil, fmt.Errorf("consume %s: %w", producerID, core.ErrNotFound)
	}

	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticRTP(rel.codec, id, "confa")
	if err != nil {
		return nil, fmt.Errorf("consume %s: new local track: %w", producerID, err)
	}
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("consume %s: add track: %w", producerID, err)
	}

	params, _ := json.Marshal(rel.codec)
	c := &localConsumer{
		id:         id,
		producerID: producerID,
		kind:       rel.kind,
		track:      track,
		sender:     sender,
		relay:      rel,
		transport:  t,
		rtpParams:  params,
	}
	c.paused.Store(true) // consumers always start paused

	rel.addOut(c)
	t.mu.Lock()
	t.consumers[id] = c
	t.mu.Unlock()
	return c, nil
}

func (t *localTransport) OnClose(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = append(t.onClose, fn)
}

func (t *localTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	producers := make([]*localProducer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*localConsumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	callbacks := t.onClose
	t.mu.Unlock()

	// Producers first: their relays fan producer-closed out to subscribers
	// on other transports before this side's consumers are dropped.
	for _, p := range producers {
		p.relay.close()
		p.fireTransportClose()
	}
	for _, c := range consumers {
		c.relay.removeOut(c.id)
		c.fireTransportClose()
	}
	for _, fn := range callbacks {
		fn()
	}

	t.router.dropTransport(t.id)
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc.transport").Str("transport", t.id).Msg("peer connection close")
	}
}

func (t *localTransport) dropProducer(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.producers, id)
}

func (t *localTransport) dropConsumer(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.consumers, id)
}
