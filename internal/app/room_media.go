package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mkrav/confa/internal/core"
	"github.com/mkrav/confa/internal/domain"
)

// CreateWebRtcTransport allocates the user's transport for one direction,
// replacing any prior transport of that direction.
func (r *Room) CreateWebRtcTransport(ctx context.Context, userID domain.UserID, consuming bool) (core.TransportInfo, error) {
	r.mu.Lock()
	if _, ok := r.activeUsers[userID]; !ok {
		r.mu.Unlock()
		return core.TransportInfo{}, fmt.Errorf("create transport: user %s: %w", userID, core.ErrNotFound)
	}
	router := r.pickRouterLocked(consuming)
	r.mu.Unlock()

	t, err := r.gw.CreateTransport(ctx, router)
	if err != nil {
		r.log.Error().Err(err).Str("user", string(userID)).Bool("consuming", consuming).Msg("engine transport create failed")
		return core.TransportInfo{}, err
	}

	var old core.Transport
	r.mu.Lock()
	u, ok := r.activeUsers[userID]
	if !ok || r.closed {
		r.mu.Unlock()
		t.Close()
		return core.TransportInfo{}, fmt.Errorf("create transport: user %s left: %w", userID, core.ErrNotFound)
	}
	if consuming {
		old = u.RecvTransport
		u.RecvTransport = t
		u.RecvRouter = router
	} else {
		old = u.SendTransport
		u.SendTransport = t
	}
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	tid := t.ID()
	t.OnClose(func() { r.transportClosed(userID, tid) })
	r.log.Debug().Str("user", string(userID)).Str("transport", tid).Bool("consuming", consuming).Msg("transport created")
	return t.Info(), nil
}

// ConnectTransport finishes the DTLS handshake for a transport the user owns.
func (r *Room) ConnectTransport(ctx context.Context, userID domain.UserID, transportID string, dtlsParameters json.RawMessage) error {
	r.mu.Lock()
	u, ok := r.activeUsers[userID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("connect transport: user %s: %w", userID, core.ErrNotFound)
	}
	t, ok := u.OwnTransport(transportID)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("connect transport %s: %w", transportID, core.ErrNotFound)
	}
	if err := t.Connect(ctx, dtlsParameters); err != nil {
		r.log.Error().Err(err).Str("user", string(userID)).Str("transport", transportID).Msg("engine transport connect failed")
		return err
	}
	return nil
}

// transportClosed handles an engine-side transport close. The producers and
// consumers that lived on it cascade through their own close events; only
// the slot is cleared here.
func (r *Room) transportClosed(userID domain.UserID, transportID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.activeUsers[userID]
	if !ok {
		return
	}
	if u.SendTransport != nil && u.SendTransport.ID() == transportID {
		u.SendTransport = nil
	}
	if u.RecvTransport != nil && u.RecvTransport.ID() == transportID {
		u.RecvTransport = nil
		u.RecvRouter = nil
	}
	r.log.Debug().Str("user", string(userID)).Str("transport", transportID).Msg("transport closed")
}

// CreateProducer publishes a track through one of the user's own transports
// and fans it out to every other ready participant as a consumer.
func (r *Room) CreateProducer(ctx context.Context, userID domain.UserID, transportID string, kind core.MediaKind, rtpParameters json.RawMessage) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("create producer: bad kind %q: %w", kind, core.ErrCapabilityMismatch)
	}

	r.mu.Lock()
	u, ok := r.activeUsers[userID]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("create producer: user %s: %w", userID, core.ErrNotFound)
	}
	t, ok := u.OwnTransport(transportID)
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("create producer: transport %s: %w", transportID, core.ErrNotFound)
	}
	ownerName := u.Name
	routers := r.routersSnapshot()
	r.mu.Unlock()

	p, err := r.gw.CreateProducer(ctx, t, kind, rtpParameters, routers)
	if err != nil {
		r.log.Error().Err(err).Str("user", string(userID)).Str("op", "create-producer").Msg("engine producer create failed")
		return "", err
	}

	type peerSnap struct {
		id domain.UserID
	}
	r.mu.Lock()
	u, ok = r.activeUsers[userID]
	if !ok || r.closed {
		r.mu.Unlock()
		p.Close()
		return "", fmt.Errorf("create producer: user %s left: %w", userID, core.ErrNotFound)
	}
	h := &core.ProducerHandle{Producer: p, Counted: true}
	u.Producers[p.ID()] = h
	r.speakers[userID] = struct{}{}
	r.gw.Counters().AddProducer(kind)
	r.recalcBitrateLocked()
	peers := make([]peerSnap, 0, len(r.activeUsers))
	for id, peer := range r.activeUsers {
		if id != userID && peer.Ready {
			peers = append(peers, peerSnap{id: id})
		}
	}
	r.mu.Unlock()

	pid := p.ID()
	p.OnTransportClose(func() { r.producerClosed(userID, pid) })

	for _, peer := range peers {
		r.createConsumerFor(ctx, peer.id, userID, ownerName, p)
	}
	r.log.Info().Str("user", string(userID)).Str("producer", pid).Str("kind", string(kind)).Msg("producer created")
	return pid, nil
}

// PauseProducer pauses a producer on its owner's request. The engine fans
// the pause out to every consumer through producer-paused events; the room
// never iterates subscribers itself. Returns false when already paused.
func (r *Room) PauseProducer(ctx context.Context, userID domain.UserID, producerID string) (bool, error) {
	r.mu.Lock()
	h, err := r.producerLocked(userID, producerID)
	if err != nil {
		r.mu.Unlock()
		return false, err
	}
	if h.Paused() {
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()

	if err := h.Pause(ctx); err != nil {
		r.log.Error().Err(err).Str("user", string(userID)).Str("producer", producerID).Str("op", "pause-producer").Msg("engine pause failed")
		return false, err
	}

	r.mu.Lock()
	if h2, err := r.producerLocked(userID, producerID); err == nil && h2.Counted {
		h2.Counted = false
		r.gw.Counters().RemoveProducer(h2.Kind())
		r.recalcBitrateLocked()
	}
	r.mu.Unlock()
	return true, nil
}

// ResumeProducer resumes a paused producer; consumers follow through the
// engine's producer-resumed events, each under its own three-way guard.
func (r *Room) ResumeProducer(ctx context.Context, userID domain.UserID, producerID string) (bool, error) {
	r.mu.Lock()
	h, err := r.producerLocked(userID, producerID)
	if err != nil {
		r.mu.Unlock()
		return false, err
	}
	if !h.Paused() {
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()

	if err := h.Resume(ctx); err != nil {
		r.log.Error().Err(err).Str("user", string(userID)).Str("producer", producerID).Str("op", "resume-producer").Msg("engine resume failed")
		return false, err
	}

	r.mu.Lock()
	if h2, err := r.producerLocked(userID, producerID); err == nil && !h2.Counted {
		h2.Counted = true
		r.gw.Counters().AddProducer(h2.Kind())
		r.recalcBitrateLocked()
	}
	r.mu.Unlock()
	return true, nil
}

// CloseProducer closes a producer on its owner's request. Subscribed
// consumers everywhere are torn down by the engine's producer-closed events.
func (r *Room) CloseProducer(ctx context.Context, userID domain.UserID, producerID string) error {
	r.mu.Lock()
	u, ok := r.activeUsers[userID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("close producer: user %s: %w", userID, core.ErrNotFound)
	}
	h, ok := u.Producers[producerID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("close producer %s: %w", producerID, core.ErrNotFound)
	}
	r.removeProducerLocked(u, producerID, h)
	r.mu.Unlock()

	h.Close()
	r.log.Info().Str("user", string(userID)).Str("producer", producerID).Msg("producer closed by owner")
	return nil
}

// producerClosed handles the engine-side close (transport teardown). Both
// close paths funnel into removeProducerLocked, so a producer is never
// decremented twice.
func (r *Room) producerClosed(userID domain.UserID, producerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.activeUsers[userID]
	if !ok {
		return
	}
	h, ok := u.Producers[producerID]
	if !ok {
		return
	}
	r.removeProducerLocked(u, producerID, h)
}

// removeProducerLocked is the single producer-removal transition: unregister
// and decrement only if the producer was actively counted. A paused producer
// does not contribute to load, so its removal must not decrement again.
func (r *Room) removeProducerLocked(u *core.ActiveUser, producerID string, h *core.ProducerHandle) {
	delete(u.Producers, producerID)
	if len(u.Producers) == 0 {
		delete(r.speakers, u.UserID)
	}
	if h.Counted {
		h.Counted = false
		r.gw.Counters().RemoveProducer(h.Kind())
		r.recalcBitrateLocked()
	}
}

func (r *Room) producerLocked(userID domain.UserID, producerID string) (*core.ProducerHandle, error) {
	u, ok := r.activeUsers[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, core.ErrNotFound)
	}
	h, ok := u.Producers[producerID]
	if !ok {
		return nil, fmt.Errorf("producer %s: %w", producerID, core.ErrNotFound)
	}
	return h, nil
}
