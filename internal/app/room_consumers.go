package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/mkrav/confa/internal/core"
	"github.com/mkrav/confa/internal/domain"
)

// createConsumerFor subscribes viewer to one of owner's producers. The
// consumer starts paused with the client-requested pause flag set; no
// bandwidth flows until the client explicitly resumes. Failures degrade only
// this viewer's subscription, never the room.
func (r *Room) createConsumerFor(ctx context.Context, viewerID, ownerID domain.UserID, ownerName string, p core.Producer) {
	r.mu.Lock()
	viewer, ok := r.activeUsers[viewerID]
	if !ok || !viewer.Ready || viewer.RecvTransport == nil {
		r.mu.Unlock()
		r.log.Debug().Str("viewer", string(viewerID)).Str("producer", p.ID()).Msg("viewer not consumable, skipping")
		return
	}
	transport := viewer.RecvTransport
	router := viewer.RecvRouter
	caps := viewer.RtpCapabilities
	sig := viewer.Signal
	r.mu.Unlock()

	c, err := r.gw.CreateConsumer(ctx, transport, router, p.ID(), caps)
	if err != nil {
		if errors.Is(err, core.ErrCapabilityMismatch) || errors.Is(err, core.ErrNotFound) {
			r.log.Info().Err(err).Str("viewer", string(viewerID)).Str("producer", p.ID()).Msg("consumer skipped")
		} else {
			r.log.Error().Err(err).Str("viewer", string(viewerID)).Str("producer", p.ID()).Str("op", "create-consumer").Msg("engine consumer create failed")
		}
		return
	}

	cid := c.ID()
	c.OnTransportClose(func() { r.consumerClosed(viewerID, cid) })
	c.OnProducerClose(func() { r.consumerClosed(viewerID, cid) })
	c.OnProducerPause(func() { r.consumerProducerPaused(viewerID, cid) })
	c.OnProducerResume(func() { r.consumerProducerResumed(viewerID, cid) })

	r.mu.Lock()
	viewer, ok = r.activeUsers[viewerID]
	owner, ownerAlive := r.activeUsers[ownerID]
	producerAlive := false
	if ownerAlive {
		_, producerAlive = owner.Producers[p.ID()]
	}
	if !ok || !producerAlive {
		// Disconnect or producer close raced the engine round trip; the late
		// result is discarded, not cancelled.
		r.mu.Unlock()
		c.Close()
		return
	}
	viewer.Consumers[cid] = &core.ConsumerHandle{
		Consumer:       c,
		ProducerUserID: ownerID,
		ClientPaused:   true,
		ProducerPaused: p.Paused(),
	}
	r.mu.Unlock()

	r.send(sig, NewConsumerEvent{
		Type:           EvtNewConsumer,
		ID:             p.ID(),
		ConsumerID:     cid,
		ProducerUserID: ownerID,
		Name:           ownerName,
		Kind:           string(c.Kind()),
		RtpParameters:  c.RtpParameters(),
	})
	r.log.Debug().Str("viewer", string(viewerID)).Str("consumer", cid).Str("producer", p.ID()).Msg("consumer created")
}

// PauseConsumer handles a client-requested pause. Always succeeds; pausing
// an already paused consumer is a no-op, reported as unchanged.
func (r *Room) PauseConsumer(ctx context.Context, userID domain.UserID, consumerID string) (bool, error) {
	r.mu.Lock()
	h, err := r.consumerLocked(userID, consumerID)
	if err != nil {
		r.mu.Unlock()
		return false, err
	}
	h.ClientPaused = true
	if h.Paused() {
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()

	if err := h.Pause(ctx); err != nil {
		r.log.Error().Err(err).Str("user", string(userID)).Str("consumer", consumerID).Str("op", "pause-consumer").Msg("engine pause failed")
		return false, err
	}
	r.settleConsumerCounter(userID, consumerID)
	return true, nil
}

// ResumeConsumer handles a client-requested resume. It clears the client
// pause flag and resumes only under the three-way guard: engine-paused,
// producer not paused, client no longer asking for pause.
func (r *Room) ResumeConsumer(ctx context.Context, userID domain.UserID, consumerID string) (bool, error) {
	r.mu.Lock()
	h, err := r.consumerLocked(userID, consumerID)
	if err != nil {
		r.mu.Unlock()
		return false, err
	}
	h.ClientPaused = false
	if !h.ResumableNow() {
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()

	if err := h.Resume(ctx); err != nil {
		r.log.Error().Err(err).Str("user", string(userID)).Str("consumer", consumerID).Str("op", "resume-consumer").Msg("engine resume failed")
		return false, err
	}
	r.settleConsumerCounter(userID, consumerID)
	return true, nil
}

// consumerProducerPaused reacts to the engine's producer-paused event:
// pause the consumer server-side, remember that the producer wants it
// paused, and tell the client.
func (r *Room) consumerProducerPaused(userID domain.UserID, consumerID string) {
	r.mu.Lock()
	h, err := r.consumerLocked(userID, consumerID)
	if err != nil {
		r.mu.Unlock()
		return
	}
	h.ProducerPaused = true
	needPause := !h.Paused()
	sig := r.activeUsers[userID].Signal
	r.mu.Unlock()

	if needPause {
		if err := h.Pause(r.ctx); err != nil {
			r.log.Error().Err(err).Str("user", string(userID)).Str("consumer", consumerID).Str("op", "producer-paused").Msg("engine pause failed")
		}
	}
	r.settleConsumerCounter(userID, consumerID)
	r.send(sig, ConsumerEvent{Type: EvtPauseConsumer, ConsumerID: consumerID})
}

// consumerProducerResumed reacts to producer-resumed: attempt the resume
// under the three-way guard. A consumer whose client asked for pause stays
// paused.
func (r *Room) consumerProducerResumed(userID domain.UserID, consumerID string) {
	r.mu.Lock()
	h, err := r.consumerLocked(userID, consumerID)
	if err != nil {
		r.mu.Unlock()
		return
	}
	h.ProducerPaused = false
	if !h.ResumableNow() {
		r.mu.Unlock()
		return
	}
	sig := r.activeUsers[userID].Signal
	r.mu.Unlock()

	if err := h.Resume(r.ctx); err != nil {
		r.log.Error().Err(err).Str("user", string(userID)).Str("consumer", consumerID).Str("op", "producer-resumed").Msg("engine resume failed")
		return
	}
	r.settleConsumerCounter(userID, consumerID)
	r.send(sig, ConsumerEvent{Type: EvtResumeConsumer, ConsumerID: consumerID})
}

// consumerClosed is the single consumer-removal transition; transport-close,
// producer-close and disconnect teardown all funnel here (the latter leaves
// the user unregistered, making this a no-op).
func (r *Room) consumerClosed(userID domain.UserID, consumerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.activeUsers[userID]
	if !ok {
		return
	}
	h, ok := u.Consumers[consumerID]
	if !ok {
		return
	}
	delete(u.Consumers, consumerID)
	if h.Counted {
		h.Counted = false
		r.gw.Counters().RemoveConsumer(h.Kind())
		r.recalcBitrateLocked()
	}
	r.log.Debug().Str("user", string(userID)).Str("consumer", consumerID).Msg("consumer removed")
}

// settleConsumerCounter reconciles the counted flag with the engine-reported
// pause state after a pause/resume round trip, exactly once per transition
// into or out of the actively flowing state.
func (r *Room) settleConsumerCounter(userID domain.UserID, consumerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, err := r.consumerLocked(userID, consumerID)
	if err != nil {
		return
	}
	flowing := !h.Paused()
	if flowing == h.Counted {
		return
	}
	h.Counted = flowing
	if flowing {
		r.gw.Counters().AddConsumer(h.Kind())
	} else {
		r.gw.Counters().RemoveConsumer(h.Kind())
	}
	r.recalcBitrateLocked()
}

func (r *Room) consumerLocked(userID domain.UserID, consumerID string) (*core.ConsumerHandle, error) {
	u, ok := r.activeUsers[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, core.ErrNotFound)
	}
	h, ok := u.Consumers[consumerID]
	if !ok {
		return nil, fmt.Errorf("consumer %s: %w", consumerID, core.ErrNotFound)
	}
	return h, nil
}
