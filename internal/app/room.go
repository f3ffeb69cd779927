package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mkrav/confa/internal/core"
	"github.com/mkrav/confa/internal/domain"
	"github.com/mkrav/confa/internal/engine"
)

// Room is the aggregate root of one conference: the registry of connected
// participants and their producers/consumers/transports, plus the router
// set the media engine allocated for it.
//
// All map mutation happens under mu, which is the room's serialization
// point. Engine calls run outside the lock; every completion re-acquires it
// and re-checks liveness before writing, so a disconnect racing an in-flight
// creation simply makes the late result get discarded.
type Room struct {
	meta   *domain.Room
	gw     *engine.Gateway
	alloc  *engine.BitrateAllocator
	policy Policy

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	routers     []core.Router
	cursor      int
	activeUsers map[domain.UserID]*core.ActiveUser
	speakers    map[domain.UserID]struct{}
	maxBitrate  int64
	closed      bool

	log zerolog.Logger
}

func NewRoom(parent context.Context, meta *domain.Room, routers []core.Router, gw *engine.Gateway, alloc *engine.BitrateAllocator) *Room {
	ctx, cancel := context.WithCancel(parent)
	return &Room{
		meta:    meta,
		gw:      gw,
		alloc:   alloc,
		policy:  SimplePolicy{},
		ctx:     ctx,
		cancel:  cancel,
		routers: routers,
		// Consumer-side placement starts after the canonical producer router.
		cursor:      1,
		activeUsers: make(map[domain.UserID]*core.ActiveUser),
		speakers:    make(map[domain.UserID]struct{}),
		log:         log.With().Str("module", "app.room").Str("room", string(meta.ID)).Logger(),
	}
}

func (r *Room) ID() domain.RoomID  { return r.meta.ID }
func (r *Room) Meta() *domain.Room { return r.meta }

// RouterCapabilities can stand in for the room's capabilities: all routers
// of one room are configured identically.
func (r *Room) RouterCapabilities() json.RawMessage {
	return r.routers[0].RtpCapabilities()
}

func (r *Room) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activeUsers)
}

// ActiveUserList is the dashboard view: userId -> display name.
func (r *Room) ActiveUserList() map[domain.UserID]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.UserID]string, len(r.activeUsers))
	for id, u := range r.activeUsers {
		out[id] = u.Name
	}
	return out
}

// SpeakerCount is the number of participants currently publishing at least
// one producer.
func (r *Room) SpeakerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.speakers)
}

// MaxVideoBitrate returns the last broadcast ceiling (bits/sec), 0 if none.
func (r *Room) MaxVideoBitrate() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxBitrate
}

// Join registers a connected participant. A user id can be bound to at most
// one socket; a second join under the same id is rejected, not merged.
func (r *Room) Join(user *core.ActiveUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("room %s closed: %w", r.meta.ID, core.ErrNotFound)
	}
	if _, ok := r.activeUsers[user.UserID]; ok {
		return fmt.Errorf("user %s already joined: %w", user.UserID, core.ErrUnauthorized)
	}
	r.activeUsers[user.UserID] = user
	r.log.Info().Str("user", string(user.UserID)).Str("sid", string(user.SocketID)).Msg("user joined")
	return nil
}

// Ready completes the join: the client declared its name and capabilities.
// Existing producers of every other ready participant are fanned out to the
// newcomer as consumers, and new-user is announced both ways. Allowed once
// per connection.
func (r *Room) Ready(ctx context.Context, userID domain.UserID, name string, rtpCapabilities json.RawMessage) error {
	profile := domain.User{ID: userID}
	if err := profile.SetUsername(name); err != nil {
		return fmt.Errorf("ready: user %s: %w", userID, err)
	}

	type peerSnap struct {
		id        domain.UserID
		name      string
		sig       core.SignalConnection
		producers []core.Producer
	}

	r.mu.Lock()
	u, ok := r.activeUsers[userID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("ready: user %s: %w", userID, core.ErrNotFound)
	}
	if u.Ready {
		r.mu.Unlock()
		return fmt.Errorf("ready: user %s already ready: %w", userID, core.ErrUnauthorized)
	}
	u.Ready = true
	u.Name = profile.Username
	u.RtpCapabilities = rtpCapabilities

	sig := u.Signal
	cached := r.maxBitrate
	peers := make([]peerSnap, 0, len(r.activeUsers))
	for id, p := range r.activeUsers {
		if id == userID || !p.Ready {
			continue
		}
		snap := peerSnap{id: id, name: p.Name, sig: p.Signal}
		for _, h := range p.Producers {
			snap.producers = append(snap.producers, h.Producer)
		}
		peers = append(peers, snap)
	}
	r.mu.Unlock()

	for _, peer := range peers {
		r.send(sig, NewUserEvent{Type: EvtNewUser, ID: peer.id, Name: peer.name})
		r.send(peer.sig, NewUserEvent{Type: EvtNewUser, ID: userID, Name: name})
	}
	if cached > 0 {
		r.send(sig, MaxVideoBitrateEvent{Type: EvtMaxVideoBitrate, Bitrate: cached})
	}
	for _, peer := range peers {
		for _, p := range peer.producers {
			r.createConsumerFor(ctx, userID, peer.id, peer.name, p)
		}
	}
	r.log.Info().Str("user", string(userID)).Str("name", name).Int("peers", len(peers)).Msg("user ready")
	return nil
}

// Disconnect tears down one participant. Duplicate disconnect signals are
// possible; the second call is a no-op.
func (r *Room) Disconnect(userID domain.UserID) {
	r.mu.Lock()
	u, ok := r.activeUsers[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.activeUsers, userID)
	delete(r.speakers, userID)

	// Settle counters for everything the user still had flowing. The engine
	// close events fired below will find the user unregistered and no-op, so
	// nothing is decremented twice.
	for _, h := range u.Producers {
		if h.Counted {
			r.gw.Counters().RemoveProducer(h.Kind())
		}
	}
	for _, h := range u.Consumers {
		if h.Counted {
			r.gw.Counters().RemoveConsumer(h.Kind())
		}
	}
	r.recalcBitrateLocked()
	r.broadcastLocked(UserDisconnectedEvent{Type: EvtUserDisconnected, ID: userID})
	send, recv := u.SendTransport, u.RecvTransport
	r.mu.Unlock()

	if send != nil {
		send.Close()
	}
	if recv != nil {
		recv.Close()
	}
	r.log.Info().Str("user", string(userID)).Msg("user disconnected")
}

// Close evicts every participant and releases the router set. Invoked on
// administrative room removal; the room never closes on its own.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	users := make([]domain.UserID, 0, len(r.activeUsers))
	sigs := make([]core.SignalConnection, 0, len(r.activeUsers))
	for id, u := range r.activeUsers {
		users = append(users, id)
		sigs = append(sigs, u.Signal)
	}
	r.mu.Unlock()

	for _, id := range users {
		r.Disconnect(id)
	}
	for _, sig := range sigs {
		sig.Close()
	}
	for _, router := range r.routers {
		router.Close()
	}
	r.cancel()
	r.log.Info().Msg("room closed")
}

// pickRouterLocked implements the placement policy: producing transports
// always land on the canonical router 0 (the piping scheme depends on it),
// consuming transports rotate over the whole set.
func (r *Room) pickRouterLocked(consuming bool) core.Router {
	if !consuming || len(r.routers) == 1 {
		return r.routers[0]
	}
	router := r.routers[r.cursor]
	r.cursor = (r.cursor + 1) % len(r.routers)
	return router
}

func (r *Room) routersSnapshot() []core.Router {
	out := make([]core.Router, len(r.routers))
	copy(out, r.routers)
	return out
}

// recalcBitrateLocked recomputes the room ceiling from the process-wide
// counters and broadcasts it when a positive value exists. With no video
// producer nothing is sent and the previous value stays cached.
func (r *Room) recalcBitrateLocked() {
	bps, ok := r.alloc.Recalculate(r.gw.Counters().Snapshot())
	if !ok {
		return
	}
	r.maxBitrate = bps
	r.broadcastLocked(MaxVideoBitrateEvent{Type: EvtMaxVideoBitrate, Bitrate: bps})
}

func (r *Room) broadcastLocked(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		r.log.Error().Err(err).Msg("broadcast marshal")
		return
	}
	for _, u := range r.activeUsers {
		if err := u.Signal.TrySend(b); err == nil {
			continue
		}
		switch r.policy.OnBackPressure(r.meta.ID, u.UserID) {
		case KickMember:
			r.log.Warn().Str("user", string(u.UserID)).Msg("signal backpressure, kicking member")
			uid, sig := u.UserID, u.Signal
			// Teardown re-enters the room lock, so it runs off this path.
			go func() {
				r.Disconnect(uid)
				sig.Close()
			}()
		case MarkSlow:
			r.log.Warn().Str("user", string(u.UserID)).Msg("member signal slow")
		default:
			r.log.Debug().Str("user", string(u.UserID)).Msg("broadcast dropped")
		}
	}
}

func (r *Room) send(sig core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		r.log.Error().Err(err).Msg("send marshal")
		return
	}
	if err := sig.TrySend(b); err != nil {
		r.log.Debug().Err(err).Msg("send dropped")
	}
}
