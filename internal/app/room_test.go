package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkrav/confa/internal/core"
	"github.com/mkrav/confa/internal/core/coretest"
	"github.com/mkrav/confa/internal/domain"
	"github.com/mkrav/confa/internal/engine"
)

var (
	testCaps   = json.RawMessage(`{"codecs":["audio/opus","video/VP8"]}`)
	testParams = json.RawMessage(`{"encodings":[{"ssrc":1}]}`)
)

func newTestRoom(t *testing.T, workers int) *Room {
	t.Helper()
	eng := coretest.NewEngine()
	gw := engine.NewGateway(eng.Workers(workers), engine.NewStreamCounters(nil))
	alloc := engine.NewBitrateAllocator(engine.Capacity{
		NetworkInMbit:  100,
		NetworkOutMbit: 100,
		MaxAudioMbit:   0.0625,
	})
	routers, err := gw.CreateRouters(context.Background(), domain.CodecVP8)
	require.NoError(t, err)
	meta := &domain.Room{ID: "room-1", Name: "test", VideoCodec: domain.CodecVP8}
	return NewRoom(context.Background(), meta, routers, gw, alloc)
}

func joinUser(t *testing.T, r *Room, id string) *coretest.Signal {
	t.Helper()
	sig := coretest.NewSignal()
	u := core.NewActiveUser(domain.UserID(id), core.SessionID("sid-"+id), r.ID(), sig)
	require.NoError(t, r.Join(u))
	return sig
}

func readyUser(t *testing.T, r *Room, id, name string) *coretest.Signal {
	t.Helper()
	sig := joinUser(t, r, id)
	_, err := r.CreateWebRtcTransport(context.Background(), domain.UserID(id), true)
	require.NoError(t, err)
	require.NoError(t, r.Ready(context.Background(), domain.UserID(id), name, testCaps))
	return sig
}

func produce(t *testing.T, r *Room, id string, kind core.MediaKind) string {
	t.Helper()
	var tid string
	r.mu.Lock()
	if u, ok := r.activeUsers[domain.UserID(id)]; ok && u.SendTransport != nil {
		tid = u.SendTransport.ID()
	}
	r.mu.Unlock()
	if tid == "" {
		info, err := r.CreateWebRtcTransport(context.Background(), domain.UserID(id), false)
		require.NoError(t, err)
		tid = info.ID
	}
	pid, err := r.CreateProducer(context.Background(), domain.UserID(id), tid, kind, testParams)
	require.NoError(t, err)
	return pid
}

func counts(r *Room) engine.Counts {
	return r.gw.Counters().Snapshot()
}

func TestJoinRejectsDuplicate(t *testing.T) {
	r := newTestRoom(t, 1)
	joinUser(t, r, "alice")

	second := core.NewActiveUser("alice", "sid-2", r.ID(), coretest.NewSignal())
	require.ErrorIs(t, r.Join(second), core.ErrUnauthorized)
	require.Equal(t, 1, r.UserCount())
}

func TestReadyAnnounces(t *testing.T) {
	r := newTestRoom(t, 1)
	aliceSig := readyUser(t, r, "alice", "Alice")
	require.Empty(t, aliceSig.Frames(), "first participant has nobody to hear about")

	bobSig := readyUser(t, r, "bob", "Bob")

	var toBob NewUserEvent
	require.True(t, bobSig.LastEvent(EvtNewUser, &toBob))
	require.Equal(t, domain.UserID("alice"), toBob.ID)
	require.Equal(t, "Alice", toBob.Name)

	var toAlice NewUserEvent
	require.True(t, aliceSig.LastEvent(EvtNewUser, &toAlice))
	require.Equal(t, domain.UserID("bob"), toAlice.ID)

	require.Error(t, r.Ready(context.Background(), "bob", "Bob", testCaps), "ready is once per connection")
}

func TestProducerFanOut(t *testing.T) {
	r := newTestRoom(t, 1)
	readyUser(t, r, "alice", "Alice")
	bobSig := readyUser(t, r, "bob", "Bob")

	pid := produce(t, r, "alice", core.KindVideo)

	var ev NewConsumerEvent
	require.True(t, bobSig.LastEvent(EvtNewConsumer, &ev))
	require.Equal(t, pid, ev.ID)
	require.Equal(t, domain.UserID("alice"), ev.ProducerUserID)
	require.Equal(t, "Alice", ev.Name)
	require.Equal(t, "video", ev.Kind)
	require.NotEmpty(t, ev.ConsumerID)
	require.NotEmpty(t, ev.RtpParameters)

	// The consumer is created paused and is never resumed without an
	// explicit client request.
	c := counts(r)
	require.Equal(t, int64(1), c.VideoProducers)
	require.Equal(t, int64(0), c.VideoConsumers)

	// One flowing producer, zero counted consumers: provisioned as one.
	require.Equal(t, int64(100_000_000), r.MaxVideoBitrate())
	var br MaxVideoBitrateEvent
	require.True(t, bobSig.LastEvent(EvtMaxVideoBitrate, &br))
	require.Equal(t, int64(100_000_000), br.Bitrate)
}

func TestLateJoinerGetsExistingProducers(t *testing.T) {
	r := newTestRoom(t, 1)
	readyUser(t, r, "alice", "Alice")
	produce(t, r, "alice", core.KindVideo)

	charlieSig := readyUser(t, r, "charlie", "Charlie")

	var ev NewConsumerEvent
	require.True(t, charlieSig.LastEvent(EvtNewConsumer, &ev))
	require.Equal(t, domain.UserID("alice"), ev.ProducerUserID)

	var br MaxVideoBitrateEvent
	require.True(t, charlieSig.LastEvent(EvtMaxVideoBitrate, &br), "cached ceiling is replayed to newcomers")
}

func consumerOf(t *testing.T, sig *coretest.Signal) string {
	t.Helper()
	var ev NewConsumerEvent
	require.True(t, sig.LastEvent(EvtNewConsumer, &ev))
	return ev.ConsumerID
}

func TestConsumerResumeGuard(t *testing.T) {
	r := newTestRoom(t, 1)
	readyUser(t, r, "alice", "Alice")
	bobSig := readyUser(t, r, "bob", "Bob")
	pid := produce(t, r, "alice", core.KindVideo)
	cid := consumerOf(t, bobSig)

	changed, err := r.ResumeConsumer(context.Background(), "bob", cid)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, int64(1), counts(r).VideoConsumers)

	// Producer pause cascades: bob's consumer is paused server-side and the
	// client is told.
	changed, err = r.PauseProducer(context.Background(), "alice", pid)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, int64(0), counts(r).VideoProducers)
	require.Equal(t, int64(0), counts(r).VideoConsumers)
	require.GreaterOrEqual(t, bobSig.CountEvents(EvtPauseConsumer), 1)

	// A client resume while the producer is paused clears the client flag
	// but must not resume.
	changed, err = r.ResumeConsumer(context.Background(), "bob", cid)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, int64(0), counts(r).VideoConsumers)

	// Producer resume now passes the guard for bob.
	changed, err = r.ResumeProducer(context.Background(), "alice", pid)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, int64(1), counts(r).VideoProducers)
	require.Equal(t, int64(1), counts(r).VideoConsumers)
	require.GreaterOrEqual(t, bobSig.CountEvents(EvtResumeConsumer), 1)
}

func TestClientPauseSurvivesProducerResume(t *testing.T) {
	r := newTestRoom(t, 1)
	readyUser(t, r, "alice", "Alice")
	bobSig := readyUser(t, r, "bob", "Bob")
	pid := produce(t, r, "alice", core.KindVideo)
	cid := consumerOf(t, bobSig)

	_, err := r.ResumeConsumer(context.Background(), "bob", cid)
	require.NoError(t, err)

	changed, err := r.PauseConsumer(context.Background(), "bob", cid)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, int64(0), counts(r).VideoConsumers)

	// Pausing an already paused consumer reports unchanged.
	changed, err = r.PauseConsumer(context.Background(), "bob", cid)
	require.NoError(t, err)
	require.False(t, changed)

	// The producer bouncing must not override the client's wish.
	_, err = r.PauseProducer(context.Background(), "alice", pid)
	require.NoError(t, err)
	_, err = r.ResumeProducer(context.Background(), "alice", pid)
	require.NoError(t, err)
	require.Equal(t, int64(0), counts(r).VideoConsumers)
}

func TestPauseProducerIdempotent(t *testing.T) {
	r := newTestRoom(t, 1)
	readyUser(t, r, "alice", "Alice")
	pid := produce(t, r, "alice", core.KindVideo)

	changed, err := r.PauseProducer(context.Background(), "alice", pid)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = r.PauseProducer(context.Background(), "alice", pid)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, int64(0), counts(r).VideoProducers)

	_, err = r.PauseProducer(context.Background(), "alice", "no-such-producer")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestCloseProducerTearsDownConsumers(t *testing.T) {
	r := newTestRoom(t, 1)
	readyUser(t, r, "alice", "Alice")
	bobSig := readyUser(t, r, "bob", "Bob")
	pid := produce(t, r, "alice", core.KindVideo)
	cid := consumerOf(t, bobSig)

	_, err := r.ResumeConsumer(context.Background(), "bob", cid)
	require.NoError(t, err)

	require.NoError(t, r.CloseProducer(context.Background(), "alice", pid))

	c := counts(r)
	require.Equal(t, int64(0), c.VideoProducers)
	require.Equal(t, int64(0), c.VideoConsumers)

	// The consumer registration is gone with it.
	_, err = r.PauseConsumer(context.Background(), "bob", cid)
	require.ErrorIs(t, err, core.ErrNotFound)

	require.ErrorIs(t, r.CloseProducer(context.Background(), "alice", pid), core.ErrNotFound)
}

func TestDisconnectIdempotent(t *testing.T) {
	r := newTestRoom(t, 1)
	readyUser(t, r, "alice", "Alice")
	bobSig := readyUser(t, r, "bob", "Bob")
	produce(t, r, "alice", core.KindVideo)
	cid := consumerOf(t, bobSig)

	_, err := r.ResumeConsumer(context.Background(), "bob", cid)
	require.NoError(t, err)

	r.Disconnect("alice")
	r.Disconnect("alice")

	require.Equal(t, 1, r.UserCount())
	require.Equal(t, 1, bobSig.CountEvents(EvtUserDisconnected))

	c := counts(r)
	require.Equal(t, int64(0), c.VideoProducers)
	require.Equal(t, int64(0), c.VideoConsumers)
}

func TestRouterPlacement(t *testing.T) {
	r := newTestRoom(t, 3)
	for i, id := range []string{"u1", "u2", "u3", "u4"} {
		joinUser(t, r, id)
		_, err := r.CreateWebRtcTransport(context.Background(), domain.UserID(id), true)
		require.NoError(t, err)

		r.mu.Lock()
		got := r.activeUsers[domain.UserID(id)].RecvRouter
		want := r.routers[(1+i)%3]
		r.mu.Unlock()
		require.Equal(t, want.ID(), got.ID(), "consuming placement rotates starting after the canonical router")
	}

	r.mu.Lock()
	producing := r.pickRouterLocked(false)
	r.mu.Unlock()
	require.Equal(t, r.routers[0].ID(), producing.ID(), "producing transports always land on the canonical router")
}

func TestReadyValidatesName(t *testing.T) {
	r := newTestRoom(t, 1)
	joinUser(t, r, "alice")
	_, err := r.CreateWebRtcTransport(context.Background(), "alice", true)
	require.NoError(t, err)

	err = r.Ready(context.Background(), "alice", "", testCaps)
	require.ErrorIs(t, err, domain.ErrUsernameEmpty)

	err = r.Ready(context.Background(), "alice", strings.Repeat("x", domain.MaxUsernameLen+1), testCaps)
	require.ErrorIs(t, err, domain.ErrUsernameTooLong)

	// A rejected name must not burn the once-per-connection slot.
	require.NoError(t, r.Ready(context.Background(), "alice", "Alice", testCaps))
}

func TestBackpressureKicksSlowMember(t *testing.T) {
	r := newTestRoom(t, 1)
	readyUser(t, r, "alice", "Alice")
	bobSig := readyUser(t, r, "bob", "Bob")
	bobSig.SendErr = errors.New("send buffer full")

	// The ceiling broadcast triggered here hits bob's dead channel.
	produce(t, r, "alice", core.KindVideo)

	require.Eventually(t, func() bool {
		return r.UserCount() == 1 && bobSig.Closed()
	}, time.Second, 10*time.Millisecond)
}

type staticPolicy struct{ action BackpressureAction }

func (p staticPolicy) OnBackPressure(domain.RoomID, domain.UserID) BackpressureAction {
	return p.action
}

func TestBackpressureDropFrameKeepsMember(t *testing.T) {
	r := newTestRoom(t, 1)
	r.policy = staticPolicy{action: DropFrame}
	readyUser(t, r, "alice", "Alice")
	bobSig := readyUser(t, r, "bob", "Bob")
	bobSig.SendErr = errors.New("send buffer full")

	produce(t, r, "alice", core.KindVideo)

	require.Equal(t, 2, r.UserCount())
	require.False(t, bobSig.Closed())
}

func TestSpeakerCount(t *testing.T) {
	r := newTestRoom(t, 1)
	readyUser(t, r, "alice", "Alice")
	readyUser(t, r, "bob", "Bob")
	require.Equal(t, 0, r.SpeakerCount())

	audio := produce(t, r, "alice", core.KindAudio)
	produce(t, r, "alice", core.KindVideo)
	require.Equal(t, 1, r.SpeakerCount(), "one participant, however many producers")

	require.NoError(t, r.CloseProducer(context.Background(), "alice", audio))
	require.Equal(t, 1, r.SpeakerCount(), "still publishing video")

	produce(t, r, "bob", core.KindVideo)
	require.Equal(t, 2, r.SpeakerCount())

	r.Disconnect("alice")
	require.Equal(t, 1, r.SpeakerCount())
}

func TestCloseEvictsEveryone(t *testing.T) {
	r := newTestRoom(t, 1)
	readyUser(t, r, "alice", "Alice")
	bobSig := readyUser(t, r, "bob", "Bob")
	produce(t, r, "alice", core.KindVideo)

	r.Close()

	require.Equal(t, 0, r.UserCount())
	require.True(t, bobSig.Closed())

	c := counts(r)
	require.Equal(t, int64(0), c.VideoProducers)
	require.Equal(t, int64(0), c.VideoConsumers)

	require.ErrorIs(t, r.Join(core.NewActiveUser("late", "sid-late", r.ID(), coretest.NewSignal())), core.ErrNotFound)
}
