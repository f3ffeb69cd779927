package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkrav/confa/internal/core"
	"github.com/mkrav/confa/internal/core/coretest"
	"github.com/mkrav/confa/internal/domain"
)

var testCaps = json.RawMessage(`{"codecs":["video/VP8"]}`)

func newTestGateway(t *testing.T, workers int) (*Gateway, []core.Worker) {
	t.Helper()
	eng := coretest.NewEngine()
	ws := eng.Workers(workers)
	return NewGateway(ws, NewStreamCounters(nil)), ws
}

func TestCreateRouters(t *testing.T) {
	t.Run("one router per worker", func(t *testing.T) {
		gw, _ := newTestGateway(t, 3)
		routers, err := gw.CreateRouters(context.Background(), domain.CodecVP8)
		require.NoError(t, err)
		require.Len(t, routers, 3)
	})

	t.Run("partial failure rolls back", func(t *testing.T) {
		gw, ws := newTestGateway(t, 3)
		ws[1].(*coretest.Worker).RouterErr = errors.New("worker dead")
		routers, err := gw.CreateRouters(context.Background(), domain.CodecVP8)
		require.Error(t, err)
		require.Nil(t, routers)
	})
}

func TestCreateProducerPiping(t *testing.T) {
	gw, _ := newTestGateway(t, 2)
	routers, err := gw.CreateRouters(context.Background(), domain.CodecVP8)
	require.NoError(t, err)

	transport, err := gw.CreateTransport(context.Background(), routers[0])
	require.NoError(t, err)

	p, err := gw.CreateProducer(context.Background(), transport, core.KindVideo, testCaps, routers)
	require.NoError(t, err)

	// The producer must be consumable from every router in the set.
	require.True(t, routers[0].CanConsume(p.ID(), testCaps))
	require.True(t, routers[1].CanConsume(p.ID(), testCaps))
}

func TestCreateProducerPipeFailureRollsBack(t *testing.T) {
	gw, _ := newTestGateway(t, 2)
	routers, err := gw.CreateRouters(context.Background(), domain.CodecVP8)
	require.NoError(t, err)
	// Piping always originates on the producer's home router.
	routers[0].(*coretest.Router).PipeErr = errors.New("pipe broken")

	transport, err := gw.CreateTransport(context.Background(), routers[0])
	require.NoError(t, err)

	_, err = gw.CreateProducer(context.Background(), transport, core.KindVideo, testCaps, routers)
	require.Error(t, err)

	// The half-piped producer must not survive anywhere.
	require.Empty(t, routers[0].(*coretest.Router).KnownProducers())
	require.Empty(t, routers[1].(*coretest.Router).KnownProducers())
}

func TestCreateConsumerPreconditions(t *testing.T) {
	gw, _ := newTestGateway(t, 1)
	routers, err := gw.CreateRouters(context.Background(), domain.CodecVP8)
	require.NoError(t, err)

	sendTransport, err := gw.CreateTransport(context.Background(), routers[0])
	require.NoError(t, err)
	recvTransport, err := gw.CreateTransport(context.Background(), routers[0])
	require.NoError(t, err)

	p, err := gw.CreateProducer(context.Background(), sendTransport, core.KindVideo, testCaps, routers)
	require.NoError(t, err)

	t.Run("no consuming transport", func(t *testing.T) {
		_, err := gw.CreateConsumer(context.Background(), nil, routers[0], p.ID(), testCaps)
		require.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("no declared capabilities", func(t *testing.T) {
		_, err := gw.CreateConsumer(context.Background(), recvTransport, routers[0], p.ID(), nil)
		require.ErrorIs(t, err, core.ErrCapabilityMismatch)
	})

	t.Run("router refuses pairing", func(t *testing.T) {
		routers[0].(*coretest.Router).RefuseConsume = true
		defer func() { routers[0].(*coretest.Router).RefuseConsume = false }()
		_, err := gw.CreateConsumer(context.Background(), recvTransport, routers[0], p.ID(), testCaps)
		require.ErrorIs(t, err, core.ErrCapabilityMismatch)
	})

	t.Run("consumer starts paused", func(t *testing.T) {
		c, err := gw.CreateConsumer(context.Background(), recvTransport, routers[0], p.ID(), testCaps)
		require.NoError(t, err)
		require.True(t, c.Paused())
		require.Equal(t, p.ID(), c.ProducerID())
	})
}
