package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var defaultCapacity = Capacity{
	NetworkInMbit:  100,
	NetworkOutMbit: 100,
	MaxAudioMbit:   0.0625,
}

func TestRecalculate(t *testing.T) {
	alloc := NewBitrateAllocator(defaultCapacity)

	t.Run("consumer side limits", func(t *testing.T) {
		bps, ok := alloc.Recalculate(Counts{VideoProducers: 1, VideoConsumers: 2})
		require.True(t, ok)
		require.Equal(t, int64(50_000_000), bps)
	})

	t.Run("producer side limits", func(t *testing.T) {
		bps, ok := alloc.Recalculate(Counts{VideoProducers: 2, VideoConsumers: 1})
		require.True(t, ok)
		require.Equal(t, int64(50_000_000), bps)
	})

	t.Run("no video producers", func(t *testing.T) {
		_, ok := alloc.Recalculate(Counts{VideoConsumers: 5, AudioProducers: 3})
		require.False(t, ok)
	})

	t.Run("zero consumers provisioned as one", func(t *testing.T) {
		bps, ok := alloc.Recalculate(Counts{VideoProducers: 1})
		require.True(t, ok)
		require.Equal(t, int64(100_000_000), bps)
	})

	t.Run("audio share subtracted per side", func(t *testing.T) {
		bps, ok := alloc.Recalculate(Counts{
			VideoProducers: 1,
			VideoConsumers: 1,
			AudioProducers: 16, // 1 Mbit inbound
			AudioConsumers: 32, // 2 Mbit outbound
		})
		require.True(t, ok)
		require.Equal(t, int64(98_000_000), bps)
	})
}

func TestRecalculateSaturated(t *testing.T) {
	alloc := NewBitrateAllocator(Capacity{NetworkInMbit: 100, NetworkOutMbit: 1, MaxAudioMbit: 0.0625})

	// 16 audio consumers eat the full outbound megabit.
	_, ok := alloc.Recalculate(Counts{VideoProducers: 1, VideoConsumers: 1, AudioConsumers: 16})
	require.False(t, ok)

	// Oversubscribed beyond zero must not go negative either.
	_, ok = alloc.Recalculate(Counts{VideoProducers: 1, VideoConsumers: 1, AudioConsumers: 100})
	require.False(t, ok)
}
