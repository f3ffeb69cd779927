package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJoinRateLimiter(t *testing.T) {
	rl := NewJoinRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		require.True(t, rl.Allow("u1"))
	}
	require.False(t, rl.Allow("u1"))
	require.True(t, rl.Allow("u2"), "limits are per user")
}

func TestJoinRateLimiterWindowExpiry(t *testing.T) {
	rl := NewJoinRateLimiter(1, 30*time.Millisecond)

	require.True(t, rl.Allow("u1"))
	require.False(t, rl.Allow("u1"))

	time.Sleep(50 * time.Millisecond)
	require.True(t, rl.Allow("u1"), "old attempts age out of the window")
}
