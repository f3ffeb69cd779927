package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionAuthorize(t *testing.T) {
	var s Session
	require.False(t, s.Authorized("r1"))

	s.Authorize("r1")
	s.Authorize("r1")
	require.True(t, s.Authorized("r1"))
	require.False(t, s.Authorized("r2"))
	require.Len(t, s.AuthorizedRoomIDs, 1, "authorize is idempotent")

	s.Authorize("r2")
	require.True(t, s.Authorized("r2"))
}
