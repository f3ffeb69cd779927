package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkrav/confa/internal/domain"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	rec := RoomRecord{ID: "r1", Name: "standup", VideoCodec: domain.CodecVP8}
	require.NoError(t, s.Save(context.Background(), rec))

	// Save is an upsert, not an append.
	rec.Name = "retro"
	require.NoError(t, s.Save(context.Background(), rec))

	recs, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, domain.RoomName("retro"), recs[0].Name)

	require.NoError(t, s.Delete(context.Background(), "r1"))
	require.NoError(t, s.Delete(context.Background(), "r1"), "deleting a missing record is not an error")

	recs, err = s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, recs)
}
