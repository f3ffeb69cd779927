package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkrav/confa/internal/core/coretest"
	"github.com/mkrav/confa/internal/domain"
	"github.com/mkrav/confa/internal/engine"
	"github.com/mkrav/confa/internal/storage"
)

type recordingNotifier struct {
	created []RoomInfo
	deleted []domain.RoomID
}

func (n *recordingNotifier) RoomCreated(info RoomInfo)    { n.created = append(n.created, info) }
func (n *recordingNotifier) RoomDeleted(id domain.RoomID) { n.deleted = append(n.deleted, id) }

func newTestManager(t *testing.T) (*RoomManager, *storage.MemoryStore, *recordingNotifier) {
	t.Helper()
	eng := coretest.NewEngine()
	gw := engine.NewGateway(eng.Workers(1), engine.NewStreamCounters(nil))
	alloc := engine.NewBitrateAllocator(engine.Capacity{NetworkInMbit: 100, NetworkOutMbit: 100, MaxAudioMbit: 0.0625})
	store := storage.NewMemoryStore()
	notifier := &recordingNotifier{}
	return NewRoomManager(context.Background(), gw, alloc, store, notifier), store, notifier
}

func TestManagerCreate(t *testing.T) {
	m, store, notifier := newTestManager(t)

	room, err := m.Create(context.Background(), CreateRoomParams{
		Name:       "standup",
		Password:   "hunter2",
		VideoCodec: domain.CodecVP8,
	})
	require.NoError(t, err)
	require.True(t, m.Has(room.ID()))

	recs, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, room.ID(), recs[0].ID)
	require.NotEmpty(t, recs[0].PasswordHash, "passwords are stored hashed only")
	require.NotEqual(t, "hunter2", string(recs[0].PasswordHash))

	require.Len(t, notifier.created, 1)
	require.True(t, notifier.created[0].Protected)

	t.Run("invalid name", func(t *testing.T) {
		_, err := m.Create(context.Background(), CreateRoomParams{Name: "", VideoCodec: domain.CodecVP8})
		require.Error(t, err)
	})

	t.Run("invalid codec", func(t *testing.T) {
		_, err := m.Create(context.Background(), CreateRoomParams{Name: "x", VideoCodec: "av1"})
		require.Error(t, err)
	})
}

func TestManagerCheckPassword(t *testing.T) {
	m, _, _ := newTestManager(t)

	locked, err := m.Create(context.Background(), CreateRoomParams{Name: "locked", Password: "secret", VideoCodec: domain.CodecVP8})
	require.NoError(t, err)
	open, err := m.Create(context.Background(), CreateRoomParams{Name: "open", VideoCodec: domain.CodecVP8})
	require.NoError(t, err)

	require.True(t, m.CheckPassword(locked.ID(), "secret"))
	require.False(t, m.CheckPassword(locked.ID(), "wrong"))
	require.True(t, m.CheckPassword(open.ID(), ""), "passwordless room admits everyone")
	require.True(t, m.CheckPassword(open.ID(), "anything"))
	require.False(t, m.CheckPassword("no-such-room", "secret"))
}

func TestManagerUpdate(t *testing.T) {
	m, store, _ := newTestManager(t)
	room, err := m.Create(context.Background(), CreateRoomParams{Name: "before", VideoCodec: domain.CodecVP9})
	require.NoError(t, err)

	name := domain.RoomName("after")
	pw := "newpass"
	require.NoError(t, m.Update(context.Background(), room.ID(), UpdateRoomParams{Name: &name, Password: &pw}))

	require.Equal(t, name, room.Meta().Name)
	require.True(t, m.CheckPassword(room.ID(), "newpass"))
	require.Equal(t, domain.CodecVP9, room.Meta().VideoCodec, "codec is immutable")

	recs, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, name, recs[0].Name)

	require.Error(t, m.Update(context.Background(), "no-such-room", UpdateRoomParams{}))
}

func TestManagerRemove(t *testing.T) {
	m, store, notifier := newTestManager(t)
	room, err := m.Create(context.Background(), CreateRoomParams{Name: "doomed", VideoCodec: domain.CodecVP8})
	require.NoError(t, err)

	sig := joinUser(t, room, "alice")

	require.NoError(t, m.Remove(context.Background(), room.ID()))
	require.False(t, m.Has(room.ID()))
	require.True(t, sig.Closed(), "participants are evicted on removal")

	recs, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, recs)
	require.Equal(t, []domain.RoomID{room.ID()}, notifier.deleted)

	require.Error(t, m.Remove(context.Background(), room.ID()))
}

func TestManagerRestore(t *testing.T) {
	m, store, _ := newTestManager(t)
	room, err := m.Create(context.Background(), CreateRoomParams{Name: "durable", Password: "pw", VideoCodec: domain.CodecH264})
	require.NoError(t, err)

	// Fresh manager over the same store simulates a process restart.
	eng := coretest.NewEngine()
	gw := engine.NewGateway(eng.Workers(2), engine.NewStreamCounters(nil))
	alloc := engine.NewBitrateAllocator(engine.Capacity{NetworkInMbit: 100, NetworkOutMbit: 100, MaxAudioMbit: 0.0625})
	m2 := NewRoomManager(context.Background(), gw, alloc, store, nil)
	require.NoError(t, m2.Restore(context.Background()))

	restored, ok := m2.Get(room.ID())
	require.True(t, ok)
	require.Equal(t, domain.RoomName("durable"), restored.Meta().Name)
	require.Equal(t, domain.CodecH264, restored.Meta().VideoCodec)
	require.True(t, m2.CheckPassword(room.ID(), "pw"))
	require.Equal(t, 0, restored.UserCount(), "live state does not survive restarts")
}

func TestManagerList(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Create(context.Background(), CreateRoomParams{Name: "a", VideoCodec: domain.CodecVP8})
	require.NoError(t, err)
	_, err = m.Create(context.Background(), CreateRoomParams{Name: "b", Password: "x", VideoCodec: domain.CodecVP8})
	require.NoError(t, err)

	infos := m.List()
	require.Len(t, infos, 2)
	protected := 0
	for _, info := range infos {
		if info.Protected {
			protected++
		}
	}
	require.Equal(t, 1, protected)
}
