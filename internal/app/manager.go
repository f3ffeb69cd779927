package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/mkrav/confa/internal/domain"
	"github.com/mkrav/confa/internal/engine"
	"github.com/mkrav/confa/internal/storage"
)

// RoomInfo is the lobby/admin view of one room.
type RoomInfo struct {
	ID        domain.RoomID     `json:"id"`
	Name      domain.RoomName   `json:"name"`
	Codec     domain.VideoCodec `json:"videoCodec"`
	Protected bool              `json:"protected"`
	UserCount int               `json:"userCount"`
	Speakers  int               `json:"speakers"`
}

// LobbyNotifier receives room create/delete notifications for the general
// lobby channel.
type LobbyNotifier interface {
	RoomCreated(info RoomInfo)
	RoomDeleted(id domain.RoomID)
}

// NopNotifier is used when no lobby transport is configured.
type NopNotifier struct{}

func (NopNotifier) RoomCreated(RoomInfo)      {}
func (NopNotifier) RoomDeleted(domain.RoomID) {}

// CreateRoomParams are the administrator-supplied settings.
type CreateRoomParams struct {
	Name           domain.RoomName
	Password       string
	VideoCodec     domain.VideoCodec
	SaveChatPolicy bool
	SymmetricMode  bool
}

// UpdateRoomParams carries mutable settings; the codec is immutable.
type UpdateRoomParams struct {
	Name           *domain.RoomName
	Password       *string
	SaveChatPolicy *bool
	SymmetricMode  *bool
}

// RoomManager is the registry of all rooms: creation, deletion, lookup and
// password verification. Reads dominate, so the map sits behind an RWMutex.
type RoomManager struct {
	gw    *engine.Gateway
	alloc *engine.BitrateAllocator
	store storage.RoomStore
	lobby LobbyNotifier
	ctx   context.Context

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRoomManager(ctx context.Context, gw *engine.Gateway, alloc *engine.BitrateAllocator, store storage.RoomStore, lobby LobbyNotifier) *RoomManager {
	if lobby == nil {
		lobby = NopNotifier{}
	}
	return &RoomManager{
		gw:    gw,
		alloc: alloc,
		store: store,
		lobby: lobby,
		ctx:   ctx,
		rooms: make(map[domain.RoomID]*Room),
	}
}

// Restore rebuilds rooms from persisted metadata at boot. Router sets are
// re-allocated; live participant state is gone by definition.
func (m *RoomManager) Restore(ctx context.Context) error {
	recs, err := m.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("restore rooms: %w", err)
	}
	for _, rec := range recs {
		meta := &domain.Room{
			ID:             rec.ID,
			Name:           rec.Name,
			PasswordHash:   rec.PasswordHash,
			VideoCodec:     rec.VideoCodec,
			SaveChatPolicy: rec.SaveChatPolicy,
			SymmetricMode:  rec.SymmetricMode,
		}
		routers, err := m.gw.CreateRouters(ctx, meta.VideoCodec)
		if err != nil {
			log.Error().Err(err).Str("module", "app.manager").Str("room", string(rec.ID)).Msg("restore: router allocation failed, skipping room")
			continue
		}
		room := NewRoom(m.ctx, meta, routers, m.gw, m.alloc)
		m.mu.Lock()
		m.rooms[meta.ID] = room
		m.mu.Unlock()
	}
	log.Info().Str("module", "app.manager").Int("rooms", len(recs)).Msg("rooms restored")
	return nil
}

func (m *RoomManager) Create(ctx context.Context, p CreateRoomParams) (*Room, error) {
	if p.Name == "" || len(p.Name) > domain.MaxRoomNameLen {
		return nil, fmt.Errorf("create room: invalid name %q", p.Name)
	}
	if !p.VideoCodec.Valid() {
		return nil, fmt.Errorf("create room: invalid codec %q", p.VideoCodec)
	}

	var hash []byte
	if p.Password != "" {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("create room: hash password: %w", err)
		}
	}

	meta := &domain.Room{
		ID:             domain.RoomID(uuid.NewString()),
		Name:           p.Name,
		PasswordHash:   hash,
		VideoCodec:     p.VideoCodec,
		SaveChatPolicy: p.SaveChatPolicy,
		SymmetricMode:  p.SymmetricMode,
	}

	routers, err := m.gw.CreateRouters(ctx, meta.VideoCodec)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	room := NewRoom(m.ctx, meta, routers, m.gw, m.alloc)

	if err := m.store.Save(ctx, recordOf(meta)); err != nil {
		room.Close()
		return nil, err
	}

	m.mu.Lock()
	m.rooms[meta.ID] = room
	m.mu.Unlock()

	info := infoOf(room)
	m.lobby.RoomCreated(info)
	log.Info().Str("module", "app.manager").Str("room", string(meta.ID)).Str("name", string(meta.Name)).Msg("room created")
	return room, nil
}

func (m *RoomManager) Get(id domain.RoomID) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[id]
	return room, ok
}

func (m *RoomManager) Has(id domain.RoomID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[id]
	return ok
}

// CheckPassword verifies a join attempt. A room created without a password
// admits everyone.
func (m *RoomManager) CheckPassword(id domain.RoomID, password string) bool {
	room, ok := m.Get(id)
	if !ok {
		return false
	}
	hash := room.Meta().PasswordHash
	if len(hash) == 0 {
		return true
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// Update changes mutable room settings and persists them.
func (m *RoomManager) Update(ctx context.Context, id domain.RoomID, p UpdateRoomParams) error {
	room, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("update room %s: not found", id)
	}
	meta := room.Meta()
	if p.Name != nil {
		if *p.Name == "" || len(*p.Name) > domain.MaxRoomNameLen {
			return fmt.Errorf("update room %s: invalid name", id)
		}
		meta.Name = *p.Name
	}
	if p.Password != nil {
		if *p.Password == "" {
			meta.PasswordHash = nil
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(*p.Password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("update room %s: hash password: %w", id, err)
			}
			meta.PasswordHash = hash
		}
	}
	if p.SaveChatPolicy != nil {
		meta.SaveChatPolicy = *p.SaveChatPolicy
	}
	if p.SymmetricMode != nil {
		meta.SymmetricMode = *p.SymmetricMode
	}
	return m.store.Save(ctx, recordOf(meta))
}

// Remove is the administrative deletion path: evict participants, release
// routers, drop the record, tell the lobby.
func (m *RoomManager) Remove(ctx context.Context, id domain.RoomID) error {
	m.mu.Lock()
	room, ok := m.rooms[id]
	if ok {
		delete(m.rooms, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("remove room %s: not found", id)
	}

	room.Close()
	if err := m.store.Delete(ctx, id); err != nil {
		log.Error().Err(err).Str("module", "app.manager").Str("room", string(id)).Msg("room record delete failed")
	}
	m.lobby.RoomDeleted(id)
	log.Info().Str("module", "app.manager").Str("room", string(id)).Msg("room removed")
	return nil
}

func (m *RoomManager) List() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for _, room := range m.rooms {
		out = append(out, infoOf(room))
	}
	return out
}

func recordOf(meta *domain.Room) storage.RoomRecord {
	return storage.RoomRecord{
		ID:             meta.ID,
		Name:           meta.Name,
		PasswordHash:   meta.PasswordHash,
		VideoCodec:     meta.VideoCodec,
		SaveChatPolicy: meta.SaveChatPolicy,
		SymmetricMode:  meta.SymmetricMode,
	}
}

func infoOf(room *Room) RoomInfo {
	meta := room.Meta()
	return RoomInfo{
		ID:        meta.ID,
		Name:      meta.Name,
		Codec:     meta.VideoCodec,
		Protected: len(meta.PasswordHash) > 0,
		UserCount: room.UserCount(),
		Speakers:  room.SpeakerCount(),
	}
}
