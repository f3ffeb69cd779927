// Package storage persists room metadata so rooms survive a restart.
package storage

import (
	"context"
	"sync"

	"github.com/mkrav/confa/internal/domain"
)

// RoomRecord is the persisted shape of a room's settings. Live state is
// never stored.
type RoomRecord struct {
	ID             domain.RoomID     `bson:"_id" json:"id"`
	Name           domain.RoomName   `bson:"name" json:"name"`
	PasswordHash   []byte            `bson:"passwordHash" json:"-"`
	VideoCodec     domain.VideoCodec `bson:"videoCodec" json:"videoCodec"`
	SaveChatPolicy bool              `bson:"saveChatPolicy" json:"saveChatPolicy"`
	SymmetricMode  bool              `bson:"symmetricMode" json:"symmetricMode"`
}

type RoomStore interface {
	Save(ctx context.Context, rec RoomRecord) error
	Delete(ctx context.Context, id domain.RoomID) error
	LoadAll(ctx context.Context) ([]RoomRecord, error)
}

// MemoryStore is the default store: process-local, empty after restart.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[domain.RoomID]RoomRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[domain.RoomID]RoomRecord)}
}

func (s *MemoryStore) Save(ctx context.Context, rec RoomRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

func (s *MemoryStore) LoadAll(ctx context.Context) ([]RoomRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RoomRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	return out, nil
}
