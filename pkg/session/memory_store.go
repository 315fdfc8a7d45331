package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   uint64
	sessions map[uint64]Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, sessions: make(map[uint64]Session)}
}

func (m *MemoryStore) Create(_ context.Context, s *Session) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.nextID
	m.nextID++
	m.sessions[s.ID] = *s
	return s.ID, nil
}

func (m *MemoryStore) Get(_ context.Context, id uint64) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := s
	return &copied, nil
}

func (m *MemoryStore) Update(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrSessionNotFound
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStore) Expired(_ context.Context, now time.Time, limit int) ([]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []uint64
	for id, s := range m.sessions {
		if s.Abandonable(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
