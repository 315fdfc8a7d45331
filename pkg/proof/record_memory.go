package proof

import (
	"context"
	"sync"
)

// MemoryRecordStore is an in-memory RecordStore.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[uint64][]Record
}

// NewMemoryRecordStore creates an empty record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[uint64][]Record)}
}

func (s *MemoryRecordStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.SessionID] = append(s.records[rec.SessionID], rec)
	return nil
}

func (s *MemoryRecordStore) Remove(_ context.Context, sessionID uint64, proofHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[sessionID]
	for i, rec := range recs {
		if rec.ProofHash == proofHash {
			s.records[sessionID] = append(recs[:i], recs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryRecordStore) BySession(_ context.Context, sessionID uint64) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[sessionID]
	out := make([]Record, len(recs))
	copy(out, recs)
	return out, nil
}
