package proof

import (
	"context"
	"hash/fnv"
	"sync"
)

const replayShards = 64

// MemoryReplayGuard is a sharded in-memory replay set. Sharding keeps
// concurrent submissions from unrelated sessions off each other's locks.
type MemoryReplayGuard struct {
	shards [replayShards]struct {
		mu   sync.Mutex
		seen map[string]struct{}
	}
}

// NewMemoryReplayGuard creates an empty replay set.
func NewMemoryReplayGuard() *MemoryReplayGuard {
	g := &MemoryReplayGuard{}
	for i := range g.shards {
		g.shards[i].seen = make(map[string]struct{})
	}
	return g
}

func (g *MemoryReplayGuard) shard(proofHash string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(proofHash))
	return int(h.Sum32() % replayShards)
}

func (g *MemoryReplayGuard) Reserve(_ context.Context, proofHash string) (bool, error) {
	s := &g.shards[g.shard(proofHash)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[proofHash]; ok {
		return false, nil
	}
	s.seen[proofHash] = struct{}{}
	return true, nil
}

func (g *MemoryReplayGuard) Release(_ context.Context, proofHash string) error {
	s := &g.shards[g.shard(proofHash)]
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, proofHash)
	return nil
}
