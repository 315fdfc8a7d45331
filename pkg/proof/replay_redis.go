package proof

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisReplayGuard implements the replay set on Redis; SETNX gives the
// insert-if-absent semantics and lets multiple core instances share one
// replay set. Entries never expire: a proof hash is burned for the lifetime
// of the system.
type RedisReplayGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisReplayGuard wraps a Redis client. prefix namespaces the keys and
// may be empty.
func NewRedisReplayGuard(client *redis.Client, prefix string) *RedisReplayGuard {
	if prefix == "" {
		prefix = "proofhash"
	}
	return &RedisReplayGuard{client: client, prefix: prefix}
}

func (g *RedisReplayGuard) key(proofHash string) string {
	return fmt.Sprintf("%s:%s", g.prefix, proofHash)
}

func (g *RedisReplayGuard) Reserve(ctx context.Context, proofHash string) (bool, error) {
	inserted, err := g.client.SetNX(ctx, g.key(proofHash), 1, 0).Result()
	if err != nil {
		return false, fmt.Errorf("proof: redis setnx: %w", err)
	}
	return inserted, nil
}

func (g *RedisReplayGuard) Release(ctx context.Context, proofHash string) error {
	if err := g.client.Del(ctx, g.key(proofHash)).Err(); err != nil {
		return fmt.Errorf("proof: redis del: %w", err)
	}
	return nil
}
