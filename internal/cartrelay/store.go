package cartrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "facet:cart:pending:"

// MemoryStore keeps pending snapshots in-process. Suitable for single-node
// deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	pending map[string]Snapshot
}

// NewMemoryStore builds an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pending: make(map[string]Snapshot)}
}

// Put stores the snapshot, replacing any pending one for the shop.
func (s *MemoryStore) Put(_ context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[snapshot.Shop] = snapshot
	return nil
}

// Take removes and returns the pending snapshot for the shop.
func (s *MemoryStore) Take(_ context.Context, shop string) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.pending[shop]
	if !ok {
		return Snapshot{}, false, nil
	}
	delete(s.pending, shop)
	return snapshot, true, nil
}

// RedisStore keeps pending snapshots in Redis so multiple relay nodes share
// one pending table. Keys expire server-side at the cache TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a Redis-backed store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Put stores the snapshot under the shop key with TTL.
func (s *RedisStore) Put(ctx context.Context, snapshot Snapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+snapshot.Shop, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// Take removes and returns the pending snapshot for the shop.
func (s *RedisStore) Take(ctx context.Context, shop string) (Snapshot, bool, error) {
	raw, err := s.client.GetDel(ctx, redisKeyPrefix+shop).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("take snapshot: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, true, nil
}
