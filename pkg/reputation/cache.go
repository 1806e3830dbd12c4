package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSnapshotCache serves the latest snapshot for a node without hitting
// the attestation store. Entries expire at the snapshot's valid_until, so a
// cache hit is always a still-valid snapshot.
type RedisSnapshotCache struct {
	client *redis.Client
	clock  func() time.Time
}

// NewRedisSnapshotCache creates a cache backed by Redis.
func NewRedisSnapshotCache(addr, password string, db int) *RedisSnapshotCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisSnapshotCache{client: rdb, clock: time.Now}
}

func cacheKey(nodeID string) string {
	return fmt.Sprintf("reputation:snapshot:%s", nodeID)
}

// Get returns the cached snapshot, or ErrNoSnapshot on a miss.
func (c *RedisSnapshotCache) Get(ctx context.Context, nodeID string) (Snapshot, error) {
	raw, err := c.client.Get(ctx, cacheKey(nodeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("reputation: cache read for %s failed: %w", nodeID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("reputation: cache entry for %s is corrupt: %w", nodeID, err)
	}
	return snap, nil
}

// Set stores a snapshot with a TTL matching its remaining validity. Already
// expired snapshots are not cached.
func (c *RedisSnapshotCache) Set(ctx context.Context, snap Snapshot) error {
	ttl := snap.ValidUntil.Sub(c.clock())
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("reputation: marshal snapshot for %s: %w", snap.NodeID, err)
	}
	if err := c.client.Set(ctx, cacheKey(snap.NodeID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("reputation: cache write for %s failed: %w", snap.NodeID, err)
	}
	return nil
}

// CachedSnapshotStore layers the Redis cache over a durable snapshot store.
// Saves write through; Latest serves from cache when possible. Cache
// failures degrade to the backing store, never to an error.
type CachedSnapshotStore struct {
	backing SnapshotStore
	cache   *RedisSnapshotCache
}

// NewCachedSnapshotStore wraps backing with cache.
func NewCachedSnapshotStore(backing SnapshotStore, cache *RedisSnapshotCache) *CachedSnapshotStore {
	return &CachedSnapshotStore{backing: backing, cache: cache}
}

func (s *CachedSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	if err := s.backing.Save(ctx, snap); err != nil {
		return err
	}
	_ = s.cache.Set(ctx, snap)
	return nil
}

func (s *CachedSnapshotStore) Latest(ctx context.Context, nodeID string) (Snapshot, error) {
	if snap, err := s.cache.Get(ctx, nodeID); err == nil {
		return snap, nil
	}
	return s.backing.Latest(ctx, nodeID)
}

func (s *CachedSnapshotStore) History(ctx context.Context, nodeID string) ([]Snapshot, error) {
	return s.backing.History(ctx, nodeID)
}
