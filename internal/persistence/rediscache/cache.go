// Package rediscache caches decisions by snapshot hash. Decisions are
// idempotent per snapshot, so a hit replays the stored record without
// re-running the engine.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sawpanic/evengine/internal/domain"
	"github.com/sawpanic/evengine/internal/persistence"
)

const keyPrefix = "evengine:decision:"

type cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a redis-backed decision cache. TTL bounds staleness:
// the caller supplies a fresh snapshot each cycle, so cached entries
// only ever serve exact replays.
func New(client *redis.Client, ttl time.Duration) persistence.DecisionCache {
	return &cache{client: client, ttl: ttl}
}

func (c *cache) Get(ctx context.Context, snapshotHash string) (*domain.Decision, error) {
	data, err := c.client.Get(ctx, keyPrefix+snapshotHash).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", snapshotHash, err)
	}

	var d domain.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("cache decode %s: %w", snapshotHash, err)
	}
	return &d, nil
}

func (c *cache) Put(ctx context.Context, snapshotHash string, d domain.Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", d.ID, err)
	}
	if err := c.client.Set(ctx, keyPrefix+snapshotHash, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache put %s: %w", snapshotHash, err)
	}
	return nil
}

func (c *cache) Close() error { return c.client.Close() }
