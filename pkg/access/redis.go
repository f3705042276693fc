package access

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/og/pkg/events"
	"github.com/platinummonkey/og/pkg/observability"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// GenerationKey holds the snapshot generation. Bumping it orphans every
// snapshot written under the previous generation.
const GenerationKey = "og:snapshot:generation"

// RedisSnapshotCache shares resolved snapshots between requests and
// workers. Redis failures degrade to loading from storage.
//
// A generation change seen by GetOrLoad runs every OnGenerationChange hook
// before anything is loaded, so worker-local caches feeding load are
// emptied before they can refill the new generation. A failed
// invalidation marks the cache stale: shared entries are bypassed until
// a later INCR succeeds.
type RedisSnapshotCache struct {
	client  *redis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics *observability.Metrics
	logger  logrus.FieldLogger

	mu    sync.Mutex
	seen  int64
	hooks []func()
	stale atomic.Bool
}

// NewRedisSnapshotCache creates a shared cache. A zero ttl keeps entries
// until the generation changes.
func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration, metrics *observability.Metrics, logger logrus.FieldLogger) *RedisSnapshotCache {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisSnapshotCache{
		client:  client,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger,
		seen:    -1,
	}
}

// OnGenerationChange registers fn to run the first time this process
// observes a new generation
func (c *RedisSnapshotCache) OnGenerationChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Stale reports whether an invalidation failed and has not been retried
func (c *RedisSnapshotCache) Stale() bool {
	return c.stale.Load()
}

func (c *RedisSnapshotCache) observe(gen int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.seen {
		return
	}
	for _, fn := range c.hooks {
		fn()
	}
	c.seen = gen
}

type sharedResult struct {
	snapshot Snapshot
	hit      bool
}

// Generation returns the current snapshot generation
func (c *RedisSnapshotCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, GenerationKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get failed: %w", err)
	}
	return gen, nil
}

// Key returns the Redis key of a snapshot in generation gen
func (c *RedisSnapshotCache) Key(gen int64, key SnapshotKey) string {
	return fmt.Sprintf("og:snapshot:%d:%s", gen, key)
}

// GetOrLoad returns the shared snapshot for key, calling load on a miss.
// Concurrent misses for the same key share one load.
func (c *RedisSnapshotCache) GetOrLoad(ctx context.Context, key SnapshotKey, load func(context.Context) (Snapshot, error)) (Snapshot, bool, error) {
	if c.stale.Load() {
		if err := c.Invalidate(ctx); err != nil {
			c.fail(err, "invalidate")
			s, err := load(ctx)
			return s, false, err
		}
	}

	gen, err := c.Generation(ctx)
	if err != nil {
		c.fail(err, "generation")
		s, err := load(ctx)
		return s, false, err
	}
	c.observe(gen)

	redisKey := c.Key(gen, key)
	v, err, _ := c.group.Do(redisKey, func() (interface{}, error) {
		data, err := c.client.Get(ctx, redisKey).Bytes()
		switch {
		case err == nil:
			var s Snapshot
			if err := json.Unmarshal(data, &s); err == nil {
				return sharedResult{snapshot: s, hit: true}, nil
			}
			c.client.Del(ctx, redisKey)
		case err != redis.Nil:
			c.fail(err, "get")
		}

		s, err := load(ctx)
		if err != nil {
			return nil, err
		}

		payload, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		if err := c.client.Set(ctx, redisKey, payload, c.ttl).Err(); err != nil {
			c.fail(err, "set")
		}
		return sharedResult{snapshot: s}, nil
	})
	if err != nil {
		return Snapshot{}, false, err
	}

	r := v.(sharedResult)
	return r.snapshot, r.hit, nil
}

// Invalidate starts a new generation. On failure the cache stays stale
// until a later Invalidate succeeds.
func (c *RedisSnapshotCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, GenerationKey).Err(); err != nil {
		c.stale.Store(true)
		return fmt.Errorf("redis incr failed: %w", err)
	}
	c.stale.Store(false)
	return nil
}

// Listener returns an event listener that starts a new generation on every
// invalidating event
func (c *RedisSnapshotCache) Listener() events.Listener {
	return func(ctx context.Context, e events.Event) {
		if !e.Kind.Invalidates() {
			return
		}
		if err := c.Invalidate(ctx); err != nil {
			c.fail(err, "invalidate")
		}
	}
}

func (c *RedisSnapshotCache) fail(err error, op string) {
	if c.metrics != nil {
		c.metrics.SharedCacheErrorsTotal.Inc()
	}
	c.logger.WithError(err).WithField("op", op).Warn("Shared snapshot cache unavailable")
}
