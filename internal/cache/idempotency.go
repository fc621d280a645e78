package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const claimTTL = 15 * time.Minute

// IdempotencyCache stores serialized responses keyed by caller-supplied
// Idempotency-Key so a retried transcription does not submit a second job.
// While the first call runs, a claim marker makes concurrent duplicates fail
// fast instead of submitting again.
type IdempotencyCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewIdempotencyCache(client *redis.Client, prefix string, ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &IdempotencyCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *IdempotencyCache) enabled(key string) bool {
	return c != nil && c.client != nil && key != ""
}

// Get returns the stored response for key within scope.
func (c *IdempotencyCache) Get(ctx context.Context, scope, key string) ([]byte, bool) {
	if !c.enabled(key) {
		return nil, false
	}
	data, err := c.client.Get(ctx, c.resultKey(scope, key)).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Claim marks key as in flight. It reports false when another call holds
// the claim. Without Redis or a key every claim succeeds.
func (c *IdempotencyCache) Claim(ctx context.Context, scope, key string) bool {
	if !c.enabled(key) {
		return true
	}
	ok, err := c.client.SetNX(ctx, c.claimKey(scope, key), 1, claimTTL).Result()
	if err != nil {
		return true
	}
	return ok
}

// Release drops the in-flight marker so the key can be retried.
func (c *IdempotencyCache) Release(ctx context.Context, scope, key string) {
	if !c.enabled(key) {
		return
	}
	c.client.Del(ctx, c.claimKey(scope, key))
}

// Set stores value and releases the claim in one round trip.
func (c *IdempotencyCache) Set(ctx context.Context, scope, key string, value []byte) {
	if !c.enabled(key) || len(value) == 0 {
		return
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.resultKey(scope, key), value, c.ttl)
	pipe.Del(ctx, c.claimKey(scope, key))
	_, _ = pipe.Exec(ctx)
}

func (c *IdempotencyCache) resultKey(scope, key string) string {
	return c.prefix + ":idem:" + scope + ":" + key
}

func (c *IdempotencyCache) claimKey(scope, key string) string {
	return c.prefix + ":idem-claim:" + scope + ":" + key
}
