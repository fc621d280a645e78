package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/sophnet_gateway/internal/config"
)

var ErrLimitExceeded = errors.New("rate limit exceeded")

type LimitConfig struct {
	RequestsPerMinute int
	TokensPerMinute   int
	ParallelRequests  int
}

// Resolve overlays per-key values on the gateway defaults. Zero fields keep
// the default.
func Resolve(defaults config.RateLimitConfig, key config.RateLimitValues) LimitConfig {
	cfg := LimitConfig{
		RequestsPerMinute: defaults.DefaultRequestsPerMinute,
		TokensPerMinute:   defaults.DefaultTokensPerMinute,
		ParallelRequests:  defaults.DefaultParallelRequests,
	}
	if key.RequestsPerMinute != 0 {
		cfg.RequestsPerMinute = key.RequestsPerMinute
	}
	if key.TokensPerMinute != 0 {
		cfg.TokensPerMinute = key.TokensPerMinute
	}
	if key.ParallelRequests != 0 {
		cfg.ParallelRequests = key.ParallelRequests
	}
	return cfg
}

// RateLimiter keeps fixed-window request and token counters plus a parallel
// request semaphore in Redis. A nil client disables every check.
type RateLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRateLimiter(client *redis.Client, prefix string) *RateLimiter {
	return &RateLimiter{client: client, prefix: prefix, now: time.Now}
}

// Allow counts one request against key and takes a parallel slot. Callers
// must Release after a nil return.
func (l *RateLimiter) Allow(ctx context.Context, key string, cfg LimitConfig) error {
	if l == nil || l.client == nil {
		return nil
	}

	if cfg.RequestsPerMinute > 0 {
		if err := l.countCheck(ctx, l.key("rpm", key), time.Minute, cfg.RequestsPerMinute); err != nil {
			return err
		}
	}
	if cfg.ParallelRequests > 0 {
		if err := l.semaphoreAcquire(ctx, l.key("sem", key), cfg.ParallelRequests); err != nil {
			return err
		}
	}
	return nil
}

func (l *RateLimiter) Release(ctx context.Context, key string, cfg LimitConfig) {
	if l == nil || l.client == nil {
		return
	}
	if cfg.ParallelRequests > 0 {
		l.client.Decr(ctx, l.key("sem", key))
	}
}

// TokenAllowance charges tokens to the current minute, rolling the charge
// back when it would exceed the limit.
func (l *RateLimiter) TokenAllowance(ctx context.Context, key string, tokens int, cfg LimitConfig) error {
	if l == nil || l.client == nil || cfg.TokensPerMinute <= 0 || tokens <= 0 {
		return nil
	}
	redisKey := l.window(l.key("tpm", key), time.Minute)

	used, err := l.client.IncrBy(ctx, redisKey, int64(tokens)).Result()
	if err != nil {
		return fmt.Errorf("token allowance: %w", err)
	}
	if used == int64(tokens) {
		l.client.Expire(ctx, redisKey, time.Minute)
	}
	if int(used) > cfg.TokensPerMinute {
		l.client.IncrBy(ctx, redisKey, -int64(tokens))
		return ErrLimitExceeded
	}
	return nil
}

func (l *RateLimiter) countCheck(ctx context.Context, key string, ttl time.Duration, limit int) error {
	redisKey := l.window(key, ttl)

	cnt, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return fmt.Errorf("request counter: %w", err)
	}
	if cnt == 1 {
		l.client.Expire(ctx, redisKey, ttl)
	}
	if int(cnt) > limit {
		return ErrLimitExceeded
	}
	return nil
}

func (l *RateLimiter) semaphoreAcquire(ctx context.Context, key string, max int) error {
	// Long streams and transcription polls can outlive a minute; the ttl only
	// reclaims slots leaked by a crashed process.
	ttl := 15 * time.Minute
	cnt, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("parallel semaphore: %w", err)
	}
	l.client.Expire(ctx, key, ttl)
	if int(cnt) > max {
		l.client.Decr(ctx, key)
		return ErrLimitExceeded
	}
	return nil
}

func (l *RateLimiter) key(kind, key string) string {
	return l.prefix + kind + ":" + key
}

func (l *RateLimiter) window(key string, ttl time.Duration) string {
	bucket := l.now().UTC().Unix() / int64(ttl.Seconds())
	return fmt.Sprintf("%s:%d", key, bucket)
}
