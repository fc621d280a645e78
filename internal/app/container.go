package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/sophnet_gateway/internal/auth"
	"github.com/ncecere/sophnet_gateway/internal/cache"
	"github.com/ncecere/sophnet_gateway/internal/config"
	"github.com/ncecere/sophnet_gateway/internal/health"
	"github.com/ncecere/sophnet_gateway/internal/limits"
	"github.com/ncecere/sophnet_gateway/internal/observability"
	"github.com/ncecere/sophnet_gateway/internal/providers"
	"github.com/ncecere/sophnet_gateway/internal/requestctx"
	"github.com/ncecere/sophnet_gateway/internal/router"
	"github.com/ncecere/sophnet_gateway/internal/storage/blob"
	"github.com/ncecere/sophnet_gateway/internal/usage"
)

// Container aggregates runtime dependencies for handlers.
type Container struct {
	Config          *config.Config
	Logger          *slog.Logger
	Redis           *redis.Client
	Factory         *providers.Factory
	Engine          *router.Engine
	Keys            *auth.KeyStore
	RateLimiter     *limits.RateLimiter
	KeyRateLimits   map[string]limits.LimitConfig
	DefaultKeyLimit limits.LimitConfig
	Embeddings      *cache.EmbeddingCache
	Speech          *cache.SpeechCache
	Idempotency     *cache.IdempotencyCache
	HealthMon       *health.Monitor
	Observability   *observability.Provider
	Usage           *usage.Dispatcher
}

// NewContainer builds a dependency container. redisClient may be nil, which
// disables rate limiting and the embedding and idempotency caches.
func NewContainer(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	obsProvider, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	factory := providers.NewFactory(cfg,
		providers.WithLogger(logger),
		providers.WithPollObserver(obsProvider.RecordPoll),
	)
	engine := router.NewEngine(cfg.Health)
	if err := engine.Reload(ctx, factory); err != nil {
		return nil, fmt.Errorf("init router engine: %w", err)
	}

	var speechCache *cache.SpeechCache
	if cfg.Cache.Speech.Enabled {
		store, err := blob.New(ctx, cfg.Cache.Speech)
		if err != nil {
			return nil, fmt.Errorf("init speech cache store: %w", err)
		}
		speechCache = cache.NewSpeechCache(store, cfg.Cache.Speech.MaxSizeMB)
	}

	keyLimits := make(map[string]limits.LimitConfig, len(cfg.Gateway.APIKeys))
	for _, key := range cfg.Gateway.APIKeys {
		keyLimits[key.Prefix] = limits.Resolve(cfg.Gateway.RateLimits, key.RateLimit)
	}

	prefix := cfg.Cache.KeyPrefix
	container := &Container{
		Config:          cfg,
		Logger:          logger,
		Redis:           redisClient,
		Factory:         factory,
		Engine:          engine,
		Keys:            auth.NewKeyStore(cfg.Gateway.APIKeys),
		RateLimiter:     limits.NewRateLimiter(redisClient, prefix+":rl:"),
		KeyRateLimits:   keyLimits,
		DefaultKeyLimit: limits.Resolve(cfg.Gateway.RateLimits, config.RateLimitValues{}),
		Embeddings:      cache.NewEmbeddingCache(redisClient, prefix, cfg.Cache.EmbeddingTTL),
		Speech:          speechCache,
		Idempotency:     cache.NewIdempotencyCache(redisClient, prefix, 0),
		Observability:   obsProvider,
		Usage:           usage.NewDispatcher(cfg.Usage, logger),
	}

	monitor := health.NewMonitor(engine, cfg.Health, logger)
	monitor.OnResult(obsProvider.RecordRouteHealth)
	container.HealthMon = monitor
	return container, nil
}

// StartHealthMonitor begins periodic route probes until ctx is canceled.
func (c *Container) StartHealthMonitor(ctx context.Context) {
	c.HealthMon.Start(ctx, c.Engine.ListAliases)
}

// StartSpeechSweeper removes expired speech cache objects every interval
// until ctx is canceled.
func (c *Container) StartSpeechSweeper(ctx context.Context, interval time.Duration) {
	if c.Speech == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := c.Speech.Sweep(ctx)
				if err != nil && ctx.Err() == nil {
					c.Logger.Warn("speech cache sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					c.Logger.Info("speech cache swept", "removed", removed)
				}
			}
		}
	}()
}

// Close flushes pending usage records and shuts down telemetry exporters.
func (c *Container) Close(ctx context.Context) error {
	return errors.Join(c.Usage.Close(ctx), c.Observability.Shutdown(ctx))
}

// ReloadRouter rebuilds provider routes from the current configuration.
func (c *Container) ReloadRouter(ctx context.Context) error {
	factory := providers.NewFactory(c.Config,
		providers.WithLogger(c.Logger),
		providers.WithPollObserver(c.Observability.RecordPoll),
	)
	if err := c.Engine.Reload(ctx, factory); err != nil {
		return err
	}
	c.Factory = factory
	return nil
}

// EffectiveRateLimits returns the limits applied to a key prefix.
func (c *Container) EffectiveRateLimits(prefix string) limits.LimitConfig {
	if cfg, ok := c.KeyRateLimits[prefix]; ok {
		return cfg
	}
	return c.DefaultKeyLimit
}

// ResolveRateLimits returns the limiter key and limits for the caller in ctx.
func (c *Container) ResolveRateLimits(ctx context.Context) (string, limits.LimitConfig, error) {
	rc, ok := requestctx.FromContext(ctx)
	if !ok || rc == nil {
		return "", limits.LimitConfig{}, fmt.Errorf("request context missing")
	}
	cfg := limits.LimitConfig{
		RequestsPerMinute: rc.RequestsPerMinute,
		TokensPerMinute:   rc.TokensPerMinute,
		ParallelRequests:  rc.ParallelRequests,
	}
	return "key:" + rc.APIKeyPrefix, cfg, nil
}

// AcquireRateLimits counts the request and takes a parallel slot. The returned
// release func is safe to call more than once.
func (c *Container) AcquireRateLimits(ctx context.Context) (string, limits.LimitConfig, func(), error) {
	key, cfg, err := c.ResolveRateLimits(ctx)
	if err != nil {
		return "", limits.LimitConfig{}, nil, err
	}
	if err := c.RateLimiter.Allow(ctx, key, cfg); err != nil {
		return "", limits.LimitConfig{}, nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			c.RateLimiter.Release(context.WithoutCancel(ctx), key, cfg)
		})
	}
	return key, cfg, release, nil
}
