package app

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ncecere/sophnet_gateway/internal/config"
	"github.com/ncecere/sophnet_gateway/internal/limits"
	"github.com/ncecere/sophnet_gateway/internal/requestctx"
)

func TestBuildRequestContextAppliesKeyLimits(t *testing.T) {
	container := &Container{
		KeyRateLimits: map[string]limits.LimitConfig{
			"tok-test": {RequestsPerMinute: 120, TokensPerMinute: 10_000, ParallelRequests: 2},
		},
		DefaultKeyLimit: limits.LimitConfig{RequestsPerMinute: 60},
	}

	rc := container.BuildRequestContext(&config.APIKeyConfig{Name: "ops", Prefix: "tok-test"})
	if rc.RequestsPerMinute != 120 || rc.ParallelRequests != 2 {
		t.Fatalf("expected key limits applied, got %+v", rc)
	}
	if rc.APIKeyID != requestctx.KeyID("tok-test") {
		t.Fatalf("expected stable key id")
	}

	anon := container.BuildRequestContext(nil)
	if anon.APIKeyPrefix != "anonymous" || anon.RequestsPerMinute != 60 {
		t.Fatalf("anonymous caller should get defaults, got %+v", anon)
	}
	if anon.RequestID == rc.RequestID {
		t.Fatalf("request ids should differ")
	}
}

func TestAcquireRateLimitsRespectsParallelLimit(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	container := &Container{
		RateLimiter:     limits.NewRateLimiter(client, "test:"),
		KeyRateLimits:   map[string]limits.LimitConfig{"tok-test": {ParallelRequests: 1}},
		DefaultKeyLimit: limits.LimitConfig{},
	}
	rc := container.BuildRequestContext(&config.APIKeyConfig{Prefix: "tok-test"})
	ctx := requestctx.WithContext(context.Background(), rc)

	_, _, release, err := container.AcquireRateLimits(ctx)
	if err != nil {
		t.Fatalf("first AcquireRateLimits returned error: %v", err)
	}
	if _, _, _, err := container.AcquireRateLimits(ctx); !errors.Is(err, limits.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded on concurrent request, got %v", err)
	}

	release()
	release()

	_, _, releaseAgain, err := container.AcquireRateLimits(ctx)
	if err != nil {
		t.Fatalf("expected acquire to succeed after release, got %v", err)
	}
	releaseAgain()
}

func TestAcquireRateLimitsRequiresContext(t *testing.T) {
	container := &Container{RateLimiter: limits.NewRateLimiter(nil, "")}
	if _, _, _, err := container.AcquireRateLimits(context.Background()); err == nil {
		t.Fatalf("expected missing request context error")
	}
}

func TestNewContainerWithoutRedis(t *testing.T) {
	cfg := &config.Config{
		Sophnet: config.SophnetConfig{APIKey: "sk", ProjectID: "proj"},
		ModelCatalog: []config.ModelCatalogEntry{
			{Alias: "embed", Provider: "sophnet", ProviderModel: "embed-id", Capability: "embeddings", Weight: 100},
		},
	}
	container, err := NewContainer(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if container.Speech != nil {
		t.Fatalf("speech cache should be off by default")
	}
	if routes := container.Engine.SelectRoutes("embed"); len(routes) != 1 {
		t.Fatalf("expected embed route, got %d", len(routes))
	}
	if container.Keys.Enabled() {
		t.Fatalf("no keys configured")
	}
	if container.Usage != nil {
		t.Fatalf("usage delivery should be off without sinks")
	}
	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewContainerStartsUsageDispatcher(t *testing.T) {
	cfg := &config.Config{
		Sophnet: config.SophnetConfig{APIKey: "sk", ProjectID: "proj"},
		Usage:   config.UsageConfig{LogRecords: true, QueueSize: 4},
	}
	container, err := NewContainer(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if container.Usage == nil {
		t.Fatalf("expected usage dispatcher when log_records is on")
	}
	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
