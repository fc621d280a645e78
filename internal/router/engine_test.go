package router

import (
	"context"
	"testing"
	"time"

	"github.com/ncecere/sophnet_gateway/internal/config"
	"github.com/ncecere/sophnet_gateway/internal/providers"
)

func TestEngineSelectRoutesSkipsOpenCircuits(t *testing.T) {
	engine := NewEngine(config.HealthConfig{})
	alias := "DeepSeek-V3-Fast"
	healthy := providers.Route{Alias: alias, Model: "m1", Metadata: map[string]string{"deployment": "m1"}, Weight: 1}
	unhealthy := providers.Route{Alias: alias, Model: "m2", Metadata: map[string]string{"deployment": "m2"}, Weight: 1}

	engine.routes[alias] = []providers.Route{healthy, unhealthy}
	engine.state[routeKey(alias, healthy)] = &routeState{}
	engine.state[routeKey(alias, unhealthy)] = &routeState{openUntil: time.Now().Add(time.Minute)}

	selected := engine.SelectRoutes(alias)
	if len(selected) != 1 {
		t.Fatalf("expected 1 healthy route, got %d", len(selected))
	}
	if selected[0].Metadata["deployment"] != "m1" {
		t.Fatalf("expected healthy route first, got %v", selected[0])
	}
}

func TestEngineCircuitBreakerTransitions(t *testing.T) {
	engine := NewEngine(config.HealthConfig{FailureThreshold: 2, Cooldown: 30 * time.Second})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }
	alias := "stt"
	route := providers.Route{Alias: alias, Model: "m1"}

	engine.ReportFailure(alias, route)
	if len(engine.SelectRoutes(alias)) != 0 {
		t.Fatalf("alias has no registered routes, selection should be empty")
	}
	engine.routes[alias] = []providers.Route{route}
	if len(engine.SelectRoutes(alias)) != 1 {
		t.Fatalf("one failure below threshold should keep route selectable")
	}

	engine.ReportFailure(alias, route)
	st := engine.state[routeKey(alias, route)]
	if st.consecutiveFailures != 2 {
		t.Fatalf("expected 2 failures, got %d", st.consecutiveFailures)
	}
	if !st.openUntil.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("expected cooldown from config, got %s", st.openUntil)
	}
	if len(engine.SelectRoutes(alias)) != 0 {
		t.Fatalf("open circuit should hide route")
	}

	now = now.Add(31 * time.Second)
	if len(engine.SelectRoutes(alias)) != 1 {
		t.Fatalf("route should return after cooldown")
	}

	engine.ReportSuccess(alias, route)
	if st.consecutiveFailures != 0 || !st.openUntil.IsZero() {
		t.Fatalf("success should reset state, got %+v", st)
	}
}

func TestEngineDefaultAlias(t *testing.T) {
	engine := NewEngine(config.HealthConfig{})
	engine.routes = map[string][]providers.Route{
		"zeta-embed":  {{Alias: "zeta-embed", Capability: "embeddings"}},
		"alpha-embed": {{Alias: "alpha-embed", Capability: "embeddings"}},
		"chat":        {{Alias: "chat", Capability: "chat"}},
	}

	alias, ok := engine.DefaultAlias("embeddings")
	if !ok || alias != "alpha-embed" {
		t.Fatalf("expected alpha-embed, got %q %v", alias, ok)
	}
	if _, ok := engine.DefaultAlias("speech"); ok {
		t.Fatalf("speech has no routes")
	}
}

func TestEngineReloadBuildsSophnetRoutes(t *testing.T) {
	cfg := &config.Config{
		Sophnet: config.SophnetConfig{APIKey: "sk", ProjectID: "proj"},
		ModelCatalog: []config.ModelCatalogEntry{
			{Alias: "tts", Provider: "sophnet", ProviderModel: "tts-id", Capability: "speech", Weight: 100},
			{Alias: "embed", Provider: "sophnet", ProviderModel: "embed-id", Capability: "embeddings", Weight: 100},
		},
	}
	engine := NewEngine(cfg.Health)
	if err := engine.Reload(context.Background(), providers.NewFactory(cfg)); err != nil {
		t.Fatalf("reload: %v", err)
	}

	aliases := engine.ListAliases()
	if len(aliases) != 2 {
		t.Fatalf("expected 2 aliases, got %d", len(aliases))
	}
	tts := aliases["tts"][0]
	if tts.TextToSpeech == nil || tts.TextToSpeechStream == nil || tts.Chat != nil {
		t.Fatalf("speech route wired incorrectly: %+v", tts)
	}
	if aliases["embed"][0].Embedding == nil {
		t.Fatalf("embeddings route missing provider")
	}
}

func TestEngineReloadRejectsUnknownProvider(t *testing.T) {
	cfg := &config.Config{
		ModelCatalog: []config.ModelCatalogEntry{{Alias: "x", Provider: "nope", Capability: "chat"}},
	}
	engine := NewEngine(cfg.Health)
	if err := engine.Reload(context.Background(), providers.NewFactory(cfg)); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}

func TestWeightedSelectTreatsUnweightedAsOne(t *testing.T) {
	routes := []providers.Route{{Model: "a"}, {Model: "b", Weight: -3}, {Model: "c", Weight: 0}}
	seen := map[int]bool{}
	for range 500 {
		seen[weightedSelect(routes)] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected every unweighted route to be drawn, saw %v", seen)
	}
}

func TestEngineBreakersSnapshot(t *testing.T) {
	engine := NewEngine(config.HealthConfig{FailureThreshold: 1, Cooldown: time.Minute})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }
	a := providers.Route{Alias: "tts", Model: "b-model"}
	b := providers.Route{Alias: "tts", Model: "a-model"}
	engine.routes["tts"] = []providers.Route{a, b}

	engine.ReportFailure("tts", a)
	states := engine.Breakers()
	if len(states) != 2 {
		t.Fatalf("expected 2 breaker states, got %d", len(states))
	}
	if states[0].Model != "a-model" || states[0].Open {
		t.Fatalf("unexpected first state %+v", states[0])
	}
	if !states[1].Open || states[1].ConsecutiveFailures != 1 || !states[1].OpenUntil.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected tripped state %+v", states[1])
	}
}
