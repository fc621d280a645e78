package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ncecere/sophnet_gateway/internal/config"
)

func TestSetupDisabledReturnsNil(t *testing.T) {
	provider, err := Setup(context.Background(), config.ObservabilityConfig{})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if provider != nil {
		t.Fatalf("expected nil provider when disabled")
	}
	provider.RecordPoll("stt", "running", 1)
	provider.RecordCost("k", "speech", 1)
	if provider.PrometheusHandler() != nil {
		t.Fatalf("nil provider should not expose a handler")
	}
}

func TestMetricsExposed(t *testing.T) {
	provider, err := Setup(context.Background(), config.ObservabilityConfig{EnableMetrics: true})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	provider.RecordHTTPRequest(context.Background(), "POST", "/v1/audio/speech", 200, 20*time.Millisecond)
	provider.RecordAPILatency("transcription", "stt", 200, 12*time.Second)
	provider.RecordPoll("stt", "running", 2)
	provider.RecordSpeechCharacters("default", "tts", 12)
	provider.RecordCost("default", "speech", 0.0024)
	provider.RecordCacheLookup("embeddings", true)
	provider.RecordRouteHealth("stt", true)

	rec := httptest.NewRecorder()
	provider.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"sophnet_gateway_http_requests_total",
		"sophnet_gateway_transcription_polls_total",
		"sophnet_gateway_speech_characters_total",
		"sophnet_gateway_cost_rmb_total",
		"sophnet_gateway_cache_lookups_total",
		"sophnet_gateway_route_healthy",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
