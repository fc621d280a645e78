package sophnet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
	err   error
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slept = append(r.slept, d)
	if r.err != nil {
		return r.err
	}
	return ctx.Err()
}

func (r *sleepRecorder) durations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.slept...)
}

// newTestAdapter points every endpoint at handler and replaces the poll sleep
// with a recorder so tests never wait.
func newTestAdapter(t *testing.T, handler http.Handler, mutate func(*Options)) (*Adapter, *sleepRecorder) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts := Options{
		APIKey:             "sk-test",
		ProjectID:          "proj-1",
		BaseURL:            server.URL,
		ChatBaseURL:        server.URL,
		ChatModel:          "DeepSeek-V3-Fast",
		TranscriptionModel: "stt-easyllm",
		EmbeddingModel:     "embed-easyllm",
		SpeechModel:        "tts-easyllm",
		HTTPClient:         server.Client(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	adapter, err := New(opts)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	rec := &sleepRecorder{}
	adapter.sleep = rec.sleep
	return adapter, rec
}
