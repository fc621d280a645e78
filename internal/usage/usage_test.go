package usage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ncecere/sophnet_gateway/internal/config"
	"github.com/ncecere/sophnet_gateway/internal/models"
)

type stubSink struct {
	mu      sync.Mutex
	err     error
	records []Record
}

func (s *stubSink) Deliver(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *stubSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func TestWebhookSinkDeliver(t *testing.T) {
	var received map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewWebhookSink([]string{ts.URL, " "}, config.WebhookConfig{Timeout: time.Second, MaxRetries: 1}, nil)
	rec := Record{
		Alias:      "deepseek-v3",
		Capability: "chat",
		Usage:      models.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8},
		CostRMB:    decimal.RequireFromString("0.0012"),
		Latency:    1500 * time.Millisecond,
		Timestamp:  time.Now(),
	}
	if err := sink.Deliver(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received["alias"] != "deepseek-v3" {
		t.Fatalf("alias mismatch: %v", received["alias"])
	}
	if received["cost_rmb"] != "0.0012" {
		t.Fatalf("cost mismatch: %v", received["cost_rmb"])
	}
	if received["latency_ms"] != float64(1500) {
		t.Fatalf("latency mismatch: %v", received["latency_ms"])
	}
}

func TestWebhookSinkRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	sink := NewWebhookSink([]string{ts.URL}, config.WebhookConfig{Timeout: time.Second, MaxRetries: 2}, nil)
	if err := sink.Deliver(context.Background(), Record{Alias: "a"}); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestWebhookSinkNoTargets(t *testing.T) {
	if sink := NewWebhookSink([]string{"", "  "}, config.WebhookConfig{}, nil); sink != nil {
		t.Fatalf("expected nil sink without targets")
	}
}

func TestCompositeSinkDeliver(t *testing.T) {
	okSink := &stubSink{}
	errSink := &stubSink{err: errors.New("boom")}

	sink := NewCompositeSink(okSink, errSink)
	if err := sink.Deliver(context.Background(), Record{}); err == nil {
		t.Fatalf("expected error from composite sink")
	}
	if okSink.count() != 1 || errSink.count() != 1 {
		t.Fatalf("expected sinks to be invoked once each")
	}
}

func TestCompositeSinkSkipsNil(t *testing.T) {
	if sink := NewCompositeSink(nil); sink != nil {
		t.Fatalf("expected nil sink when no entries provided")
	}
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	sink := &stubSink{}
	d := NewDispatcherWithSink(sink, 8, nil)
	for range 5 {
		d.Emit(Record{Alias: "a"})
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if sink.count() != 5 {
		t.Fatalf("expected 5 delivered records, got %d", sink.count())
	}
	d.Emit(Record{Alias: "late"})
	if sink.count() != 5 {
		t.Fatalf("record accepted after close")
	}
	if sink.records[0].Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be stamped")
	}
}

func TestNewDispatcherDisabled(t *testing.T) {
	if d := NewDispatcher(config.UsageConfig{}, nil); d != nil {
		t.Fatalf("expected nil dispatcher when no sink is configured")
	}
	var d *Dispatcher
	d.Emit(Record{})
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
