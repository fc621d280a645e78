package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ncecere/sophnet_gateway/internal/config"
)

const deliverTimeout = 30 * time.Second

// Dispatcher queues records and delivers them off the request path. A nil
// Dispatcher drops everything.
type Dispatcher struct {
	sink   Sink
	logger *slog.Logger
	queue  chan Record

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher builds the configured sinks. It returns nil when no sink is
// enabled.
func NewDispatcher(cfg config.UsageConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	var sinks []Sink
	if cfg.LogRecords {
		sinks = append(sinks, NewLogSink(logger))
	}
	if webhook := NewWebhookSink(cfg.WebhookURLs, cfg.Webhook, logger); webhook != nil {
		sinks = append(sinks, webhook)
	}
	sink := NewCompositeSink(sinks...)
	if sink == nil {
		return nil
	}
	return NewDispatcherWithSink(sink, cfg.QueueSize, logger)
}

// NewDispatcherWithSink starts a dispatcher that feeds sink.
func NewDispatcherWithSink(sink Sink, queueSize int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	d := &Dispatcher{
		sink:   sink,
		logger: logger,
		queue:  make(chan Record, queueSize),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit enqueues rec without blocking. Records are dropped when the queue is full.
func (d *Dispatcher) Emit(rec Record) {
	if d == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("usage record dropped after shutdown", "alias", rec.Alias)
		return
	}
	select {
	case d.queue <- rec:
	default:
		d.logger.Warn("usage queue full, dropping record", "alias", rec.Alias, "request_id", rec.RequestID)
	}
}

// Close stops accepting records and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for rec := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		if err := d.sink.Deliver(ctx, rec); err != nil {
			d.logger.Warn("usage delivery failed", "alias", rec.Alias, "request_id", rec.RequestID, "error", err)
		}
		cancel()
	}
}
