package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ncecere/sophnet_gateway/internal/config"
)

// WebhookSink posts records as JSON to a fixed set of endpoints.
type WebhookSink struct {
	client     *http.Client
	urls       []string
	maxRetries int
	logger     *slog.Logger
}

// NewWebhookSink returns nil when no endpoint is configured.
func NewWebhookSink(urls []string, cfg config.WebhookConfig, logger *slog.Logger) *WebhookSink {
	targets := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			targets = append(targets, u)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &WebhookSink{
		client:     &http.Client{Timeout: cfg.Timeout},
		urls:       targets,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

func (s *WebhookSink) Deliver(ctx context.Context, rec Record) error {
	if s == nil {
		return nil
	}
	body, err := json.Marshal(webhookPayload{
		Record:    rec,
		LatencyMS: rec.Latency.Milliseconds(),
		Timestamp: rec.Timestamp.UTC(),
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, target := range s.urls {
		if err := s.postWithRetries(ctx, target, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
		}
	}
	return errors.Join(errs...)
}

func (s *WebhookSink) postWithRetries(ctx context.Context, url string, body []byte) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.post(ctx, url, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == s.maxRetries {
			break
		}
		s.logger.Debug("usage webhook retry", "url", url, "attempt", attempt, "error", err)
		delay := time.Duration(attempt) * 250 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (s *WebhookSink) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

type webhookPayload struct {
	Record
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}
