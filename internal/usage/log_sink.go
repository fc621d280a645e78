package usage

import (
	"context"
	"log/slog"
)

// LogSink writes each record as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(ctx context.Context, rec Record) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "usage",
		slog.String("request_id", rec.RequestID),
		slog.String("key", rec.KeyPrefix),
		slog.String("alias", rec.Alias),
		slog.String("model", rec.Model),
		slog.String("capability", rec.Capability),
		slog.Int("prompt_tokens", int(rec.Usage.PromptTokens)),
		slog.Int("completion_tokens", int(rec.Usage.CompletionTokens)),
		slog.Int("characters", rec.Characters),
		slog.String("cost_rmb", rec.CostRMB.String()),
		slog.Bool("cache_hit", rec.CacheHit),
		slog.Duration("latency", rec.Latency),
	)
	return nil
}
