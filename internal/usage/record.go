package usage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ncecere/sophnet_gateway/internal/models"
)

// Record captures the outcome of one billed gateway call.
type Record struct {
	RequestID  string          `json:"request_id,omitempty"`
	KeyPrefix  string          `json:"key_prefix,omitempty"`
	KeyName    string          `json:"key_name,omitempty"`
	Alias      string          `json:"alias"`
	Model      string          `json:"model"`
	Capability string          `json:"capability"`
	Usage      models.Usage    `json:"usage"`
	Characters int             `json:"characters,omitempty"`
	CostRMB    decimal.Decimal `json:"cost_rmb"`
	CacheHit   bool            `json:"cache_hit"`
	Latency    time.Duration   `json:"-"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Sink receives usage records.
type Sink interface {
	Deliver(ctx context.Context, rec Record) error
}
