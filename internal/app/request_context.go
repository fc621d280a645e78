package app

import (
	"github.com/google/uuid"

	"github.com/ncecere/sophnet_gateway/internal/config"
	"github.com/ncecere/sophnet_gateway/internal/requestctx"
)

// BuildRequestContext translates an authenticated key into the runtime request
// context. key is nil when the gateway runs without configured keys.
func (c *Container) BuildRequestContext(key *config.APIKeyConfig) *requestctx.Context {
	rc := &requestctx.Context{RequestID: uuid.New()}
	if key == nil {
		rc.APIKeyName = "anonymous"
		rc.APIKeyPrefix = "anonymous"
		applyLimits(rc, c.DefaultKeyLimit.RequestsPerMinute, c.DefaultKeyLimit.TokensPerMinute, c.DefaultKeyLimit.ParallelRequests)
		return rc
	}
	rc.APIKeyID = requestctx.KeyID(key.Prefix)
	rc.APIKeyName = key.Name
	rc.APIKeyPrefix = key.Prefix
	limit := c.EffectiveRateLimits(key.Prefix)
	applyLimits(rc, limit.RequestsPerMinute, limit.TokensPerMinute, limit.ParallelRequests)
	return rc
}

func applyLimits(rc *requestctx.Context, rpm, tpm, parallel int) {
	rc.RequestsPerMinute = rpm
	rc.TokensPerMinute = tpm
	rc.ParallelRequests = parallel
}
