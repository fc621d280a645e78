package executor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ncecere/sophnet_gateway/internal/app"
	"github.com/ncecere/sophnet_gateway/internal/cache"
	"github.com/ncecere/sophnet_gateway/internal/limits"
	"github.com/ncecere/sophnet_gateway/internal/models"
	"github.com/ncecere/sophnet_gateway/internal/observability"
	"github.com/ncecere/sophnet_gateway/internal/pricing"
	"github.com/ncecere/sophnet_gateway/internal/providers"
	"github.com/ncecere/sophnet_gateway/internal/requestctx"
	"github.com/ncecere/sophnet_gateway/internal/usage"
)

// Capability names used for routing, metrics and pricing.
const (
	CapabilityChat          = "chat"
	CapabilityEmbeddings    = "embeddings"
	CapabilityTranscription = "transcription"
	CapabilitySpeech        = "speech"
)

// Executor encapsulates provider execution logic so HTTP handlers and CLIs
// invoke the same code path.
type Executor struct {
	container *app.Container
}

func New(container *app.Container) *Executor {
	return &Executor{container: container}
}

// Meta describes how a request was served.
type Meta struct {
	Alias    string
	Model    string
	Cost     decimal.Decimal
	CacheHit bool
}

type ChatResult struct {
	Response models.ChatResponse
	Meta
}

type EmbeddingsResult struct {
	Response models.EmbeddingsResponse
	Meta
}

type TranscriptionResult struct {
	Response models.AudioTranscriptionResponse
	Meta
}

type SpeechResult struct {
	Response models.AudioSpeechResponse
	Meta
}

// ChatStream is an open streaming completion. Close releases the upstream
// connection and the caller's parallel slot.
type ChatStream struct {
	Chunks <-chan models.ChatChunk
	Close  func() error
	Meta
}

// SpeechStream is an open streaming synthesis.
type SpeechStream struct {
	Chunks      <-chan models.AudioSpeechChunk
	Close       func() error
	ContentType string
	Meta
}

// Chat executes a chat completion against the routed providers.
func (e *Executor) Chat(ctx context.Context, req models.ChatRequest) (ChatResult, error) {
	start := time.Now()
	alias, err := e.resolveAlias(req.Model, CapabilityChat)
	if err != nil {
		return ChatResult{}, err
	}
	limitKey, limitCfg, release, err := e.acquire(ctx)
	if err != nil {
		return ChatResult{}, err
	}
	defer release()

	resp, route, err := runRoutes(ctx, e, alias, CapabilityChat,
		func(r providers.Route) bool { return r.Chat != nil },
		func(ctx context.Context, r providers.Route) (models.ChatResponse, error) {
			routed := req
			routed.Model = r.ResolveDeployment()
			return r.Chat.Chat(ctx, routed)
		})
	if err != nil {
		return ChatResult{}, err
	}

	e.recordUsage(ctx, route, resp.Usage)
	if err := e.consumeTokens(ctx, limitKey, int(resp.Usage.TotalTokens), limitCfg); err != nil {
		return ChatResult{}, err
	}
	meta := Meta{Alias: alias, Model: route.Model, Cost: pricing.Chat(pricing.ParseChatPrice(route.Metadata), resp.Usage)}
	e.recordCost(ctx, CapabilityChat, meta.Cost)
	e.emitUsage(ctx, CapabilityChat, meta, resp.Usage, 0, start)
	return ChatResult{Response: resp, Meta: meta}, nil
}

// ChatStream opens a streaming completion. Failover only applies while
// opening the stream.
func (e *Executor) ChatStream(ctx context.Context, req models.ChatRequest) (ChatStream, error) {
	start := time.Now()
	alias, err := e.resolveAlias(req.Model, CapabilityChat)
	if err != nil {
		return ChatStream{}, err
	}
	limitKey, limitCfg, release, err := e.acquire(ctx)
	if err != nil {
		return ChatStream{}, err
	}

	type opened struct {
		chunks <-chan models.ChatChunk
		cancel func() error
	}
	upstream, route, err := runRoutes(ctx, e, alias, CapabilityChat,
		func(r providers.Route) bool { return r.ChatStream != nil },
		func(ctx context.Context, r providers.Route) (opened, error) {
			routed := req
			routed.Model = r.ResolveDeployment()
			chunks, cancel, err := r.ChatStream.ChatStream(ctx, routed)
			return opened{chunks: chunks, cancel: cancel}, err
		})
	if err != nil {
		release()
		return ChatStream{}, err
	}

	price := pricing.ParseChatPrice(route.Metadata)
	streamCtx, stop := context.WithCancel(ctx)
	out := make(chan models.ChatChunk)
	go func() {
		defer close(out)
		defer release()
		for chunk := range upstream.chunks {
			if chunk.Usage != nil {
				e.recordUsage(ctx, route, *chunk.Usage)
				_ = e.consumeTokens(context.WithoutCancel(ctx), limitKey, int(chunk.Usage.TotalTokens), limitCfg)
				cost := pricing.Chat(price, *chunk.Usage)
				e.recordCost(ctx, CapabilityChat, cost)
				e.emitUsage(ctx, CapabilityChat, Meta{Alias: alias, Model: route.Model, Cost: cost}, *chunk.Usage, 0, start)
			}
			select {
			case out <- chunk:
			case <-streamCtx.Done():
				return
			}
		}
	}()

	return ChatStream{
		Chunks: out,
		Close: func() error {
			stop()
			err := upstream.cancel()
			release()
			return err
		},
		Meta: Meta{Alias: alias, Model: route.Model},
	}, nil
}

// Embeddings serves cached vectors and fetches the rest upstream in one call.
func (e *Executor) Embeddings(ctx context.Context, req models.EmbeddingsRequest) (EmbeddingsResult, error) {
	start := time.Now()
	if len(req.Input) == 0 {
		return EmbeddingsResult{}, NewAPIError(fiber.StatusBadRequest, "input is required")
	}
	alias, err := e.resolveAlias(req.Model, CapabilityEmbeddings)
	if err != nil {
		return EmbeddingsResult{}, err
	}
	dims := req.Dimensions
	if dims <= 0 {
		dims = e.container.Config.Embeddings.Dimensions
	}

	cached, missing := e.container.Embeddings.Lookup(ctx, alias, dims, req.Input)
	obs := e.container.Observability
	for i := range req.Input {
		obs.RecordCacheLookup(CapabilityEmbeddings, cached[i] != nil)
	}

	result := EmbeddingsResult{Meta: Meta{Alias: alias, CacheHit: len(missing) == 0}}
	if len(missing) > 0 {
		limitKey, limitCfg, release, err := e.acquire(ctx)
		if err != nil {
			return EmbeddingsResult{}, err
		}
		defer release()

		texts := make([]string, len(missing))
		for i, idx := range missing {
			texts[i] = req.Input[idx]
		}
		resp, route, err := runRoutes(ctx, e, alias, CapabilityEmbeddings,
			func(r providers.Route) bool { return r.Embedding != nil },
			func(ctx context.Context, r providers.Route) (models.EmbeddingsResponse, error) {
				return r.Embedding.Embed(ctx, models.EmbeddingsRequest{
					Model:      r.ResolveDeployment(),
					Input:      texts,
					Dimensions: dims,
				})
			})
		if err != nil {
			return EmbeddingsResult{}, err
		}
		if len(resp.Embeddings) != len(texts) {
			return EmbeddingsResult{}, NewAPIError(fiber.StatusBadGateway, "upstream returned a partial embedding set")
		}

		fresh := make([][]float32, len(texts))
		for i, emb := range resp.Embeddings {
			fresh[i] = emb.Vector
			cached[missing[i]] = emb.Vector
		}
		if err := e.container.Embeddings.Store(ctx, alias, dims, texts, fresh); err != nil {
			e.container.Logger.Warn("embedding cache store failed", "alias", alias, "error", err)
		}

		e.recordUsage(ctx, route, resp.Usage)
		if err := e.consumeTokens(ctx, limitKey, int(resp.Usage.TotalTokens), limitCfg); err != nil {
			return EmbeddingsResult{}, err
		}
		result.Model = resp.Model
		result.Response.Usage = resp.Usage
		result.Cost = pricing.Embeddings(resp.Usage)
		e.recordCost(ctx, CapabilityEmbeddings, result.Cost)
		e.emitUsage(ctx, CapabilityEmbeddings, result.Meta, resp.Usage, 0, start)
	}

	result.Response.Model = alias
	result.Response.Embeddings = make([]models.Embedding, len(cached))
	for i, vec := range cached {
		result.Response.Embeddings[i] = models.Embedding{Index: i, Vector: vec}
	}
	return result, nil
}

// Transcribe submits audio and waits for the transcript. A non-empty
// idempotencyKey replays the stored result of an earlier identical call.
func (e *Executor) Transcribe(ctx context.Context, req models.AudioTranscriptionRequest, idempotencyKey string) (TranscriptionResult, error) {
	start := time.Now()
	alias, err := e.resolveAlias(req.Model, CapabilityTranscription)
	if err != nil {
		return TranscriptionResult{}, err
	}
	scope := callerLabel(ctx)
	if data, ok := e.container.Idempotency.Get(ctx, scope, idempotencyKey); ok {
		var resp models.AudioTranscriptionResponse
		if err := json.Unmarshal(data, &resp); err == nil {
			return TranscriptionResult{Response: resp, Meta: Meta{Alias: alias, CacheHit: true}}, nil
		}
	}

	if !e.container.Idempotency.Claim(ctx, scope, idempotencyKey) {
		return TranscriptionResult{}, NewAPIError(fiber.StatusConflict, "a request with this Idempotency-Key is already in progress")
	}
	stored := false
	defer func() {
		if !stored {
			e.container.Idempotency.Release(context.WithoutCancel(ctx), scope, idempotencyKey)
		}
	}()

	_, _, release, err := e.acquire(ctx)
	if err != nil {
		return TranscriptionResult{}, err
	}
	defer release()

	// The upload is consumed by the first attempt, so there is no failover here.
	routes := e.container.Engine.SelectRoutes(alias)
	var chosen []providers.Route
	for _, r := range routes {
		if r.AudioTranscribe != nil {
			chosen = append(chosen, r)
			break
		}
	}
	resp, route, err := runRouteList(ctx, e, alias, CapabilityTranscription, chosen,
		func(ctx context.Context, r providers.Route) (models.AudioTranscriptionResponse, error) {
			routed := req
			routed.Model = r.ResolveDeployment()
			return r.AudioTranscribe.Transcribe(ctx, routed)
		})
	if err != nil {
		return TranscriptionResult{}, err
	}

	if data, err := json.Marshal(resp); err == nil {
		e.container.Idempotency.Set(ctx, scope, idempotencyKey, data)
		stored = true
	}
	meta := Meta{Alias: alias, Model: route.Model, Cost: pricing.Transcription()}
	e.recordCost(ctx, CapabilityTranscription, meta.Cost)
	e.emitUsage(ctx, CapabilityTranscription, meta, models.Usage{}, 0, start)
	return TranscriptionResult{Response: resp, Meta: meta}, nil
}

// Speech synthesizes complete audio, consulting the speech cache first.
func (e *Executor) Speech(ctx context.Context, req models.AudioSpeechRequest) (SpeechResult, error) {
	start := time.Now()
	alias, err := e.resolveAlias(req.Model, CapabilitySpeech)
	if err != nil {
		return SpeechResult{}, err
	}
	cacheKey := cache.SpeechKey(alias, req)
	if e.container.Speech != nil {
		cached, ok, err := e.container.Speech.Get(ctx, cacheKey)
		if err != nil {
			e.container.Logger.Warn("speech cache read failed", "alias", alias, "error", err)
		}
		e.container.Observability.RecordCacheLookup(CapabilitySpeech, ok)
		if ok {
			return SpeechResult{Response: cached, Meta: Meta{Alias: alias, CacheHit: true}}, nil
		}
	}

	_, _, release, err := e.acquire(ctx)
	if err != nil {
		return SpeechResult{}, err
	}
	defer release()

	resp, route, err := runRoutes(ctx, e, alias, CapabilitySpeech,
		func(r providers.Route) bool { return r.TextToSpeech != nil },
		func(ctx context.Context, r providers.Route) (models.AudioSpeechResponse, error) {
			routed := req
			routed.Model = r.ResolveDeployment()
			routed.Stream = false
			return r.TextToSpeech.Synthesize(ctx, routed)
		})
	if err != nil {
		return SpeechResult{}, err
	}

	if err := e.container.Speech.Put(ctx, cacheKey, resp); err != nil {
		e.container.Logger.Warn("speech cache write failed", "alias", alias, "error", err)
	}
	meta := Meta{Alias: alias, Model: route.Model, Cost: pricing.SpeechChars(resp.Characters)}
	e.container.Observability.RecordSpeechCharacters(callerLabel(ctx), route.Model, resp.Characters)
	e.recordCost(ctx, CapabilitySpeech, meta.Cost)
	e.emitUsage(ctx, CapabilitySpeech, meta, models.Usage{}, resp.Characters, start)
	return SpeechResult{Response: resp, Meta: meta}, nil
}

// SpeechStream opens a streaming synthesis. Cost is charged on open since
// it depends only on the input text.
func (e *Executor) SpeechStream(ctx context.Context, req models.AudioSpeechRequest, contentType string) (SpeechStream, error) {
	start := time.Now()
	alias, err := e.resolveAlias(req.Model, CapabilitySpeech)
	if err != nil {
		return SpeechStream{}, err
	}
	_, _, release, err := e.acquire(ctx)
	if err != nil {
		return SpeechStream{}, err
	}

	type opened struct {
		chunks <-chan models.AudioSpeechChunk
		cancel func() error
	}
	upstream, route, err := runRoutes(ctx, e, alias, CapabilitySpeech,
		func(r providers.Route) bool { return r.TextToSpeechStream != nil },
		func(ctx context.Context, r providers.Route) (opened, error) {
			routed := req
			routed.Model = r.ResolveDeployment()
			routed.Stream = true
			chunks, cancel, err := r.TextToSpeechStream.SynthesizeStream(ctx, routed)
			return opened{chunks: chunks, cancel: cancel}, err
		})
	if err != nil {
		release()
		return SpeechStream{}, err
	}

	cost := pricing.Speech(req.Input)
	chars := len([]rune(req.Input))
	meta := Meta{Alias: alias, Model: route.Model, Cost: cost}
	e.container.Observability.RecordSpeechCharacters(callerLabel(ctx), route.Model, chars)
	e.recordCost(ctx, CapabilitySpeech, cost)
	e.emitUsage(ctx, CapabilitySpeech, meta, models.Usage{}, chars, start)

	return SpeechStream{
		Chunks: upstream.chunks,
		Close: func() error {
			err := upstream.cancel()
			release()
			return err
		},
		ContentType: contentType,
		Meta:        meta,
	}, nil
}

// resolveAlias picks the requested alias or, when empty, the first alias
// serving capability.
func (e *Executor) resolveAlias(requested, capability string) (string, error) {
	if requested != "" {
		if len(e.container.Engine.ListAliases()[requested]) == 0 {
			return "", NewAPIError(fiber.StatusNotFound, "model "+requested+" not found")
		}
		return requested, nil
	}
	alias, ok := e.container.Engine.DefaultAlias(capability)
	if !ok {
		return "", NewAPIError(fiber.StatusServiceUnavailable, "no "+capability+" model configured")
	}
	return alias, nil
}

func (e *Executor) acquire(ctx context.Context) (string, limits.LimitConfig, func(), error) {
	key, cfg, release, err := e.container.AcquireRateLimits(ctx)
	if err != nil {
		if errors.Is(err, limits.ErrLimitExceeded) {
			return "", limits.LimitConfig{}, nil, NewAPIError(fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		return "", limits.LimitConfig{}, nil, err
	}
	return key, cfg, release, nil
}

func (e *Executor) consumeTokens(ctx context.Context, key string, tokens int, cfg limits.LimitConfig) error {
	if err := e.container.RateLimiter.TokenAllowance(ctx, key, tokens, cfg); err != nil {
		if errors.Is(err, limits.ErrLimitExceeded) {
			return NewAPIError(fiber.StatusTooManyRequests, "token limit exceeded")
		}
		return err
	}
	return nil
}

func (e *Executor) recordUsage(ctx context.Context, route providers.Route, usage models.Usage) {
	e.container.Observability.RecordTokens(callerLabel(ctx), route.Model, int64(usage.PromptTokens), int64(usage.CompletionTokens))
}

func (e *Executor) recordCost(ctx context.Context, capability string, cost decimal.Decimal) {
	e.container.Observability.RecordCost(callerLabel(ctx), capability, cost.InexactFloat64())
}

// emitUsage hands a billed call to the usage dispatcher, if one is configured.
func (e *Executor) emitUsage(ctx context.Context, capability string, meta Meta, u models.Usage, chars int, start time.Time) {
	rec := usage.Record{
		Alias:      meta.Alias,
		Model:      meta.Model,
		Capability: capability,
		Usage:      u,
		Characters: chars,
		CostRMB:    meta.Cost,
		CacheHit:   meta.CacheHit,
		Latency:    time.Since(start),
	}
	if rc, ok := requestctx.FromContext(ctx); ok && rc != nil {
		rec.RequestID = rc.RequestID.String()
		rec.KeyPrefix = rc.APIKeyPrefix
		rec.KeyName = rc.APIKeyName
	}
	e.container.Usage.Emit(rec)
}

func callerLabel(ctx context.Context) string {
	rc, _ := requestctx.FromContext(ctx)
	return rc.Label()
}

// runRoutes tries each healthy route that has the capability until one
// succeeds or a failure is not worth retrying elsewhere.
func runRoutes[T any](ctx context.Context, e *Executor, alias, capability string, has func(providers.Route) bool, call func(context.Context, providers.Route) (T, error)) (T, providers.Route, error) {
	var candidates []providers.Route
	for _, r := range e.container.Engine.SelectRoutes(alias) {
		if has(r) {
			candidates = append(candidates, r)
		}
	}
	return runRouteList(ctx, e, alias, capability, candidates, call)
}

func runRouteList[T any](ctx context.Context, e *Executor, alias, capability string, routes []providers.Route, call func(context.Context, providers.Route) (T, error)) (T, providers.Route, error) {
	var zero T
	if len(routes) == 0 {
		return zero, providers.Route{}, NewAPIError(fiber.StatusServiceUnavailable, "no backend available for model "+alias)
	}

	var lastErr error
	for _, route := range routes {
		start := time.Now()
		spanCtx, span := observability.StartSpan(ctx, "sophnet."+capability,
			attribute.String("gateway.alias", alias),
			attribute.String("sophnet.model", route.Model),
		)
		out, err := call(spanCtx, route)
		observability.EndSpan(span, err)
		status, _ := StatusFor(err)
		e.container.Observability.RecordAPILatency(capability, route.Model, status, time.Since(start))

		if err == nil {
			e.container.Engine.ReportSuccess(alias, route)
			return out, route, nil
		}
		lastErr = err
		if countsAgainstRoute(err) {
			e.container.Engine.ReportFailure(alias, route)
		}
		if !retryable(err) {
			return zero, route, err
		}
		e.container.Logger.Warn("upstream call failed, trying next route", "alias", alias, "model", route.Model, "error", err)
	}
	return zero, providers.Route{}, lastErr
}
