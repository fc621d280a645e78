package providers

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/ncecere/sophnet_gateway/internal/adapters/sophnet"
	"github.com/ncecere/sophnet_gateway/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:         "sophnet",
		Description:  "Sophnet easyllm endpoints and OpenAI-compatible chat",
		Capabilities: []string{"chat", "embeddings", "speech", "transcription"},
		Builder:      buildSophnetRoute,
	})
}

func buildSophnetRoute(ctx context.Context, env Env, entry config.ModelCatalogEntry) (Route, error) {
	adapter, err := NewSophnetAdapter(env, entry)
	if err != nil {
		return Route{}, err
	}

	route := Route{
		Alias:      entry.Alias,
		Provider:   entry.Provider,
		Model:      entry.ProviderModel,
		Capability: entry.Capability,
		Weight:     entry.Weight,
		Metadata:   maps.Clone(entry.Metadata),
		Health:     adapter.HealthCheck,
	}
	if EnsureConfig(env.Config).Health.DeepProbe {
		capability := sophnet.Capability(entry.Capability)
		route.Health = func(ctx context.Context) error {
			return adapter.ValidateCredentials(ctx, capability, "")
		}
	}
	switch sophnet.Capability(entry.Capability) {
	case sophnet.CapabilityChat:
		route.Chat = adapter
		route.ChatStream = adapter
	case sophnet.CapabilityEmbeddings:
		route.Embedding = adapter
	case sophnet.CapabilityTranscription:
		route.AudioTranscribe = adapter
	case sophnet.CapabilitySpeech:
		route.TextToSpeech = adapter
		route.TextToSpeechStream = adapter
	default:
		return Route{}, fmt.Errorf("sophnet: unsupported capability %q", entry.Capability)
	}
	return route, nil
}

// NewSophnetAdapter maps gateway configuration onto adapter options. Entry
// level credentials and endpoint override the account defaults, and the
// entry's provider model becomes the easyllm id for its capability.
func NewSophnetAdapter(env Env, entry config.ModelCatalogEntry) (*sophnet.Adapter, error) {
	cfg := EnsureConfig(env.Config)
	opts := sophnet.Options{
		APIKey:             firstNonEmpty(entry.APIKey, cfg.Sophnet.APIKey),
		ProjectID:          firstNonEmpty(entry.ProjectID, cfg.Sophnet.ProjectID),
		BaseURL:            firstNonEmpty(entry.Endpoint, cfg.Sophnet.BaseURL),
		ChatBaseURL:        cfg.Sophnet.ChatBaseURL,
		ChatModel:          cfg.Sophnet.ChatModel,
		TranscriptionModel: cfg.Sophnet.TranscriptionModel,
		EmbeddingModel:     cfg.Sophnet.EmbeddingModel,
		SpeechModel:        cfg.Sophnet.SpeechModel,
		Timeouts: sophnet.Timeouts{
			Submit:     cfg.Sophnet.Timeouts.Submit,
			Status:     cfg.Sophnet.Timeouts.Status,
			Embeddings: cfg.Sophnet.Timeouts.Embeddings,
			Speech:     cfg.Sophnet.Timeouts.Speech,
		},
		Poll: sophnet.PollSchedule{
			Interval:      cfg.Transcription.PollInterval,
			MaxAttempts:   cfg.Transcription.PollMaxAttempts,
			Step:          cfg.Transcription.PollStep,
			Ceiling:       cfg.Transcription.PollCeiling,
			IncreaseAfter: cfg.Transcription.PollIncreaseAfter,
		},
		Embeddings: sophnet.EmbeddingOptions{
			TokenBudget:  cfg.Embeddings.TokenBudget,
			MaxBatchSize: cfg.Embeddings.MaxBatchSize,
			Dimensions:   cfg.Embeddings.Dimensions,
		},
		Speech: sophnet.SpeechOptions{
			SynthesisModel: cfg.Speech.SynthesisModel,
			Voice:          cfg.Speech.Voice,
			Format:         cfg.Speech.Format,
			Streaming:      cfg.Speech.Streaming,
			SplitThreshold: cfg.Speech.SplitThreshold,
			Volume:         intPtr(cfg.Speech.Volume),
			SpeechRate:     floatPtr(cfg.Speech.SpeechRate),
			PitchRate:      floatPtr(cfg.Speech.PitchRate),
		},
		Logger: env.Logger,
	}

	model := strings.TrimSpace(entry.ProviderModel)
	switch sophnet.Capability(entry.Capability) {
	case sophnet.CapabilityChat:
		opts.ChatModel = firstNonEmpty(model, opts.ChatModel)
	case sophnet.CapabilityTranscription:
		opts.TranscriptionModel = firstNonEmpty(model, opts.TranscriptionModel)
	case sophnet.CapabilityEmbeddings:
		opts.EmbeddingModel = firstNonEmpty(model, opts.EmbeddingModel)
	case sophnet.CapabilitySpeech:
		opts.SpeechModel = firstNonEmpty(model, opts.SpeechModel)
	}

	if env.OnPoll != nil {
		alias := entry.Alias
		opts.OnPoll = func(status sophnet.JobStatus, attempt int) {
			env.OnPoll(alias, string(status), attempt)
		}
	}
	return sophnet.New(opts)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func intPtr(v int) *int {
	return &v
}

func floatPtr(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}
