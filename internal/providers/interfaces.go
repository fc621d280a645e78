package providers

import (
	"context"

	"github.com/ncecere/sophnet_gateway/internal/models"
)

// The interfaces below are the per-capability surfaces a Route exposes.
// Streaming variants return a channel plus a cancel func that releases the
// upstream connection.

type ChatCompletions interface {
	Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error)
}

type ChatStreaming interface {
	ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error)
}

type EmbeddingsProvider interface {
	Embed(ctx context.Context, req models.EmbeddingsRequest) (models.EmbeddingsResponse, error)
}

// AudioTranscriber blocks until the remote job reaches a terminal state.
type AudioTranscriber interface {
	Transcribe(ctx context.Context, req models.AudioTranscriptionRequest) (models.AudioTranscriptionResponse, error)
}

type TextToSpeech interface {
	Synthesize(ctx context.Context, req models.AudioSpeechRequest) (models.AudioSpeechResponse, error)
}

type TextToSpeechStreaming interface {
	SynthesizeStream(ctx context.Context, req models.AudioSpeechRequest) (<-chan models.AudioSpeechChunk, func() error, error)
}
