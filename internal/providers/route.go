package providers

import (
	"context"

	"github.com/ncecere/sophnet_gateway/internal/models"
)

// Route represents a single upstream deployment that can serve a public alias.
// Only the interfaces matching Capability are populated.
type Route struct {
	Alias              string
	Provider           string
	Model              string
	Capability         string
	Weight             int
	Metadata           map[string]string
	Chat               ChatCompletions
	ChatStream         ChatStreaming
	Embedding          EmbeddingsProvider
	AudioTranscribe    AudioTranscriber
	TextToSpeech       TextToSpeech
	TextToSpeechStream TextToSpeechStreaming
	Health             func(ctx context.Context) error
}

// ResolveDeployment extracts deployment identifier from route metadata.
func (r Route) ResolveDeployment() string {
	if r.Metadata != nil {
		if dep := r.Metadata["deployment"]; dep != "" {
			return dep
		}
	}
	return r.Model
}

// ToModel describes the route for model listings.
func (r Route) ToModel() models.Model {
	return models.Model{
		Alias:         r.Alias,
		Provider:      r.Provider,
		Deployment:    r.ResolveDeployment(),
		Capability:    r.Capability,
		Routes:        1,
		Streaming:     r.ChatStream != nil || r.TextToSpeechStream != nil,
		SupportsTools: r.Chat != nil,
	}
}
