package sophnet

import (
	"context"
	"fmt"
	"slices"

	"github.com/ncecere/sophnet_gateway/internal/models"
)

// Embed truncates each input to the token budget, sends the inputs in ordered
// batches one request at a time, and returns vectors aligned with req.Input.
func (a *Adapter) Embed(ctx context.Context, req models.EmbeddingsRequest) (models.EmbeddingsResponse, error) {
	if len(req.Input) == 0 {
		return models.EmbeddingsResponse{}, fmt.Errorf("%w: embeddings input required", ErrInvalidRequest)
	}
	creds, err := a.credentials(req.Model, a.models.embedding)
	if err != nil {
		return models.EmbeddingsResponse{}, err
	}
	dims := req.Dimensions
	if dims <= 0 {
		dims = a.embed.Dimensions
	}
	if !SupportedDimension(dims) {
		return models.EmbeddingsResponse{}, fmt.Errorf("%w: unsupported embedding dimensions %d", ErrInvalidRequest, dims)
	}

	texts := make([]string, len(req.Input))
	truncated := 0
	for i, text := range req.Input {
		var cut bool
		texts[i], cut = truncateToBudget(text, a.embed.TokenBudget)
		if cut {
			truncated++
		}
	}
	if truncated > 0 {
		a.logger.Debug("sophnet truncated embedding inputs", "count", truncated, "budget", a.embed.TokenBudget)
	}

	out := models.EmbeddingsResponse{
		Model:      creds.EasyLLMID,
		Embeddings: make([]models.Embedding, 0, len(texts)),
	}
	for batch := range slices.Chunk(texts, a.embed.MaxBatchSize) {
		vectors, tokens, err := a.embedBatch(ctx, creds.EasyLLMID, dims, batch)
		if err != nil {
			return models.EmbeddingsResponse{}, err
		}
		for _, vec := range vectors {
			out.Embeddings = append(out.Embeddings, models.Embedding{Index: len(out.Embeddings), Vector: vec})
		}
		out.Usage.PromptTokens += int32(tokens)
		out.Usage.TotalTokens += int32(tokens)
	}
	return out, nil
}

func (a *Adapter) embedBatch(ctx context.Context, easyllmID string, dims int, batch []string) ([][]float32, int, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeouts.Embeddings)
	defer cancel()

	resp, err := a.postJSON(ctx, "embeddings", "embeddings", embeddingRequest{
		EasyLLMID:  easyllmID,
		InputTexts: batch,
		Dimensions: dims,
	})
	if err != nil {
		return nil, 0, err
	}
	var payload embeddingResponse
	if err := decodeJSON("embeddings", resp, &payload); err != nil {
		return nil, 0, err
	}
	if len(payload.Data) != len(batch) {
		return nil, 0, &ProtocolError{
			Op:      "embeddings",
			Message: fmt.Sprintf("got %d vectors for %d inputs", len(payload.Data), len(batch)),
		}
	}

	vectors := make([][]float32, len(payload.Data))
	for i, item := range payload.Data {
		vec := make([]float32, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	tokens := 0
	if payload.Usage != nil {
		tokens = payload.Usage.TotalTokens
	}
	return vectors, tokens, nil
}
