package sophnet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/ncecere/sophnet_gateway/internal/models"
	"github.com/ncecere/sophnet_gateway/internal/providers/streamutil"
)

// Chat performs a non-streaming completion against the OpenAI-compatible endpoint.
func (a *Adapter) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	params, err := a.buildChatParams(req)
	if err != nil {
		return models.ChatResponse{}, err
	}
	resp, err := a.chat.Chat.Completions.New(ctx, params)
	if err != nil {
		return models.ChatResponse{}, chatError(err)
	}
	return convertChatResponse(*resp), nil
}

// ChatStream performs a streaming completion. Usage arrives on a trailing
// usage-only chunk.
func (a *Adapter) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
	params, err := a.buildChatParams(req)
	if err != nil {
		return nil, nil, err
	}
	params.StreamOptions.IncludeUsage = param.NewOpt(true)
	stream := a.chat.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, nil, chatError(err)
	}

	forward := func(ctx context.Context, yield streamutil.YieldFunc[models.ChatChunk]) {
		for stream.Next() {
			if !yield(convertChatChunk(stream.Current())) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			a.logger.Debug("sophnet chat stream ended with error", "error", err)
		}
	}

	chunks, cancel := streamutil.Forward(ctx, stream.Close, forward)
	return chunks, cancel, nil
}

func (a *Adapter) buildChatParams(req models.ChatRequest) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("%w: chat messages required", ErrInvalidRequest)
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = a.models.chat
	}
	if model == "" {
		model = DefaultChatModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch strings.ToLower(msg.Role) {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "assistant":
			union := openai.ChatCompletionMessageParamOfAssistant(msg.Content)
			if union.OfAssistant != nil {
				for _, call := range msg.ToolCalls {
					union.OfAssistant.ToolCalls = append(union.OfAssistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: call.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      call.Name,
								Arguments: call.Arguments,
							},
						},
					})
				}
			}
			messages = append(messages, union)
		case "tool":
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			union := openai.UserMessage(msg.Content)
			if name := strings.TrimSpace(msg.Name); name != "" && union.OfUser != nil {
				union.OfUser.Name = param.NewOpt(name)
			}
			messages = append(messages, union)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*req.Temperature))
	}
	if req.TopP != nil {
		params.TopP = param.NewOpt(float64(*req.TopP))
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = param.NewOpt(float64(*req.FrequencyPenalty))
	}
	maxTokens := int64(ChatMaxTokens)
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = int64(*req.MaxTokens)
	}
	params.MaxTokens = param.NewOpt(maxTokens)
	if len(req.Stop) == 1 {
		params.Stop.OfString = param.NewOpt(req.Stop[0])
	} else if len(req.Stop) > 1 {
		params.Stop.OfStringArray = append(params.Stop.OfStringArray, req.Stop...)
	}
	for _, tool := range req.Tools {
		def := openai.FunctionDefinitionParam{
			Name:       tool.Name,
			Parameters: openai.FunctionParameters(tool.Parameters),
		}
		if tool.Description != "" {
			def.Description = param.NewOpt(tool.Description)
		}
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(def))
	}

	if extras := chatExtraFields(req); len(extras) > 0 {
		params.SetExtraFields(extras)
	}
	return params, nil
}

// chatExtraFields carries the provider-specific knobs the SDK has no fields for.
func chatExtraFields(req models.ChatRequest) map[string]any {
	extras := map[string]any{}
	if req.TopK != nil {
		extras["top_k"] = *req.TopK
	}
	if req.EnableThinking != nil {
		extras["enable_thinking"] = *req.EnableThinking
	}
	if req.ThinkingBudget != nil {
		extras["thinking_budget"] = *req.ThinkingBudget
	}
	return extras
}

// chatError folds SDK failures into the adapter's error taxonomy.
func chatError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProtocolError{Op: "chat", StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
	return &TransportError{Op: "chat", Err: err}
}

func convertChatResponse(resp openai.ChatCompletion) models.ChatResponse {
	choices := make([]models.ChatChoice, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		message := models.ChatMessage{
			Role:    string(choice.Message.Role),
			Content: choice.Message.Content,
		}
		for _, call := range choice.Message.ToolCalls {
			message.ToolCalls = append(message.ToolCalls, models.ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
		}
		choices = append(choices, models.ChatChoice{
			Index:        int(choice.Index),
			Message:      message,
			FinishReason: choice.FinishReason,
		})
	}

	return models.ChatResponse{
		ID:      resp.ID,
		Created: time.Unix(resp.Created, 0),
		Model:   resp.Model,
		Choices: choices,
		Usage: models.Usage{
			PromptTokens:     int32(resp.Usage.PromptTokens),
			CompletionTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:      int32(resp.Usage.TotalTokens),
		},
	}
}

func convertChatChunk(chunk openai.ChatCompletionChunk) models.ChatChunk {
	choices := make([]models.ChunkDelta, 0, len(chunk.Choices))
	for _, choice := range chunk.Choices {
		msg := models.ChatMessage{
			Role:    choice.Delta.Role,
			Content: choice.Delta.Content,
		}
		for _, call := range choice.Delta.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
		}
		choices = append(choices, models.ChunkDelta{
			Index:        int(choice.Index),
			Delta:        msg,
			FinishReason: choice.FinishReason,
		})
	}

	return models.ChatChunk{
		ID:      chunk.ID,
		Model:   chunk.Model,
		Created: time.Unix(chunk.Created, 0),
		Choices: choices,
		Usage:   convertUsagePointer(chunk.Usage),
	}
}

func convertUsagePointer(u openai.CompletionUsage) *models.Usage {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return nil
	}
	usage := models.Usage{
		PromptTokens:     int32(u.PromptTokens),
		CompletionTokens: int32(u.CompletionTokens),
		TotalTokens:      int32(u.TotalTokens),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return &usage
}
