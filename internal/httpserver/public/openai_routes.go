package public

import (
	"bufio"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/sophnet_gateway/internal/app"
	"github.com/ncecere/sophnet_gateway/internal/executor"
	"github.com/ncecere/sophnet_gateway/internal/httpserver/httputil"
	"github.com/ncecere/sophnet_gateway/internal/models"
	"github.com/ncecere/sophnet_gateway/internal/pricing"
)

const (
	headerCost  = "X-Sophnet-Cost-RMB"
	headerCache = "X-Sophnet-Cache"
)

type openAIHandler struct {
	container *app.Container
	executor  *executor.Executor
}

type openAIModel struct {
	ID         string `json:"id"`
	Object     string `json:"object"`
	OwnedBy    string `json:"owned_by"`
	Created    int64  `json:"created"`
	Capability string `json:"capability"`
	Deployment string `json:"deployment"`
	Routes     int    `json:"routes"`
	Streaming  bool   `json:"streaming"`
}

type openAIModelList struct {
	Object string        `json:"object"`
	Data   []openAIModel `json:"data"`
}

func (h *openAIHandler) listModels(c *fiber.Ctx) error {
	aliases := h.container.Engine.ListAliases()
	out := make([]openAIModel, 0, len(aliases))
	now := time.Now().Unix()

	for alias, routes := range aliases {
		if len(routes) == 0 {
			continue
		}
		model := routes[0].ToModel()
		model.Routes = len(routes)
		out = append(out, openAIModel{
			ID:         alias,
			Object:     "model",
			OwnedBy:    model.Provider,
			Created:    now,
			Capability: model.Capability,
			Deployment: model.Deployment,
			Routes:     model.Routes,
			Streaming:  model.Streaming,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return c.JSON(openAIModelList{
		Object: "list",
		Data:   out,
	})
}

type openAIToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIToolCall struct {
	ID       string                 `json:"id,omitempty"`
	Type     string                 `json:"type"`
	Function openAIToolCallFunction `json:"function"`
}

type openAIChatMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIChatRequest struct {
	Model            string              `json:"model"`
	Messages         []openAIChatMessage `json:"messages"`
	Temperature      *float32            `json:"temperature,omitempty"`
	TopP             *float32            `json:"top_p,omitempty"`
	TopK             *int32              `json:"top_k,omitempty"`
	MaxTokens        *int32              `json:"max_tokens,omitempty"`
	FrequencyPenalty *float32            `json:"frequency_penalty,omitempty"`
	EnableThinking   *bool               `json:"enable_thinking,omitempty"`
	ThinkingBudget   *int32              `json:"thinking_budget,omitempty"`
	Tools            []openAITool        `json:"tools,omitempty"`
	Stream           bool                `json:"stream,omitempty"`
	StopRaw          json.RawMessage     `json:"stop,omitempty"`
}

type openAIChatChoice struct {
	Index        int               `json:"index"`
	Message      openAIChatMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int32 `json:"prompt_tokens"`
	CompletionTokens int32 `json:"completion_tokens"`
	TotalTokens      int32 `json:"total_tokens"`
}

type openAIChatResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []openAIChatChoice `json:"choices"`
	Usage   openAIUsage        `json:"usage"`
}

func (h *openAIHandler) chatCompletions(c *fiber.Ctx) error {
	var req openAIChatRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Messages) == 0 {
		return httputil.WriteError(c, fiber.StatusBadRequest, "messages are required")
	}
	stop, err := parseStop(req.StopRaw)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid stop field")
	}

	modelReq := models.ChatRequest{
		Model:            strings.TrimSpace(req.Model),
		Messages:         convertChatMessages(req.Messages),
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		TopK:             req.TopK,
		MaxTokens:        req.MaxTokens,
		FrequencyPenalty: req.FrequencyPenalty,
		EnableThinking:   req.EnableThinking,
		ThinkingBudget:   req.ThinkingBudget,
		Stream:           req.Stream,
		Stop:             stop,
	}
	for _, tool := range req.Tools {
		if tool.Type != "" && tool.Type != "function" {
			return httputil.WriteError(c, fiber.StatusBadRequest, "only function tools are supported")
		}
		modelReq.Tools = append(modelReq.Tools, models.Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  tool.Function.Parameters,
		})
	}

	if req.Stream {
		return h.streamChat(c, modelReq)
	}

	result, err := h.executor.Chat(c.UserContext(), modelReq)
	if err != nil {
		return httputil.WriteExecutionError(c, err)
	}
	c.Set(headerCost, pricing.Header(result.Cost))
	return c.JSON(convertChatResponse(result.Response, result.Alias))
}

func (h *openAIHandler) streamChat(c *fiber.Ctx, req models.ChatRequest) error {
	stream, err := h.executor.ChatStream(c.UserContext(), req)
	if err != nil {
		return httputil.WriteExecutionError(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	logger := h.container.Logger
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer stream.Close()

		for chunk := range stream.Chunks {
			if chunk.IsUsageOnly() {
				continue
			}
			data, err := json.Marshal(convertStreamChunk(chunk, stream.Alias))
			if err != nil {
				logger.Error("encode chat chunk", "alias", stream.Alias, "error", err)
				return
			}
			if err := writeEvent(w, data); err != nil {
				logger.Debug("chat stream client went away", "alias", stream.Alias, "error", err)
				return
			}
		}

		if _, err := w.WriteString("data: [DONE]\n\n"); err != nil {
			return
		}
		_ = w.Flush()
	})
	return nil
}

func writeEvent(w *bufio.Writer, data []byte) error {
	if _, err := w.WriteString("data: "); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.WriteString("\n\n"); err != nil {
		return err
	}
	return w.Flush()
}

type openAIEmbeddingRequest struct {
	Model      string          `json:"model"`
	Input      json.RawMessage `json:"input"`
	Dimensions int             `json:"dimensions,omitempty"`
}

type openAIEmbedding struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
	Object    string    `json:"object"`
}

type openAIEmbeddingResponse struct {
	Object string            `json:"object"`
	Model  string            `json:"model"`
	Data   []openAIEmbedding `json:"data"`
	Usage  openAIUsage       `json:"usage"`
}

func (h *openAIHandler) embeddings(c *fiber.Ctx) error {
	var req openAIEmbeddingRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	inputs, err := parseEmbeddingInput(req.Input)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.executor.Embeddings(c.UserContext(), models.EmbeddingsRequest{
		Model:      strings.TrimSpace(req.Model),
		Input:      inputs,
		Dimensions: req.Dimensions,
	})
	if err != nil {
		return httputil.WriteExecutionError(c, err)
	}
	c.Set(headerCost, pricing.Header(result.Cost))
	c.Set(headerCache, cacheHeader(result.CacheHit))
	return c.JSON(convertEmbeddingResponse(result.Response, result.Alias))
}

func convertChatMessages(in []openAIChatMessage) []models.ChatMessage {
	messages := make([]models.ChatMessage, 0, len(in))
	for _, m := range in {
		role := strings.ToLower(m.Role)
		if role == "" {
			role = "user"
		}
		msg := models.ChatMessage{
			Role:       role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
		}
		messages = append(messages, msg)
	}
	return messages
}

func convertToolCalls(calls []models.ToolCall) []openAIToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]openAIToolCall, 0, len(calls))
	for _, call := range calls {
		out = append(out, openAIToolCall{
			ID:       call.ID,
			Type:     "function",
			Function: openAIToolCallFunction{Name: call.Name, Arguments: call.Arguments},
		})
	}
	return out
}

func parseStop(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return []string{str}, nil
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr, nil
	}
	return nil, errors.New("invalid stop value")
}

func parseEmbeddingInput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errors.New("input is required")
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return []string{str}, nil
	}

	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) == 0 {
			return nil, errors.New("input is required")
		}
		return arr, nil
	}

	return nil, errors.New("input must be string or array of strings")
}

func cacheHeader(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

func convertChatResponse(resp models.ChatResponse, alias string) openAIChatResponse {
	choices := make([]openAIChatChoice, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		choices = append(choices, openAIChatChoice{
			Index: choice.Index,
			Message: openAIChatMessage{
				Role:      choice.Message.Role,
				Content:   choice.Message.Content,
				ToolCalls: convertToolCalls(choice.Message.ToolCalls),
			},
			FinishReason: choice.FinishReason,
		})
	}

	return openAIChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created.Unix(),
		Model:   alias,
		Choices: choices,
		Usage: openAIUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
}

func convertEmbeddingResponse(resp models.EmbeddingsResponse, alias string) openAIEmbeddingResponse {
	data := make([]openAIEmbedding, 0, len(resp.Embeddings))
	for _, emb := range resp.Embeddings {
		data = append(data, openAIEmbedding{
			Index:     emb.Index,
			Embedding: emb.Vector,
			Object:    "embedding",
		})
	}

	return openAIEmbeddingResponse{
		Object: "list",
		Model:  alias,
		Data:   data,
		Usage: openAIUsage{
			PromptTokens: resp.Usage.PromptTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
}

type openAIStreamDelta struct {
	Role      string           `json:"role,omitempty"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIStreamChoice struct {
	Index        int               `json:"index"`
	Delta        openAIStreamDelta `json:"delta"`
	FinishReason string            `json:"finish_reason,omitempty"`
}

type openAIStreamChunk struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []openAIStreamChoice `json:"choices"`
}

func convertStreamChunk(chunk models.ChatChunk, alias string) openAIStreamChunk {
	choices := make([]openAIStreamChoice, 0, len(chunk.Choices))
	for _, choice := range chunk.Choices {
		choices = append(choices, openAIStreamChoice{
			Index: choice.Index,
			Delta: openAIStreamDelta{
				Role:      choice.Delta.Role,
				Content:   choice.Delta.Content,
				ToolCalls: convertToolCalls(choice.Delta.ToolCalls),
			},
			FinishReason: choice.FinishReason,
		})
	}

	return openAIStreamChunk{
		ID:      chunk.ID,
		Object:  "chat.completion.chunk",
		Created: chunk.Created.Unix(),
		Model:   alias,
		Choices: choices,
	}
}
