package public

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/sophnet_gateway/internal/app"
	"github.com/ncecere/sophnet_gateway/internal/auth"
	"github.com/ncecere/sophnet_gateway/internal/config"
	"github.com/ncecere/sophnet_gateway/internal/limits"
	"github.com/ncecere/sophnet_gateway/internal/models"
	"github.com/ncecere/sophnet_gateway/internal/providers"
	"github.com/ncecere/sophnet_gateway/internal/router"
)

type stubChat struct{}

func (stubChat) Chat(_ context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	return models.ChatResponse{
		ID: "chat-1",
		Choices: []models.ChatChoice{{
			Message:      models.ChatMessage{Role: "assistant", Content: "echo: " + req.Messages[len(req.Messages)-1].Content},
			FinishReason: "stop",
		}},
		Usage: models.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}, nil
}

func (stubChat) ChatStream(_ context.Context, _ models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
	ch := make(chan models.ChatChunk, 3)
	ch <- models.ChatChunk{ID: "s-1", Choices: []models.ChunkDelta{{Delta: models.ChatMessage{Role: "assistant", Content: "he"}}}}
	ch <- models.ChatChunk{ID: "s-1", Choices: []models.ChunkDelta{{Delta: models.ChatMessage{Content: "llo"}, FinishReason: "stop"}}}
	ch <- models.ChatChunk{ID: "s-1", Usage: &models.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}}
	close(ch)
	return ch, func() error { return nil }, nil
}

type stubSpeech struct{}

func (stubSpeech) Synthesize(_ context.Context, req models.AudioSpeechRequest) (models.AudioSpeechResponse, error) {
	return models.AudioSpeechResponse{Audio: []byte("ID3-audio"), ContentType: "audio/mpeg", Characters: len([]rune(req.Input))}, nil
}

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(_ context.Context, req models.AudioTranscriptionRequest) (models.AudioTranscriptionResponse, error) {
	data, _ := io.ReadAll(req.Input.Reader)
	return models.AudioTranscriptionResponse{Text: "heard " + string(data), JobID: "task-9"}, nil
}

func newTestApp(t *testing.T, keys []config.APIKeyConfig) *fiber.App {
	t.Helper()
	cfg := &config.Config{
		ModelCatalog: []config.ModelCatalogEntry{
			{Alias: "chat", Provider: "stub", ProviderModel: "chat-id", Capability: "chat"},
			{Alias: "tts", Provider: "stub", ProviderModel: "tts-id", Capability: "speech"},
			{Alias: "asr", Provider: "stub", ProviderModel: "asr-id", Capability: "transcription"},
		},
	}
	cfg.Transcription.MaxUploadMB = 1
	factory := providers.NewFactory(cfg)
	factory.Register("stub", func(_ context.Context, _ providers.Env, entry config.ModelCatalogEntry) (providers.Route, error) {
		route := providers.Route{Alias: entry.Alias, Provider: "stub", Model: entry.ProviderModel, Capability: entry.Capability}
		switch entry.Capability {
		case "chat":
			route.Chat, route.ChatStream = stubChat{}, stubChat{}
		case "speech":
			route.TextToSpeech = stubSpeech{}
		case "transcription":
			route.AudioTranscribe = stubTranscriber{}
		}
		return route, nil
	})
	engine := router.NewEngine(config.HealthConfig{})
	require.NoError(t, engine.Reload(context.Background(), factory))

	container := &app.Container{
		Config:      cfg,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Engine:      engine,
		Keys:        auth.NewKeyStore(keys),
		RateLimiter: limits.NewRateLimiter(nil, ""),
	}
	fiberApp := fiber.New()
	Register(fiberApp, container)
	return fiberApp
}

func TestAPIKeyAuth(t *testing.T) {
	prefix, secret, token, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	hash, err := auth.HashSecret(secret)
	require.NoError(t, err)
	fiberApp := newTestApp(t, []config.APIKeyConfig{{Name: "ci", Prefix: prefix, SecretHash: hash}})

	resp, err := fiberApp.Test(httptest.NewRequest(fiber.MethodGet, "/v1/models", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(fiber.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer sk-"+prefix+".wrong")
	resp, err = fiberApp.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = fiberApp.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var list openAIModelList
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Data, 3)
	require.Equal(t, "asr", list.Data[0].ID)
	require.Equal(t, "transcription", list.Data[0].Capability)
}

func TestChatCompletions(t *testing.T) {
	fiberApp := newTestApp(t, nil)

	body := `{"model":"chat","messages":[{"role":"user","content":"ping"}],"stop":"END"}`
	req := httptest.NewRequest(fiber.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := fiberApp.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "0.000000", resp.Header.Get(headerCost))

	var out openAIChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "chat", out.Model)
	require.Equal(t, "echo: ping", out.Choices[0].Message.Content)
	require.Equal(t, int32(5), out.Usage.TotalTokens)
}

func TestChatCompletionsStream(t *testing.T) {
	fiberApp := newTestApp(t, nil)

	body := `{"model":"chat","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(fiber.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := fiberApp.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
			events = append(events, strings.TrimPrefix(line, "data: "))
		}
	}
	require.Len(t, events, 3)
	require.Equal(t, "[DONE]", events[2])

	var chunk openAIStreamChunk
	require.NoError(t, json.Unmarshal([]byte(events[1]), &chunk))
	require.Equal(t, "llo", chunk.Choices[0].Delta.Content)
	require.Equal(t, "chat", chunk.Model)
}

func TestChatCompletionsRejectsBadInput(t *testing.T) {
	fiberApp := newTestApp(t, nil)

	cases := map[string]int{
		`{"model":"chat"}`: fiber.StatusBadRequest,
		`{"model":"chat","messages":[{"role":"user","content":"x"}],"stop":1}`: fiber.StatusBadRequest,
		`{"model":"nope","messages":[{"role":"user","content":"x"}]}`:          fiber.StatusNotFound,
	}
	for body, want := range cases {
		req := httptest.NewRequest(fiber.MethodPost, "/v1/chat/completions", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := fiberApp.Test(req)
		require.NoError(t, err)
		require.Equal(t, want, resp.StatusCode, body)
	}
}

func TestAudioSpeech(t *testing.T) {
	fiberApp := newTestApp(t, nil)

	req := httptest.NewRequest(fiber.MethodPost, "/v1/audio/speech", strings.NewReader(`{"input":"你好世界"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := fiberApp.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	require.Equal(t, "0.000800", resp.Header.Get(headerCost))
	audio, _ := io.ReadAll(resp.Body)
	require.Equal(t, "ID3-audio", string(audio))

	req = httptest.NewRequest(fiber.MethodPost, "/v1/audio/speech", strings.NewReader(`{"input":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = fiberApp.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAudioTranscriptions(t *testing.T) {
	fiberApp := newTestApp(t, nil)

	upload := func(filename string) (*bytes.Buffer, string) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("model", "asr"))
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, _ = part.Write([]byte("audio"))
		require.NoError(t, mw.Close())
		return &buf, mw.FormDataContentType()
	}

	body, contentType := upload("meeting.mp3")
	req := httptest.NewRequest(fiber.MethodPost, "/v1/audio/transcriptions", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := fiberApp.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var out audioTranscriptionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "heard audio", out.Text)
	require.Equal(t, "task-9", out.TaskID)

	body, contentType = upload("notes.txt")
	req = httptest.NewRequest(fiber.MethodPost, "/v1/audio/transcriptions", body)
	req.Header.Set("Content-Type", contentType)
	resp, err = fiberApp.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAudioVoicesFiltersByLanguage(t *testing.T) {
	fiberApp := newTestApp(t, nil)

	resp, err := fiberApp.Test(httptest.NewRequest(fiber.MethodGet, "/v1/audio/voices?language=en", nil))
	require.NoError(t, err)
	var out voiceList
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Data, 2)
	require.Len(t, out.Formats, 6)
}
