package public

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/sophnet_gateway/internal/adapters/sophnet"
	"github.com/ncecere/sophnet_gateway/internal/httpserver/httputil"
	"github.com/ncecere/sophnet_gateway/internal/models"
	"github.com/ncecere/sophnet_gateway/internal/pricing"
)

const headerIdempotencyKey = "Idempotency-Key"

type audioTranscriptionResponse struct {
	Text   string `json:"text"`
	TaskID string `json:"task_id,omitempty"`
}

func (h *openAIHandler) audioTranscriptions(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "multipart form required")
	}
	fileHeaders := form.File["file"]
	if len(fileHeaders) == 0 {
		return httputil.WriteError(c, fiber.StatusBadRequest, "file is required")
	}
	fh := fileHeaders[0]
	if !sophnet.SupportedAudioFile(fh.Filename) {
		return httputil.WriteError(c, fiber.StatusBadRequest, "unsupported audio file type")
	}
	maxBytes := int64(h.container.Config.Transcription.MaxUploadMB) << 20
	if maxBytes > 0 && fh.Size > maxBytes {
		return httputil.WriteError(c, fiber.StatusRequestEntityTooLarge, "audio file exceeds the upload limit")
	}

	src, err := fh.Open()
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "failed to open file")
	}
	defer src.Close()

	responseFormat := strings.ToLower(strings.TrimSpace(c.FormValue("response_format")))
	if responseFormat != "" && responseFormat != "json" && responseFormat != "text" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "response_format must be json or text")
	}

	result, err := h.executor.Transcribe(c.UserContext(), models.AudioTranscriptionRequest{
		Model: strings.TrimSpace(c.FormValue("model")),
		Input: models.AudioInput{
			Reader:      src,
			Filename:    fh.Filename,
			ContentType: fh.Header.Get(fiber.HeaderContentType),
			Bytes:       fh.Size,
		},
	}, strings.TrimSpace(c.Get(headerIdempotencyKey)))
	if err != nil {
		return httputil.WriteExecutionError(c, err)
	}

	c.Set(headerCost, pricing.Header(result.Cost))
	c.Set(headerCache, cacheHeader(result.CacheHit))
	if responseFormat == "text" {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(result.Response.Text)
	}
	return c.JSON(audioTranscriptionResponse{Text: result.Response.Text, TaskID: result.Response.JobID})
}

type audioSpeechRequest struct {
	Model          string   `json:"model"`
	Input          string   `json:"input"`
	Voice          string   `json:"voice"`
	Format         string   `json:"format"`
	ResponseFormat string   `json:"response_format"`
	SynthesisModel string   `json:"synthesis_model"`
	Stream         bool     `json:"stream"`
	Volume         *int     `json:"volume"`
	Speed          *float64 `json:"speed"`
	Pitch          *float64 `json:"pitch"`
}

func (h *openAIHandler) audioSpeech(c *fiber.Ctx) error {
	var payload audioSpeechRequest
	if err := c.BodyParser(&payload); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	input := strings.TrimSpace(payload.Input)
	if input == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "input is required")
	}
	format := strings.TrimSpace(payload.Format)
	if format == "" {
		format = strings.TrimSpace(payload.ResponseFormat)
	}
	if format == "" {
		format = h.container.Config.Speech.Format
	}

	req := models.AudioSpeechRequest{
		Model:          strings.TrimSpace(payload.Model),
		Input:          input,
		Voice:          strings.TrimSpace(payload.Voice),
		Format:         sophnet.ResolveFormat(format),
		SynthesisModel: strings.TrimSpace(payload.SynthesisModel),
		Stream:         payload.Stream,
		Volume:         payload.Volume,
		Speed:          payload.Speed,
		Pitch:          payload.Pitch,
	}
	if req.Stream {
		return h.streamSpeech(c, req)
	}

	result, err := h.executor.Speech(c.UserContext(), req)
	if err != nil {
		return httputil.WriteExecutionError(c, err)
	}
	contentType := result.Response.ContentType
	if contentType == "" {
		contentType = sophnet.FormatContentType(req.Format)
	}
	c.Set(headerCost, pricing.Header(result.Cost))
	c.Set(headerCache, cacheHeader(result.CacheHit))
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentLength, strconv.Itoa(len(result.Response.Audio)))
	return c.Send(result.Response.Audio)
}

func (h *openAIHandler) streamSpeech(c *fiber.Ctx, req models.AudioSpeechRequest) error {
	stream, err := h.executor.SpeechStream(c.UserContext(), req, sophnet.FormatContentType(req.Format))
	if err != nil {
		return httputil.WriteExecutionError(c, err)
	}

	c.Set(headerCost, pricing.Header(stream.Cost))
	c.Set(fiber.HeaderContentType, stream.ContentType)
	c.Set(fiber.HeaderCacheControl, "no-cache")

	logger := h.container.Logger
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer stream.Close()

		for chunk := range stream.Chunks {
			if chunk.Err != nil {
				logger.Warn("speech stream ended early", "alias", stream.Alias, "error", chunk.Err)
				return
			}
			if len(chunk.Audio) == 0 {
				continue
			}
			if _, err := w.Write(chunk.Audio); err != nil {
				logger.Debug("speech stream client went away", "alias", stream.Alias, "error", err)
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}

type voiceList struct {
	Object  string          `json:"object"`
	Data    []sophnet.Voice `json:"data"`
	Formats []string        `json:"formats"`
}

func (h *openAIHandler) audioVoices(c *fiber.Ctx) error {
	return c.JSON(voiceList{
		Object:  "list",
		Data:    sophnet.Voices(c.Query("language")),
		Formats: sophnet.Formats(),
	})
}
