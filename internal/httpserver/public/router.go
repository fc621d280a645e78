package public

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/sophnet_gateway/internal/app"
	"github.com/ncecere/sophnet_gateway/internal/executor"
)

// Register wires up the OpenAI-compatible public API routes.
func Register(app *fiber.App, container *app.Container) {
	group := app.Group("/v1", apiKeyAuth(container))
	handler := &openAIHandler{container: container, executor: executor.New(container)}
	group.Get("/models", handler.listModels)
	group.Post("/chat/completions", handler.chatCompletions)
	group.Post("/embeddings", handler.embeddings)
	group.Post("/audio/transcriptions", handler.audioTranscriptions)
	group.Post("/audio/speech", handler.audioSpeech)
	group.Get("/audio/voices", handler.audioVoices)
}
