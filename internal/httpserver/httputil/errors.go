package httputil

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/sophnet_gateway/internal/executor"
)

// WriteError standardizes JSON error responses.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}

// WriteExecutionError maps an executor failure onto its HTTP status.
func WriteExecutionError(c *fiber.Ctx, err error) error {
	status, msg := executor.StatusFor(err)
	if status == fiber.StatusOK {
		status = fiber.StatusInternalServerError
	}
	return WriteError(c, status, msg)
}
