package httputil

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/sophnet_gateway/internal/adapters/sophnet"
)

func TestWriteExecutionErrorUsesMappedStatus(t *testing.T) {
	app := fiber.New()
	app.Get("/job", func(c *fiber.Ctx) error {
		return WriteExecutionError(c, &sophnet.RemoteJobFailure{JobID: "t-1", Message: "audio decode failed"})
	})
	app.Get("/empty", func(c *fiber.Ctx) error {
		return WriteError(c, fiber.StatusBadGateway, "")
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/job", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	var payload map[string]string
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["error"] != "audio decode failed" {
		t.Fatalf("unexpected error message %q", payload["error"])
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/empty", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	if string(body) != `{"error":"Bad Gateway"}` {
		t.Fatalf("unexpected body %s", body)
	}
}
