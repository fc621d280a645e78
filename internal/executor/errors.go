package executor

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/sophnet_gateway/internal/adapters/sophnet"
)

// apiError wraps an error with an HTTP status code so callers can map it
// directly to OpenAI-compatible responses.
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string { return e.msg }

func NewAPIError(status int, msg string) error {
	return &apiError{status: status, msg: msg}
}

func AsAPIError(err error) (int, string, bool) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.status, apiErr.msg, true
	}
	return 0, "", false
}

// StatusFor maps an execution error to the HTTP status returned to callers.
// A nil error maps to 200.
func StatusFor(err error) (int, string) {
	if err == nil {
		return fiber.StatusOK, ""
	}
	if status, msg, ok := AsAPIError(err); ok {
		return status, msg
	}

	var (
		cfgErr    *sophnet.ConfigurationError
		jobErr    *sophnet.RemoteJobFailure
		timedOut  *sophnet.TimedOut
		protoErr  *sophnet.ProtocolError
		streamErr *sophnet.StreamTransportError
		transErr  *sophnet.TransportError
	)
	switch {
	case errors.Is(err, sophnet.ErrInvalidRequest):
		return fiber.StatusBadRequest, err.Error()
	case errors.As(err, &cfgErr):
		return fiber.StatusInternalServerError, "upstream credentials are not configured"
	case errors.As(err, &jobErr):
		return fiber.StatusUnprocessableEntity, jobErr.Message
	case errors.As(err, &timedOut):
		return fiber.StatusGatewayTimeout, err.Error()
	case errors.As(err, &protoErr):
		if protoErr.StatusCode == fiber.StatusTooManyRequests {
			return fiber.StatusTooManyRequests, protoErr.Message
		}
		return fiber.StatusBadGateway, err.Error()
	case errors.As(err, &streamErr), errors.As(err, &transErr):
		return fiber.StatusBadGateway, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "upstream request timed out"
	case errors.Is(err, context.Canceled):
		return 499, "request canceled"
	default:
		return fiber.StatusInternalServerError, err.Error()
	}
}

// retryable reports whether another route might succeed where this one failed.
// Configuration errors are never retried.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var transErr *sophnet.TransportError
	if errors.As(err, &transErr) {
		return true
	}
	var protoErr *sophnet.ProtocolError
	if errors.As(err, &protoErr) {
		return protoErr.StatusCode >= 500 || protoErr.StatusCode == fiber.StatusTooManyRequests
	}
	return false
}

// countsAgainstRoute reports whether err says something about the route's
// health rather than the caller's request.
func countsAgainstRoute(err error) bool {
	if errors.Is(err, sophnet.ErrInvalidRequest) || errors.Is(err, context.Canceled) {
		return false
	}
	var jobErr *sophnet.RemoteJobFailure
	if errors.As(err, &jobErr) {
		return false
	}
	var protoErr *sophnet.ProtocolError
	if errors.As(err, &protoErr) && protoErr.StatusCode >= 400 && protoErr.StatusCode < 500 && protoErr.StatusCode != fiber.StatusTooManyRequests {
		return protoErr.StatusCode == fiber.StatusUnauthorized || protoErr.StatusCode == fiber.StatusForbidden
	}
	return true
}
