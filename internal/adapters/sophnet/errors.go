package sophnet

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRequest marks caller input rejected before any network call.
var ErrInvalidRequest = errors.New("sophnet: invalid request")

// ConfigurationError reports a missing required credential field.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("sophnet: %s is required", e.Field)
}

// TransportError wraps connection, timeout, or body read failures at the HTTP layer.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sophnet %s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StreamTransportError reports a streaming body that failed before closing cleanly.
type StreamTransportError struct {
	Frames int
	Err    error
}

func (e *StreamTransportError) Error() string {
	return fmt.Sprintf("sophnet stream: transport failed after %d frames: %v", e.Frames, e.Err)
}

func (e *StreamTransportError) Unwrap() error { return e.Err }

// ProtocolError is a well-formed HTTP exchange whose response violates the expected shape.
type ProtocolError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ProtocolError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("sophnet %s: api error %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("sophnet %s: %s", e.Op, e.Message)
}

// RemoteJobFailure carries the failure message reported by the remote service for a job.
type RemoteJobFailure struct {
	JobID    string
	Message  string
	Attempts int
	Elapsed  time.Duration
}

func (e *RemoteJobFailure) Error() string {
	return fmt.Sprintf("sophnet job %s failed after %d polls: %s", e.JobID, e.Attempts, e.Message)
}

// TimedOut reports a job that stayed non-terminal past the attempt budget or deadline.
type TimedOut struct {
	JobID    string
	Attempts int
	Waited   time.Duration
	Elapsed  time.Duration
	Err      error
}

func (e *TimedOut) Error() string {
	msg := fmt.Sprintf("sophnet job %s timed out after %d polls (waited %s)", e.JobID, e.Attempts, e.Waited)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TimedOut) Unwrap() error { return e.Err }
