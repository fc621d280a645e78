package requestctx

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const fiberLocalsKey = "requestctx"

// Key is the typed context key used for storing the request Context.
var Key contextKey = "sophnet-gateway/requestctx"

// keyNamespace derives stable key ids from configured key prefixes.
var keyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://sophnet.com/gateway/api-keys"))

// Context captures the caller resolved from the bearer key and its limits.
type Context struct {
	RequestID         uuid.UUID
	APIKeyID          uuid.UUID
	APIKeyName        string
	APIKeyPrefix      string
	RequestsPerMinute int
	TokensPerMinute   int
	ParallelRequests  int
}

// KeyID returns the stable id for a key prefix.
func KeyID(prefix string) uuid.UUID {
	return uuid.NewSHA1(keyNamespace, []byte(prefix))
}

// Label names the caller for logs and metric labels.
func (c *Context) Label() string {
	if c == nil {
		return "anonymous"
	}
	if c.APIKeyName != "" {
		return c.APIKeyName
	}
	return c.APIKeyPrefix
}

// WithContext embeds the request context into the parent context.
func WithContext(parent context.Context, rc *Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, Key, rc)
}

// FromContext retrieves the request context if present.
func FromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(Key).(*Context)
	return rc, ok
}

// FiberLocalsKey returns the key used in fiber.Locals for request context storage.
func FiberLocalsKey() string {
	return fiberLocalsKey
}
