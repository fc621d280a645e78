package auth

import (
	"crypto/sha256"
	"errors"
	"strings"
	"sync"

	"github.com/ncecere/sophnet_gateway/internal/config"
)

var (
	ErrMissingKey = errors.New("api key required")
	ErrInvalidKey = errors.New("invalid api key")
)

// KeyStore authenticates bearer tokens against the configured key hashes.
// Successful verifications are remembered so argon2 runs once per token.
type KeyStore struct {
	byPrefix map[string]config.APIKeyConfig
	verified sync.Map // [32]byte -> string (prefix)
}

func NewKeyStore(keys []config.APIKeyConfig) *KeyStore {
	store := &KeyStore{byPrefix: make(map[string]config.APIKeyConfig, len(keys))}
	for _, key := range keys {
		store.byPrefix[strings.TrimSpace(key.Prefix)] = key
	}
	return store
}

// Enabled reports whether any keys are configured. With none, the gateway is open.
func (s *KeyStore) Enabled() bool {
	return s != nil && len(s.byPrefix) > 0
}

// Authenticate resolves token to its configured key.
func (s *KeyStore) Authenticate(token string) (config.APIKeyConfig, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return config.APIKeyConfig{}, ErrMissingKey
	}
	prefix, secret, ok := ParseAPIKey(token)
	if !ok {
		return config.APIKeyConfig{}, ErrInvalidKey
	}
	key, ok := s.byPrefix[prefix]
	if !ok {
		return config.APIKeyConfig{}, ErrInvalidKey
	}

	digest := sha256.Sum256([]byte(token))
	if cached, ok := s.verified.Load(digest); ok && cached.(string) == prefix {
		return key, nil
	}
	match, err := VerifySecret(secret, key.SecretHash)
	if err != nil || !match {
		return config.APIKeyConfig{}, ErrInvalidKey
	}
	s.verified.Store(digest, prefix)
	return key, nil
}
