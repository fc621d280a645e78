package blob

import (
	"context"
	"errors"
	"io"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/ncecere/sophnet_gateway/internal/config"
)

// ErrNotFound is returned by Get when the key has no live object.
var ErrNotFound = errors.New("blob: not found")

const expiresMetadataKey = "sophnet-expires-at"

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	Metadata    map[string]string
	Encrypted   bool
	ExpiresAt   time.Time
}

// Store keeps opaque objects such as synthesized audio.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// store layers sealing and expiry over a raw backend. Expired objects read
// as ErrNotFound and are removed lazily on access.
type store struct {
	backend   Store
	encryptor *encryptor
	ttl       time.Duration
	now       func() time.Time
}

// New builds the backend selected by cfg.Storage ("local" or "s3").
func New(ctx context.Context, cfg config.SpeechCacheConfig) (Store, error) {
	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	enc, err := newEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return &store{backend: backend, encryptor: enc, ttl: cfg.TTL, now: time.Now}, nil
}

func buildBackend(ctx context.Context, cfg config.SpeechCacheConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage)) {
	case "s3":
		awsCfg, err := loadS3Config(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return newS3Store(cfg.S3, awsCfg)
	default:
		return newLocalStore(cfg.Local)
	}
}

func (s *store) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (ObjectInfo, error) {
	meta := maps.Clone(opts.Metadata)
	var expires time.Time
	if s.ttl > 0 {
		expires = s.now().Add(s.ttl).UTC()
		meta = withEntry(meta, expiresMetadataKey, strconv.FormatInt(expires.Unix(), 10))
	}

	size := int64(-1)
	if s.encryptor != nil {
		sealed, n, sealMeta, err := s.encryptor.encrypt(body)
		if err != nil {
			return ObjectInfo{}, err
		}
		body, size = sealed, n
		for k, v := range sealMeta {
			meta = withEntry(meta, k, v)
		}
	}

	info, err := s.backend.Put(ctx, key, body, PutOptions{ContentType: opts.ContentType, Metadata: meta})
	if err != nil {
		return ObjectInfo{}, err
	}
	if size >= 0 {
		info.Size = size
		info.Encrypted = true
	}
	info.ExpiresAt = expires
	return info, nil
}

func (s *store) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	reader, info, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	info.ExpiresAt = expiresAt(info.Metadata)
	if !info.ExpiresAt.IsZero() && !s.now().Before(info.ExpiresAt) {
		reader.Close()
		_ = s.backend.Delete(ctx, key)
		return nil, ObjectInfo{}, ErrNotFound
	}
	if !isEncrypted(info.Metadata) {
		return reader, info, nil
	}
	defer reader.Close()
	if s.encryptor == nil {
		return nil, ObjectInfo{}, errors.New("blob: object is encrypted but no key is configured")
	}
	plain, size, err := s.encryptor.decrypt(reader)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	info.Size = size
	info.Encrypted = true
	return plain, info, nil
}

func (s *store) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Sweep deletes expired objects when the backend can enumerate them. S3
// buckets are expected to use lifecycle rules instead.
func Sweep(ctx context.Context, st Store) (int, error) {
	s, ok := st.(*store)
	if !ok {
		return 0, nil
	}
	local, ok := s.backend.(*localStore)
	if !ok {
		return 0, nil
	}
	return local.sweep(ctx, s.now())
}

func withEntry(meta map[string]string, key, value string) map[string]string {
	if meta == nil {
		meta = make(map[string]string, 2)
	}
	meta[key] = value
	return meta
}

func expiresAt(meta map[string]string) time.Time {
	raw, ok := meta[expiresMetadataKey]
	if !ok {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

func isEncrypted(meta map[string]string) bool {
	_, ok := meta[encryptionMetadataKey]
	return ok
}
