package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmbeddingCache keeps vectors in Redis keyed by model, dimensions and the
// exact input text. Vectors are stored as little-endian float32 arrays.
type EmbeddingCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewEmbeddingCache(client *redis.Client, prefix string, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EmbeddingCache{client: client, prefix: prefix, ttl: ttl}
}

// Lookup returns one slot per input; nil slots are misses and their indexes
// are listed in missing in input order. A Redis failure reports every input
// as missing.
func (c *EmbeddingCache) Lookup(ctx context.Context, model string, dims int, inputs []string) (vectors [][]float32, missing []int) {
	vectors = make([][]float32, len(inputs))
	if c == nil || c.client == nil || len(inputs) == 0 {
		return vectors, allIndexes(len(inputs))
	}

	keys := make([]string, len(inputs))
	for i, text := range inputs {
		keys[i] = c.key(model, dims, text)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return vectors, allIndexes(len(inputs))
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, i)
			continue
		}
		vec, err := decodeVector([]byte(raw))
		if err != nil || (dims > 0 && len(vec) != dims) {
			missing = append(missing, i)
			continue
		}
		vectors[i] = vec
	}
	return vectors, missing
}

// Store writes vectors for inputs in a single pipeline.
func (c *EmbeddingCache) Store(ctx context.Context, model string, dims int, inputs []string, vectors [][]float32) error {
	if c == nil || c.client == nil {
		return nil
	}
	if len(inputs) != len(vectors) {
		return errors.New("cache: inputs and vectors differ in length")
	}
	pipe := c.client.Pipeline()
	for i, text := range inputs {
		pipe.Set(ctx, c.key(model, dims, text), encodeVector(vectors[i]), c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *EmbeddingCache) key(model string, dims int, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(dims)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return c.prefix + ":emb:" + hex.EncodeToString(h.Sum(nil))
}

func encodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, errors.New("cache: corrupt vector")
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, nil
}

func allIndexes(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
