package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/ncecere/sophnet_gateway/internal/models"
	"github.com/ncecere/sophnet_gateway/internal/storage/blob"
)

// SpeechCache keeps complete non-streaming synthesis results in a blob store.
type SpeechCache struct {
	store    blob.Store
	maxBytes int64
}

func NewSpeechCache(store blob.Store, maxSizeMB int) *SpeechCache {
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	return &SpeechCache{store: store, maxBytes: int64(maxSizeMB) << 20}
}

// SpeechKey derives the object key from every field that changes the audio.
func SpeechKey(model string, req models.AudioSpeechRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00", model, req.SynthesisModel, req.Voice, req.Format, req.Input)
	if req.Volume != nil {
		fmt.Fprintf(h, "v=%d", *req.Volume)
	}
	if req.Speed != nil {
		fmt.Fprintf(h, "s=%g", *req.Speed)
	}
	if req.Pitch != nil {
		fmt.Fprintf(h, "p=%g", *req.Pitch)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return "speech/" + sum[:2] + "/" + sum
}

// Get returns the cached audio for key.
func (c *SpeechCache) Get(ctx context.Context, key string) (models.AudioSpeechResponse, bool, error) {
	if c == nil || c.store == nil {
		return models.AudioSpeechResponse{}, false, nil
	}
	rc, info, err := c.store.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return models.AudioSpeechResponse{}, false, nil
	}
	if err != nil {
		return models.AudioSpeechResponse{}, false, err
	}
	defer rc.Close()
	audio, err := io.ReadAll(io.LimitReader(rc, c.maxBytes+1))
	if err != nil {
		return models.AudioSpeechResponse{}, false, err
	}
	if int64(len(audio)) > c.maxBytes {
		return models.AudioSpeechResponse{}, false, nil
	}
	return models.AudioSpeechResponse{Audio: audio, ContentType: info.ContentType}, true, nil
}

// Put stores resp unless it exceeds the size cap.
func (c *SpeechCache) Put(ctx context.Context, key string, resp models.AudioSpeechResponse) error {
	if c == nil || c.store == nil || len(resp.Audio) == 0 || int64(len(resp.Audio)) > c.maxBytes {
		return nil
	}
	_, err := c.store.Put(ctx, key, bytes.NewReader(resp.Audio), blob.PutOptions{ContentType: resp.ContentType})
	return err
}

// Sweep drops expired entries from stores that can enumerate their objects.
func (c *SpeechCache) Sweep(ctx context.Context) (int, error) {
	if c == nil || c.store == nil {
		return 0, nil
	}
	return blob.Sweep(ctx, c.store)
}
