package sophnet

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/ncecere/sophnet_gateway/internal/models"
	"github.com/ncecere/sophnet_gateway/internal/providers/streamutil"
	"github.com/ncecere/sophnet_gateway/internal/textsplit"
)

// SpeechRequest is one text-to-speech synthesis call. Zero-valued optional
// fields fall back to the adapter's SpeechOptions.
type SpeechRequest struct {
	Model          string
	Text           string
	Voice          string
	Format         string
	SynthesisModel string
	Stream         *bool
	Volume         *int
	SpeechRate     *float64
	PitchRate      *float64
}

// AudioStream yields synthesized audio in order. Streaming requests produce
// one element per decoded frame; non-streaming requests produce the whole
// response body as a single element. The connection is released when the
// stream ends, fails, or Close is called. Close may run concurrently with
// Next.
type AudioStream struct {
	frames *FrameStream
	body   io.ReadCloser
	cur    []byte
	err    error
	done   atomic.Bool
}

// Next advances to the next audio element.
func (s *AudioStream) Next() bool {
	if s.done.Load() {
		return false
	}
	if s.frames != nil {
		if s.frames.Next() {
			s.cur = s.frames.Current()
			return true
		}
		s.err = s.frames.Err()
		s.cur = nil
		s.done.Store(true)
		return false
	}

	if !s.done.CompareAndSwap(false, true) {
		return false
	}
	data, err := io.ReadAll(s.body)
	_ = s.body.Close()
	if err != nil {
		s.err = &TransportError{Op: "speech", Err: err}
		return false
	}
	if len(data) == 0 {
		return false
	}
	s.cur = data
	return true
}

// Current returns the element produced by the last successful Next.
func (s *AudioStream) Current() []byte { return s.cur }

// Err returns the failure that ended the stream, if any.
func (s *AudioStream) Err() error { return s.err }

// Close releases the connection.
func (s *AudioStream) Close() error {
	s.done.Store(true)
	if s.frames != nil {
		return s.frames.Close()
	}
	return s.body.Close()
}

// OpenSpeech sends one synthesis request. Unsupported voices are replaced by
// DefaultVoice and text longer than the split threshold is sent as a list of
// sentence-bounded chunks.
func (a *Adapter) OpenSpeech(ctx context.Context, req SpeechRequest) (*AudioStream, error) {
	creds, err := a.credentials(req.Model, a.models.speech)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: speech input required", ErrInvalidRequest)
	}

	streaming := a.speech.Streaming
	if req.Stream != nil {
		streaming = *req.Stream
	}
	payload := speechRequest{
		EasyLLMID:      creds.EasyLLMID,
		Text:           a.speechChunks(req.Text),
		SynthesisParam: a.synthesisParam(req),
	}

	// Non-streaming calls are bounded end to end. Streams hold the connection
	// open after headers arrive, so there the timeout only covers the wait for
	// the response to start.
	ctx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(a.timeouts.Speech, cancel)
	path := "voice/synthesize-audio"
	if streaming {
		path = "voice/synthesize-audio-stream"
	}
	resp, err := a.postJSON(ctx, "speech", path, payload)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, err
	}
	body := &cancelBody{ReadCloser: resp.Body, cancel: cancel, timer: timer}
	if !streaming {
		return &AudioStream{body: body}, nil
	}
	timer.Stop()
	return &AudioStream{frames: NewFrameStream(body, a.logger)}, nil
}

// Synthesize collects the full audio for req.
func (a *Adapter) Synthesize(ctx context.Context, req models.AudioSpeechRequest) (models.AudioSpeechResponse, error) {
	speechReq := toSpeechRequest(req)
	stream, err := a.OpenSpeech(ctx, speechReq)
	if err != nil {
		return models.AudioSpeechResponse{}, err
	}
	defer stream.Close()

	var buf bytes.Buffer
	for stream.Next() {
		buf.Write(stream.Current())
	}
	if err := stream.Err(); err != nil {
		return models.AudioSpeechResponse{}, err
	}
	return models.AudioSpeechResponse{
		Audio:       buf.Bytes(),
		ContentType: FormatContentType(a.synthesisParam(speechReq).Format),
		Characters:  utf8.RuneCountInString(req.Input),
	}, nil
}

// SynthesizeStream forwards audio frames over a channel. A stream failure is
// delivered as a final chunk carrying Err.
func (a *Adapter) SynthesizeStream(ctx context.Context, req models.AudioSpeechRequest) (<-chan models.AudioSpeechChunk, func() error, error) {
	speechReq := toSpeechRequest(req)
	streaming := true
	speechReq.Stream = &streaming
	stream, err := a.OpenSpeech(ctx, speechReq)
	if err != nil {
		return nil, nil, err
	}

	forward := func(ctx context.Context, yield streamutil.YieldFunc[models.AudioSpeechChunk]) {
		for stream.Next() {
			if !yield(models.AudioSpeechChunk{Audio: stream.Current()}) {
				return
			}
		}
		yield(models.AudioSpeechChunk{Done: true, Err: stream.Err()})
	}

	chunks, cancel := streamutil.Forward(ctx, stream.Close, forward)
	return chunks, cancel, nil
}

func (a *Adapter) speechChunks(text string) []string {
	if utf8.RuneCountInString(text) <= a.speech.SplitThreshold {
		return []string{text}
	}
	chunks, err := textsplit.SplitAll(text, a.speech.SplitThreshold)
	if err != nil {
		return []string{text}
	}
	return chunks
}

func (a *Adapter) synthesisParam(req SpeechRequest) synthesisParam {
	param := synthesisParam{
		Model:      strings.TrimSpace(req.SynthesisModel),
		Voice:      ResolveVoice(req.Voice),
		Format:     a.speech.Format,
		Volume:     a.speech.Volume,
		SpeechRate: a.speech.SpeechRate,
		PitchRate:  a.speech.PitchRate,
	}
	if strings.TrimSpace(req.Voice) == "" {
		param.Voice = a.speech.Voice
	}
	if param.Model == "" {
		param.Model = a.speech.SynthesisModel
	}
	if strings.TrimSpace(req.Format) != "" {
		param.Format = ResolveFormat(req.Format)
	}
	if req.Volume != nil {
		param.Volume = req.Volume
	}
	if req.SpeechRate != nil {
		param.SpeechRate = req.SpeechRate
	}
	if req.PitchRate != nil {
		param.PitchRate = req.PitchRate
	}
	param.Volume = clampInt(param.Volume, 0, 100)
	param.SpeechRate = clampFloat(param.SpeechRate, 0.5, 2)
	param.PitchRate = clampFloat(param.PitchRate, 0.5, 2)
	return param
}

func toSpeechRequest(req models.AudioSpeechRequest) SpeechRequest {
	out := SpeechRequest{
		Model:      req.Model,
		Text:       req.Input,
		Voice:      req.Voice,
		Format:     req.Format,
		Volume:     req.Volume,
		SpeechRate: req.Speed,
		PitchRate:  req.Pitch,
	}
	if req.Stream {
		stream := true
		out.Stream = &stream
	}
	return out
}

func clampInt(v *int, lo, hi int) *int {
	if v == nil {
		return nil
	}
	c := min(max(*v, lo), hi)
	return &c
}

func clampFloat(v *float64, lo, hi float64) *float64 {
	if v == nil {
		return nil
	}
	c := min(max(*v, lo), hi)
	return &c
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
	timer  *time.Timer
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.timer.Stop()
	b.cancel()
	return err
}
