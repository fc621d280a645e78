package sophnet

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// maxFrameLineBytes caps one event line. Longer lines are drained and skipped
// like any other undecodable frame.
const maxFrameLineBytes = 4 << 20

var dataPrefix = []byte("data:")

// FrameStream decodes base64 audio frames from a line-oriented event stream.
// Frames are produced only when Next is called, so at most one line is held
// in memory. The body is closed once the stream ends, fails, or Close is called.
// Close may be called from another goroutine while Next is running.
type FrameStream struct {
	body    io.ReadCloser
	reader  *bufio.Reader
	logger  *slog.Logger
	line    []byte
	maxLine int

	cur    []byte
	err    error
	frames int
	done   atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// NewFrameStream wraps body. A nil logger falls back to slog.Default.
func NewFrameStream(body io.ReadCloser, logger *slog.Logger) *FrameStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameStream{
		body:    body,
		reader:  bufio.NewReaderSize(body, 64*1024),
		logger:  logger,
		maxLine: maxFrameLineBytes,
	}
}

// Next advances to the next frame. It returns false at the end of the stream
// or on a transport failure; Err distinguishes the two.
func (s *FrameStream) Next() bool {
	if s.done.Load() {
		return false
	}
	for {
		line, oversized, err := s.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.done.Load() {
				s.err = &StreamTransportError{Frames: s.frames, Err: err}
			}
			break
		}
		if oversized {
			s.logger.Debug("sophnet skip oversized frame line", "limit", s.maxLine)
			continue
		}
		payload, ok := bytes.CutPrefix(line, dataPrefix)
		if !ok {
			continue
		}
		payload = bytes.TrimSpace(payload)
		if len(payload) == 0 {
			continue
		}
		var event audioFrameEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			s.logger.Debug("sophnet skip malformed frame", "error", err)
			continue
		}
		if event.AudioFrame == "" {
			continue
		}
		frame, err := base64.StdEncoding.DecodeString(event.AudioFrame)
		if err != nil {
			s.logger.Debug("sophnet skip undecodable frame", "error", err)
			continue
		}
		s.cur = frame
		s.frames++
		return true
	}
	s.cur = nil
	_ = s.Close()
	return false
}

// readLine returns the next line without its terminator. A line longer than
// maxLine is consumed to its end and reported as oversized with no content.
func (s *FrameStream) readLine() ([]byte, bool, error) {
	s.line = s.line[:0]
	oversized := false
	for {
		chunk, err := s.reader.ReadSlice('\n')
		if !oversized {
			if len(s.line)+len(chunk) > s.maxLine {
				oversized = true
				s.line = s.line[:0]
			} else {
				s.line = append(s.line, chunk...)
			}
		}
		switch {
		case err == nil:
			return trimLineEnd(s.line), oversized, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && (len(s.line) > 0 || oversized):
			return trimLineEnd(s.line), oversized, nil
		default:
			return nil, false, err
		}
	}
}

func trimLineEnd(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// Current returns the frame produced by the last successful Next.
func (s *FrameStream) Current() []byte {
	return s.cur
}

// Err returns the transport failure that ended the stream, if any.
func (s *FrameStream) Err() error {
	return s.err
}

// Frames reports how many frames have been produced so far.
func (s *FrameStream) Frames() int {
	return s.frames
}

// Close releases the underlying body. It is safe to call more than once.
func (s *FrameStream) Close() error {
	s.closeOnce.Do(func() {
		s.done.Store(true)
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
