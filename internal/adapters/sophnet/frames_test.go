package sophnet

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/ncecere/sophnet_gateway/internal/providers/fixtures"
)

type trackingBody struct {
	io.Reader
	closes int
}

func (b *trackingBody) Close() error {
	b.closes++
	return nil
}

func TestFrameStreamDecodesFixture(t *testing.T) {
	raw := fixtures.MustRead(t, "sophnet_tts_stream.txt")
	body := &trackingBody{Reader: bytes.NewReader(raw)}
	stream := NewFrameStream(body, nil)

	var frames [][]byte
	for stream.Next() {
		frames = append(frames, stream.Current())
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if string(frames[0]) != "ID3" || !bytes.Equal(frames[1], []byte{4, 5, 6}) {
		t.Fatalf("unexpected frames %v", frames)
	}
	if stream.Frames() != 2 {
		t.Fatalf("frame count %d", stream.Frames())
	}
	if body.closes != 1 {
		t.Fatalf("expected body closed once at end of stream, got %d", body.closes)
	}
}

func TestFrameStreamSkipsMalformedLine(t *testing.T) {
	input := "data: {\"audioFrame\":\"aGk=\"}\n\ndata: not-json\n\n"
	stream := NewFrameStream(io.NopCloser(strings.NewReader(input)), nil)

	if !stream.Next() {
		t.Fatalf("expected a frame, err=%v", stream.Err())
	}
	if got := string(stream.Current()); got != "hi" {
		t.Fatalf("unexpected frame %q", got)
	}
	if stream.Next() {
		t.Fatalf("expected end of stream, got %q", stream.Current())
	}
	if stream.Err() != nil {
		t.Fatalf("malformed line must not fail the stream: %v", stream.Err())
	}
}

func TestFrameStreamReportsTransportFailure(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		_, _ = pw.Write([]byte("data: {\"audioFrame\":\"aGk=\"}\n\n"))
		_ = pw.CloseWithError(errors.New("connection reset"))
	}()
	stream := NewFrameStream(pr, nil)

	if !stream.Next() {
		t.Fatalf("expected first frame")
	}
	if stream.Next() {
		t.Fatalf("expected stream to stop")
	}
	var streamErr *StreamTransportError
	if !errors.As(stream.Err(), &streamErr) {
		t.Fatalf("expected StreamTransportError, got %v", stream.Err())
	}
	if streamErr.Frames != 1 {
		t.Fatalf("expected 1 delivered frame, got %d", streamErr.Frames)
	}
}

func TestFrameStreamCloseIsIdempotent(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("data: {\"audioFrame\":\"aGk=\"}\n\ndata: {\"audioFrame\":\"aGk=\"}\n\n")}
	stream := NewFrameStream(body, nil)

	if !stream.Next() {
		t.Fatalf("expected a frame")
	}
	_ = stream.Close()
	_ = stream.Close()
	if stream.Next() {
		t.Fatalf("closed stream must not yield frames")
	}
	if body.closes != 1 {
		t.Fatalf("expected one close, got %d", body.closes)
	}
}

func TestFrameStreamSkipsOversizedLine(t *testing.T) {
	input := "data: {\"audioFrame\":\"" + strings.Repeat("A", 256) + "\"}\n\n" +
		"data: {\"audioFrame\":\"aGk=\"}\r\n\n"
	stream := NewFrameStream(io.NopCloser(strings.NewReader(input)), nil)
	stream.maxLine = 64

	if !stream.Next() {
		t.Fatalf("expected the frame after the oversized line, err=%v", stream.Err())
	}
	if got := string(stream.Current()); got != "hi" {
		t.Fatalf("unexpected frame %q", got)
	}
	if stream.Next() {
		t.Fatalf("expected end of stream")
	}
	if stream.Err() != nil {
		t.Fatalf("oversized line must not fail the stream: %v", stream.Err())
	}
}

func TestFrameStreamReadsFinalLineWithoutNewline(t *testing.T) {
	stream := NewFrameStream(io.NopCloser(strings.NewReader("data: {\"audioFrame\":\"aGk=\"}")), nil)

	if !stream.Next() || string(stream.Current()) != "hi" {
		t.Fatalf("expected trailing frame, err=%v", stream.Err())
	}
	if stream.Next() || stream.Err() != nil {
		t.Fatalf("expected clean end, err=%v", stream.Err())
	}
}
