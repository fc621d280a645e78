package sophnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/sophnet_gateway/internal/models"
)

type speechServer struct {
	mu       sync.Mutex
	paths    []string
	requests []speechRequest
	frames   []string
}

func (s *speechServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	switch r.URL.Path {
	case "/voice/synthesize-audio-stream":
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range s.frames {
			fmt.Fprintf(w, "data: {\"audioFrame\":%q}\n\n", frame)
		}
	case "/voice/synthesize-audio":
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("RAWAUDIO"))
	default:
		http.NotFound(w, r)
	}
}

func (s *speechServer) last() (string, speechRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths[len(s.paths)-1], s.requests[len(s.requests)-1]
}

func TestSynthesizeStreamingCollectsFrames(t *testing.T) {
	server := &speechServer{frames: []string{"SUQz", "BAUG"}}
	adapter, _ := newTestAdapter(t, server, func(o *Options) {
		o.Speech.Streaming = true
	})

	resp, err := adapter.Synthesize(context.Background(), models.AudioSpeechRequest{Input: "你好"})
	require.NoError(t, err)
	require.Equal(t, append([]byte("ID3"), 4, 5, 6), resp.Audio)
	require.Equal(t, "audio/mpeg", resp.ContentType)
	require.Equal(t, 2, resp.Characters)

	path, req := server.last()
	require.Equal(t, "/voice/synthesize-audio-stream", path)
	require.Equal(t, "tts-easyllm", req.EasyLLMID)
	require.Equal(t, DefaultVoice, req.SynthesisParam.Voice)
	require.Equal(t, DefaultSynthesisModel, req.SynthesisParam.Model)
	require.Equal(t, DefaultAudioFormat, req.SynthesisParam.Format)
}

func TestSynthesizeNonStreamingReturnsBody(t *testing.T) {
	server := &speechServer{}
	adapter, _ := newTestAdapter(t, server, nil)

	resp, err := adapter.Synthesize(context.Background(), models.AudioSpeechRequest{Input: "hello", Format: "wav"})
	require.NoError(t, err)
	require.Equal(t, []byte("RAWAUDIO"), resp.Audio)
	require.Equal(t, "audio/wav", resp.ContentType)

	path, req := server.last()
	require.Equal(t, "/voice/synthesize-audio", path)
	require.Equal(t, "WAV_16000HZ_MONO_16BIT", req.SynthesisParam.Format)
}

func TestOpenSpeechSubstitutesUnknownVoice(t *testing.T) {
	server := &speechServer{}
	adapter, _ := newTestAdapter(t, server, nil)
	streaming := false

	stream, err := adapter.OpenSpeech(context.Background(), SpeechRequest{Text: "hi", Voice: "nobody", Stream: &streaming})
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	_, req := server.last()
	require.Equal(t, DefaultVoice, req.SynthesisParam.Voice)

	stream, err = adapter.OpenSpeech(context.Background(), SpeechRequest{Text: "hi", Voice: "loongstella", Stream: &streaming})
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	_, req = server.last()
	require.Equal(t, "loongstella", req.SynthesisParam.Voice)
}

func TestOpenSpeechSplitsLongText(t *testing.T) {
	server := &speechServer{}
	adapter, _ := newTestAdapter(t, server, func(o *Options) {
		o.Speech.SplitThreshold = 10
	})
	streaming := false
	text := "今天天气很好。我们去公园散步吧！好的。"

	stream, err := adapter.OpenSpeech(context.Background(), SpeechRequest{Text: text, Stream: &streaming})
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	_, req := server.last()
	require.Greater(t, len(req.Text), 1)
	require.Equal(t, text, strings.Join(req.Text, ""))
	for _, chunk := range req.Text {
		require.LessOrEqual(t, len([]rune(chunk)), 10)
	}
}

func TestOpenSpeechShortTextIsSingleChunk(t *testing.T) {
	server := &speechServer{}
	adapter, _ := newTestAdapter(t, server, nil)
	streaming := false

	stream, err := adapter.OpenSpeech(context.Background(), SpeechRequest{Text: "短句。", Stream: &streaming})
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	_, req := server.last()
	require.Equal(t, []string{"短句。"}, req.Text)
}

func TestOpenSpeechClampsParameters(t *testing.T) {
	server := &speechServer{}
	adapter, _ := newTestAdapter(t, server, nil)
	streaming := false
	volume := 150
	rate := 0.1

	stream, err := adapter.OpenSpeech(context.Background(), SpeechRequest{
		Text:       "hi",
		Stream:     &streaming,
		Volume:     &volume,
		SpeechRate: &rate,
	})
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	_, req := server.last()
	require.Equal(t, 100, *req.SynthesisParam.Volume)
	require.Equal(t, 0.5, *req.SynthesisParam.SpeechRate)
	require.Nil(t, req.SynthesisParam.PitchRate)
}

func TestOpenSpeechRejectsEmptyText(t *testing.T) {
	server := &speechServer{}
	adapter, _ := newTestAdapter(t, server, nil)

	_, err := adapter.OpenSpeech(context.Background(), SpeechRequest{Text: "   "})
	require.True(t, errors.Is(err, ErrInvalidRequest))
	require.Empty(t, server.paths)
}

func TestAudioStreamEarlyClose(t *testing.T) {
	server := &speechServer{frames: []string{"aGk=", "aGk=", "aGk="}}
	adapter, _ := newTestAdapter(t, server, nil)
	streaming := true

	stream, err := adapter.OpenSpeech(context.Background(), SpeechRequest{Text: "hi", Stream: &streaming})
	require.NoError(t, err)
	require.True(t, stream.Next())
	require.Equal(t, []byte("hi"), stream.Current())
	require.NoError(t, stream.Close())
	require.False(t, stream.Next())
}

func TestSynthesizeStreamDeliversDoneChunk(t *testing.T) {
	server := &speechServer{frames: []string{"aGk=", "aGk="}}
	adapter, _ := newTestAdapter(t, server, nil)

	chunks, cancel, err := adapter.SynthesizeStream(context.Background(), models.AudioSpeechRequest{Input: "hi"})
	require.NoError(t, err)
	defer cancel()

	var audio []byte
	var done bool
	for chunk := range chunks {
		audio = append(audio, chunk.Audio...)
		if chunk.Done {
			done = true
			require.NoError(t, chunk.Err)
		}
	}
	require.True(t, done)
	require.Equal(t, []byte("hihi"), audio)
}

func TestSynthesizeStreamCancelMidStream(t *testing.T) {
	frames := make([]string, 2000)
	for i := range frames {
		frames[i] = "aGk="
	}
	server := &speechServer{frames: frames}
	adapter, _ := newTestAdapter(t, server, nil)

	chunks, cancel, err := adapter.SynthesizeStream(context.Background(), models.AudioSpeechRequest{Input: "hi"})
	require.NoError(t, err)

	first, ok := <-chunks
	require.True(t, ok)
	require.Equal(t, []byte("hi"), first.Audio)

	_ = cancel()
	received := 1
	for range chunks {
		received++
	}
	require.Less(t, received, len(frames)+1, "cancel must stop forwarding")
	require.NoError(t, cancel(), "second cancel reports the first close result")
}

func TestAudioStreamCloseWhileReading(t *testing.T) {
	frames := make([]string, 500)
	for i := range frames {
		frames[i] = "aGk="
	}
	server := &speechServer{frames: frames}
	adapter, _ := newTestAdapter(t, server, nil)
	streaming := true

	stream, err := adapter.OpenSpeech(context.Background(), SpeechRequest{Text: "hi", Stream: &streaming})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for stream.Next() {
		}
	}()
	require.NoError(t, stream.Close())
	<-done
	require.False(t, stream.Next())
}
