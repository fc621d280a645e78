package sophnet

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresAccountCredentials(t *testing.T) {
	_, err := New(Options{APIKey: "sk"})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "project_id", cfgErr.Field)

	_, err = New(Options{ProjectID: "p"})
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "api_key", cfgErr.Field)

	_, err = New(Options{ProjectID: "p", APIKey: "sk", Embeddings: EmbeddingOptions{Dimensions: 100}})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCredentialsValidateOrder(t *testing.T) {
	cases := []struct {
		creds Credentials
		field string
	}{
		{Credentials{}, "project_id"},
		{Credentials{ProjectID: "p"}, "api_key"},
		{Credentials{ProjectID: "p", APIKey: "k"}, "easyllm_id"},
	}
	for _, tc := range cases {
		var cfgErr *ConfigurationError
		if err := tc.creds.Validate(); !errors.As(err, &cfgErr) || cfgErr.Field != tc.field {
			t.Fatalf("Validate(%+v) = %v, want missing %s", tc.creds, err, tc.field)
		}
	}
	if err := (Credentials{ProjectID: "p", APIKey: "k", EasyLLMID: "e"}).Validate(); err != nil {
		t.Fatalf("complete credentials rejected: %v", err)
	}
}

func TestMissingEasyLLMIDFailsBeforeNetwork(t *testing.T) {
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ })
	adapter, _ := newTestAdapter(t, handler, func(o *Options) {
		o.EmbeddingModel = ""
	})

	err := adapter.ValidateCredentials(context.Background(), CapabilityEmbeddings, "")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "easyllm_id", cfgErr.Field)
	require.Zero(t, calls)
}

func TestValidateCredentialsProbesEachCapability(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /embeddings", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1]}],"usage":{"total_tokens":1}}`))
	})
	mux.HandleFunc("POST /voice/synthesize-audio", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("audio"))
	})
	mux.HandleFunc("POST /speechtotext/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"taskId":"task-check"}`))
	})
	adapter, _ := newTestAdapter(t, mux, nil)

	for _, capability := range []Capability{CapabilityEmbeddings, CapabilitySpeech, CapabilityTranscription} {
		if err := adapter.ValidateCredentials(context.Background(), capability, ""); err != nil {
			t.Fatalf("%s: %v", capability, err)
		}
	}
	require.ErrorIs(t, adapter.ValidateCredentials(context.Background(), "images", ""), ErrInvalidRequest)
}

func TestHealthCheckOnlyFailsOnServerErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNotFound)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(int(status.Load())) })
	adapter, _ := newTestAdapter(t, handler, nil)

	require.NoError(t, adapter.HealthCheck(context.Background()))
	status.Store(http.StatusBadGateway)
	var protoErr *ProtocolError
	require.ErrorAs(t, adapter.HealthCheck(context.Background()), &protoErr)
}

func TestPropertiesReportLimits(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.NotFoundHandler(), nil)
	props := adapter.Properties()
	require.Equal(t, MaxTranscriptionMB, props.TranscriptionUploadMB)
	require.Equal(t, DefaultTokenBudget, props.EmbeddingContextSize)
	require.Equal(t, DefaultMaxBatchSize, props.EmbeddingMaxChunks)
	require.Contains(t, props.EmbeddingDimensions, 1024)
	require.Len(t, props.SpeechFormats, 6)
}

func TestVoicesAndFormats(t *testing.T) {
	require.Len(t, Voices(""), 14)
	require.Len(t, Voices("en"), 2)
	require.Equal(t, DefaultVoice, ResolveVoice("nobody"))
	require.Equal(t, "MP3_24000HZ_MONO_128KBPS", ResolveFormat("mp3_24000hz_mono_128kbps"))
	require.Equal(t, DefaultAudioFormat, ResolveFormat("ogg"))
	require.Equal(t, "audio/wav", FormatContentType("WAV_48000HZ_MONO_16BIT"))
}
