package sophnet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultHost        = "https://www.sophnet.com/api/open-apis"
	DefaultChatBaseURL = defaultHost + "/v1"

	defaultSubmitTimeout    = 600 * time.Second
	defaultStatusTimeout    = 30 * time.Second
	defaultEmbeddingTimeout = 30 * time.Second
	defaultSpeechTimeout    = 60 * time.Second
)

// DefaultBaseURL returns the easyllm endpoint root for a project.
func DefaultBaseURL(projectID string) string {
	return fmt.Sprintf("%s/projects/%s/easyllms", defaultHost, projectID)
}

// Credentials are the fields every easyllm call needs.
type Credentials struct {
	APIKey    string
	ProjectID string
	EasyLLMID string
}

// Validate reports the first missing field as a *ConfigurationError.
func (c Credentials) Validate() error {
	switch {
	case strings.TrimSpace(c.ProjectID) == "":
		return &ConfigurationError{Field: "project_id"}
	case strings.TrimSpace(c.APIKey) == "":
		return &ConfigurationError{Field: "api_key"}
	case strings.TrimSpace(c.EasyLLMID) == "":
		return &ConfigurationError{Field: "easyllm_id"}
	}
	return nil
}

// Timeouts bound individual HTTP exchanges.
type Timeouts struct {
	Submit     time.Duration
	Status     time.Duration
	Embeddings time.Duration
	Speech     time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Submit <= 0 {
		t.Submit = defaultSubmitTimeout
	}
	if t.Status <= 0 {
		t.Status = defaultStatusTimeout
	}
	if t.Embeddings <= 0 {
		t.Embeddings = defaultEmbeddingTimeout
	}
	if t.Speech <= 0 {
		t.Speech = defaultSpeechTimeout
	}
	return t
}

// EmbeddingOptions tune the batching pipeline.
type EmbeddingOptions struct {
	TokenBudget  int
	MaxBatchSize int
	Dimensions   int
}

// SpeechOptions hold synthesis defaults applied when a request leaves them unset.
type SpeechOptions struct {
	SynthesisModel string
	Voice          string
	Format         string
	Streaming      bool
	SplitThreshold int
	Volume         *int
	SpeechRate     *float64
	PitchRate      *float64
}

// Options configure the Sophnet adapter.
type Options struct {
	APIKey             string
	ProjectID          string
	BaseURL            string
	ChatBaseURL        string
	ChatModel          string
	TranscriptionModel string
	EmbeddingModel     string
	SpeechModel        string
	Timeouts           Timeouts
	Poll               PollSchedule
	Embeddings         EmbeddingOptions
	Speech             SpeechOptions
	HTTPClient         *http.Client
	Logger             *slog.Logger
	Extra              []option.RequestOption
	// OnPoll, when set, is called after every transcription status request.
	OnPoll func(status JobStatus, attempt int)
}

// Adapter talks to the Sophnet easyllm endpoints and its OpenAI-compatible chat API.
type Adapter struct {
	client   *http.Client
	chat     *openai.Client
	apiKey   string
	project  string
	baseURL  string
	models   struct{ chat, transcription, embedding, speech string }
	timeouts Timeouts
	poll     PollSchedule
	embed    EmbeddingOptions
	speech   SpeechOptions
	logger   *slog.Logger
	onPoll   func(status JobStatus, attempt int)

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New validates the account credentials and builds an adapter. Per-capability
// easyllm ids may be left empty here and supplied on each request instead.
func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.ProjectID) == "" {
		return nil, &ConfigurationError{Field: "project_id"}
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, &ConfigurationError{Field: "api_key"}
	}

	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL(strings.TrimSpace(opts.ProjectID))
	}
	chatBase := strings.TrimRight(strings.TrimSpace(opts.ChatBaseURL), "/")
	if chatBase == "" {
		chatBase = DefaultChatBaseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(chatBase),
		option.WithHTTPClient(httpClient),
	}
	requestOpts = append(requestOpts, opts.Extra...)
	chatClient := openai.NewClient(requestOpts...)

	embed := opts.Embeddings
	if embed.TokenBudget <= 0 {
		embed.TokenBudget = DefaultTokenBudget
	}
	if embed.MaxBatchSize <= 0 {
		embed.MaxBatchSize = DefaultMaxBatchSize
	}
	if embed.Dimensions <= 0 {
		embed.Dimensions = DefaultDimensions
	}
	if !SupportedDimension(embed.Dimensions) {
		return nil, fmt.Errorf("%w: unsupported embedding dimensions %d", ErrInvalidRequest, embed.Dimensions)
	}

	speech := opts.Speech
	if strings.TrimSpace(speech.SynthesisModel) == "" {
		speech.SynthesisModel = DefaultSynthesisModel
	}
	speech.Voice = ResolveVoice(speech.Voice)
	speech.Format = ResolveFormat(speech.Format)
	if speech.SplitThreshold <= 0 {
		speech.SplitThreshold = DefaultSplitThreshold
	}

	a := &Adapter{
		client:   httpClient,
		chat:     &chatClient,
		apiKey:   strings.TrimSpace(opts.APIKey),
		project:  strings.TrimSpace(opts.ProjectID),
		baseURL:  base,
		timeouts: opts.Timeouts.withDefaults(),
		poll:     pollSchedule(opts.Poll),
		embed:    embed,
		speech:   speech,
		logger:   logger,
		onPoll:   opts.OnPoll,
		sleep:    sleepContext,
		now:      time.Now,
	}
	a.models.chat = strings.TrimSpace(opts.ChatModel)
	a.models.transcription = strings.TrimSpace(opts.TranscriptionModel)
	a.models.embedding = strings.TrimSpace(opts.EmbeddingModel)
	a.models.speech = strings.TrimSpace(opts.SpeechModel)
	return a, nil
}

// Properties reports the limits the adapter enforces.
func (a *Adapter) Properties() Properties {
	return Properties{
		TranscriptionUploadMB:   MaxTranscriptionMB,
		TranscriptionExtensions: append([]string(nil), transcriptionExtensions...),
		EmbeddingContextSize:    a.embed.TokenBudget,
		EmbeddingMaxChunks:      a.embed.MaxBatchSize,
		EmbeddingDimensions:     append([]int(nil), supportedDimensions...),
		SpeechWordLimit:         a.speech.SplitThreshold,
		SpeechFormats:           Formats(),
		ChatContextSize:         ChatContextSize,
		ChatMaxTokens:           ChatMaxTokens,
	}
}

// HealthCheck probes the easyllm root; only server-side failures count as unhealthy.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	req, err := a.newRequest(ctx, http.MethodGet, "", nil, "")
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return &TransportError{Op: "health", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return decodeAPIError("health", resp)
	}
	return nil
}

func (a *Adapter) credentials(requested, fallback string) (Credentials, error) {
	id := strings.TrimSpace(requested)
	if id == "" {
		id = fallback
	}
	creds := Credentials{APIKey: a.apiKey, ProjectID: a.project, EasyLLMID: id}
	return creds, creds.Validate()
}

func (a *Adapter) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	url := a.baseURL
	if path != "" {
		url += "/" + strings.TrimLeft(path, "/")
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("sophnet build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// do sends req and maps failures onto the error taxonomy. The caller owns the
// returned body.
func (a *Adapter) do(op string, req *http.Request) (*http.Response, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeAPIError(op, resp)
	}
	return resp, nil
}

func (a *Adapter) postJSON(ctx context.Context, op, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("sophnet encode %s request: %w", op, err)
	}
	req, err := a.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}
	return a.do(op, req)
}

// decodeJSON reads and closes resp.Body.
func decodeJSON(op string, resp *http.Response, out any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ProtocolError{Op: op, StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

func pollSchedule(s PollSchedule) PollSchedule {
	if s == (PollSchedule{}) {
		return DefaultPollSchedule()
	}
	return s.withDefaults()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
