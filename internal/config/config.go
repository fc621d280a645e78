package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the gateway and CLIs.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Sophnet       SophnetConfig       `mapstructure:"sophnet"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Embeddings    EmbeddingsConfig    `mapstructure:"embeddings"`
	Speech        SpeechConfig        `mapstructure:"speech"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Health        HealthConfig        `mapstructure:"health"`
	Usage         UsageConfig         `mapstructure:"usage"`
	ModelCatalog  []ModelCatalogEntry `mapstructure:"model_catalog"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	SyncTimeout           time.Duration `mapstructure:"sync_timeout"`
	StreamMaxDuration     time.Duration `mapstructure:"stream_max_duration"`
	ReadHeaderTimeout     time.Duration `mapstructure:"read_header_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

// SophnetConfig holds the account credentials and the default easyllm id per
// capability.
type SophnetConfig struct {
	APIKey             string         `mapstructure:"api_key"`
	ProjectID          string         `mapstructure:"project_id"`
	BaseURL            string         `mapstructure:"base_url"`
	ChatBaseURL        string         `mapstructure:"chat_base_url"`
	ChatModel          string         `mapstructure:"chat_model"`
	TranscriptionModel string         `mapstructure:"transcription_model"`
	EmbeddingModel     string         `mapstructure:"embedding_model"`
	SpeechModel        string         `mapstructure:"speech_model"`
	Timeouts           SophnetTimeout `mapstructure:"timeouts"`
}

type SophnetTimeout struct {
	Submit     time.Duration `mapstructure:"submit"`
	Status     time.Duration `mapstructure:"status"`
	Embeddings time.Duration `mapstructure:"embeddings"`
	Speech     time.Duration `mapstructure:"speech"`
}

type TranscriptionConfig struct {
	MaxUploadMB       int           `mapstructure:"max_upload_mb"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PollStep          time.Duration `mapstructure:"poll_step"`
	PollCeiling       time.Duration `mapstructure:"poll_ceiling"`
	PollMaxAttempts   int           `mapstructure:"poll_max_attempts"`
	PollIncreaseAfter int           `mapstructure:"poll_increase_after"`
}

type EmbeddingsConfig struct {
	TokenBudget  int `mapstructure:"token_budget"`
	MaxBatchSize int `mapstructure:"max_batch_size"`
	Dimensions   int `mapstructure:"dimensions"`
}

type SpeechConfig struct {
	SynthesisModel string  `mapstructure:"synthesis_model"`
	Voice          string  `mapstructure:"voice"`
	Format         string  `mapstructure:"format"`
	Streaming      bool    `mapstructure:"streaming"`
	SplitThreshold int     `mapstructure:"split_threshold"`
	Volume         int     `mapstructure:"volume"`
	SpeechRate     float64 `mapstructure:"speech_rate"`
	PitchRate      float64 `mapstructure:"pitch_rate"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != ""
}

type CacheConfig struct {
	EmbeddingTTL time.Duration     `mapstructure:"embedding_ttl"`
	KeyPrefix    string            `mapstructure:"key_prefix"`
	Speech       SpeechCacheConfig `mapstructure:"speech"`
}

// SpeechCacheConfig selects where synthesized non-streaming audio is kept.
type SpeechCacheConfig struct {
	Enabled       bool             `mapstructure:"enabled"`
	Storage       string           `mapstructure:"storage"`
	EncryptionKey string           `mapstructure:"encryption_key"`
	MaxSizeMB     int              `mapstructure:"max_size_mb"`
	TTL           time.Duration    `mapstructure:"ttl"`
	S3            FilesS3Config    `mapstructure:"s3"`
	Local         FilesLocalConfig `mapstructure:"local"`
}

type FilesS3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type FilesLocalConfig struct {
	Directory string `mapstructure:"directory"`
}

// GatewayConfig lists the API keys allowed to call the gateway and their limits.
type GatewayConfig struct {
	RateLimits RateLimitConfig `mapstructure:"rate_limits"`
	APIKeys    []APIKeyConfig  `mapstructure:"api_keys"`
}

type RateLimitConfig struct {
	DefaultRequestsPerMinute int `mapstructure:"default_requests_per_minute"`
	DefaultTokensPerMinute   int `mapstructure:"default_tokens_per_minute"`
	DefaultParallelRequests  int `mapstructure:"default_parallel_requests"`
}

// APIKeyConfig is one gateway key. Secrets are stored as argon2id hashes.
type APIKeyConfig struct {
	Name       string          `mapstructure:"name"`
	Prefix     string          `mapstructure:"prefix"`
	SecretHash string          `mapstructure:"secret_hash"`
	RateLimit  RateLimitValues `mapstructure:"rate_limit"`
}

type RateLimitValues struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	TokensPerMinute   int `mapstructure:"tokens_per_minute"`
	ParallelRequests  int `mapstructure:"parallel_requests"`
}

type ObservabilityConfig struct {
	ServiceName   string `mapstructure:"service_name"`
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

type HealthConfig struct {
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	// DeepProbe replaces the endpoint ping with a real minimal call per
	// capability. Speech and chat probes are billed.
	DeepProbe bool `mapstructure:"deep_probe"`
}

// UsageConfig controls where per-request usage records are delivered.
type UsageConfig struct {
	LogRecords  bool          `mapstructure:"log_records"`
	QueueSize   int           `mapstructure:"queue_size"`
	WebhookURLs []string      `mapstructure:"webhook_urls"`
	Webhook     WebhookConfig `mapstructure:"webhook"`
}

type WebhookConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// ModelCatalogEntry maps a public model alias onto a Sophnet easyllm id.
type ModelCatalogEntry struct {
	Alias         string            `mapstructure:"alias"`
	Provider      string            `mapstructure:"provider"`
	ProviderModel string            `mapstructure:"provider_model"`
	Capability    string            `mapstructure:"capability"`
	Enabled       *bool             `mapstructure:"enabled"`
	APIKey        string            `mapstructure:"api_key"`
	ProjectID     string            `mapstructure:"project_id"`
	Endpoint      string            `mapstructure:"endpoint"`
	Weight        int               `mapstructure:"weight"`
	Metadata      map[string]string `mapstructure:"metadata"`
}

func (e ModelCatalogEntry) IsEnabled() bool {
	if e.Enabled == nil {
		return true
	}
	return *e.Enabled
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("SOPHNET_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		v.SetConfigName("sophnet")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("SOPHNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindSecrets(v)

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and fills derived defaults.
func (c *Config) Validate() error {
	var missing []error
	if strings.TrimSpace(c.Sophnet.APIKey) == "" {
		missing = append(missing, errors.New("missing required configuration: SOPHNET_API_KEY"))
	}
	if strings.TrimSpace(c.Sophnet.ProjectID) == "" {
		missing = append(missing, errors.New("missing required configuration: SOPHNET_PROJECT_ID"))
	}
	if err := errors.Join(missing...); err != nil {
		return err
	}

	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}
	if err := c.Transcription.validate(); err != nil {
		return err
	}
	if err := c.Embeddings.validate(); err != nil {
		return err
	}
	if err := c.Speech.validate(); err != nil {
		return err
	}
	if err := c.Cache.Speech.validate(); err != nil {
		return err
	}
	if err := c.Gateway.validate(); err != nil {
		return err
	}
	if c.Health.FailureThreshold <= 0 {
		c.Health.FailureThreshold = 3
	}

	if len(c.ModelCatalog) == 0 {
		c.ModelCatalog = c.defaultCatalog()
	}
	for i, entry := range c.ModelCatalog {
		if entry.Alias == "" {
			return fmt.Errorf("model_catalog[%d].alias must be provided", i)
		}
		if entry.Provider == "" {
			c.ModelCatalog[i].Provider = "sophnet"
		}
		if entry.ProviderModel == "" {
			return fmt.Errorf("model_catalog[%d].provider_model must be provided", i)
		}
		switch entry.Capability {
		case "chat", "transcription", "embeddings", "speech":
		default:
			return fmt.Errorf("model_catalog[%d].capability must be chat/transcription/embeddings/speech", i)
		}
		if entry.Weight == 0 {
			c.ModelCatalog[i].Weight = 100
		}
	}
	return nil
}

// defaultCatalog exposes each configured easyllm id under its own name.
func (c *Config) defaultCatalog() []ModelCatalogEntry {
	var entries []ModelCatalogEntry
	add := func(model, capability string) {
		model = strings.TrimSpace(model)
		if model == "" {
			return
		}
		entries = append(entries, ModelCatalogEntry{
			Alias:         model,
			Provider:      "sophnet",
			ProviderModel: model,
			Capability:    capability,
			Weight:        100,
		})
	}
	add(c.Sophnet.ChatModel, "chat")
	add(c.Sophnet.TranscriptionModel, "transcription")
	add(c.Sophnet.EmbeddingModel, "embeddings")
	add(c.Sophnet.SpeechModel, "speech")
	return entries
}

func (t *TranscriptionConfig) validate() error {
	if t.MaxUploadMB <= 0 {
		t.MaxUploadMB = 1024
	}
	if t.PollMaxAttempts < 0 {
		return fmt.Errorf("transcription.poll_max_attempts must be >= 0")
	}
	if t.PollCeiling > 0 && t.PollCeiling < t.PollInterval {
		return fmt.Errorf("transcription.poll_ceiling cannot be below transcription.poll_interval")
	}
	return nil
}

func (e *EmbeddingsConfig) validate() error {
	if e.TokenBudget < 0 || e.MaxBatchSize < 0 {
		return fmt.Errorf("embeddings.token_budget and embeddings.max_batch_size must be >= 0")
	}
	switch e.Dimensions {
	case 0, 1024, 768, 512, 256, 128, 64:
		return nil
	default:
		return fmt.Errorf("embeddings.dimensions must be one of 1024/768/512/256/128/64")
	}
}

func (s *SpeechConfig) validate() error {
	if s.Volume < 0 || s.Volume > 100 {
		return fmt.Errorf("speech.volume must be between 0 and 100")
	}
	if s.SpeechRate != 0 && (s.SpeechRate < 0.5 || s.SpeechRate > 2) {
		return fmt.Errorf("speech.speech_rate must be between 0.5 and 2")
	}
	if s.PitchRate != 0 && (s.PitchRate < 0.5 || s.PitchRate > 2) {
		return fmt.Errorf("speech.pitch_rate must be between 0.5 and 2")
	}
	if s.SplitThreshold < 0 {
		return fmt.Errorf("speech.split_threshold must be >= 0")
	}
	return nil
}

func (f *SpeechCacheConfig) validate() error {
	if strings.TrimSpace(f.Storage) == "" {
		f.Storage = "local"
	}
	if f.MaxSizeMB <= 0 {
		f.MaxSizeMB = 50
	}
	if !f.Enabled {
		return nil
	}
	switch strings.ToLower(f.Storage) {
	case "local":
		if strings.TrimSpace(f.Local.Directory) == "" {
			return fmt.Errorf("cache.speech.local.directory must be provided for local storage")
		}
	case "s3":
		if strings.TrimSpace(f.S3.Bucket) == "" {
			return fmt.Errorf("cache.speech.s3.bucket must be provided for s3 storage")
		}
	default:
		return fmt.Errorf("cache.speech.storage must be local or s3")
	}
	return nil
}

func (g *GatewayConfig) validate() error {
	if err := validateRateLimit(RateLimitValues{
		RequestsPerMinute: g.RateLimits.DefaultRequestsPerMinute,
		TokensPerMinute:   g.RateLimits.DefaultTokensPerMinute,
		ParallelRequests:  g.RateLimits.DefaultParallelRequests,
	}); err != nil {
		return fmt.Errorf("gateway.rate_limits: %w", err)
	}
	seen := make(map[string]struct{}, len(g.APIKeys))
	for i, key := range g.APIKeys {
		prefix := strings.TrimSpace(key.Prefix)
		if prefix == "" {
			return fmt.Errorf("gateway.api_keys[%d].prefix must be provided", i)
		}
		if strings.TrimSpace(key.SecretHash) == "" {
			return fmt.Errorf("gateway.api_keys[%d].secret_hash must be provided", i)
		}
		if _, dup := seen[prefix]; dup {
			return fmt.Errorf("gateway.api_keys[%d].prefix %q is duplicated", i, prefix)
		}
		seen[prefix] = struct{}{}
		if err := validateRateLimit(key.RateLimit); err != nil {
			return fmt.Errorf("gateway.api_keys[%d].rate_limit: %w", i, err)
		}
	}
	return nil
}

func validateRateLimit(limit RateLimitValues) error {
	if limit.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must be >= 0")
	}
	if limit.TokensPerMinute < 0 {
		return fmt.Errorf("tokens_per_minute must be >= 0")
	}
	if limit.ParallelRequests < 0 {
		return fmt.Errorf("parallel_requests must be >= 0")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 1024)
	v.SetDefault("server.sync_timeout", "300s")
	v.SetDefault("server.stream_max_duration", "600s")
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("sophnet.chat_model", "DeepSeek-V3-Fast")
	v.SetDefault("sophnet.timeouts.submit", "600s")
	v.SetDefault("sophnet.timeouts.status", "30s")
	v.SetDefault("sophnet.timeouts.embeddings", "30s")
	v.SetDefault("sophnet.timeouts.speech", "60s")

	v.SetDefault("transcription.max_upload_mb", 1024)
	v.SetDefault("transcription.poll_interval", "5s")
	v.SetDefault("transcription.poll_step", "1s")
	v.SetDefault("transcription.poll_ceiling", "15s")
	v.SetDefault("transcription.poll_max_attempts", 60)
	v.SetDefault("transcription.poll_increase_after", 10)

	v.SetDefault("embeddings.token_budget", 8192)
	v.SetDefault("embeddings.max_batch_size", 10)
	v.SetDefault("embeddings.dimensions", 1024)

	v.SetDefault("speech.synthesis_model", "cosyvoice-v1")
	v.SetDefault("speech.voice", "longxiaochun")
	v.SetDefault("speech.format", "MP3_16000HZ_MONO_128KBPS")
	v.SetDefault("speech.streaming", true)
	v.SetDefault("speech.split_threshold", 500)
	v.SetDefault("speech.volume", 50)
	v.SetDefault("speech.speech_rate", 1.0)
	v.SetDefault("speech.pitch_rate", 1.0)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("cache.embedding_ttl", "24h")
	v.SetDefault("cache.key_prefix", "sophnet")
	v.SetDefault("cache.speech.enabled", false)
	v.SetDefault("cache.speech.storage", "local")
	v.SetDefault("cache.speech.max_size_mb", 50)
	v.SetDefault("cache.speech.ttl", "168h")
	v.SetDefault("cache.speech.local.directory", "./data/speech")

	v.SetDefault("gateway.rate_limits.default_requests_per_minute", 600)
	v.SetDefault("gateway.rate_limits.default_tokens_per_minute", 1_000_000)
	v.SetDefault("gateway.rate_limits.default_parallel_requests", 10)

	v.SetDefault("observability.service_name", "sophnet-gateway")
	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")

	v.SetDefault("health.check_interval", "60s")
	v.SetDefault("health.failure_threshold", 3)
	v.SetDefault("health.cooldown", "1m")
	v.SetDefault("health.deep_probe", false)

	v.SetDefault("usage.log_records", false)
	v.SetDefault("usage.queue_size", 1024)
	v.SetDefault("usage.webhook.timeout", "5s")
	v.SetDefault("usage.webhook.max_retries", 3)
}

// bindSecrets maps the short variable names operators actually export. Keys
// without a default are invisible to AutomaticEnv during Unmarshal.
func bindSecrets(v *viper.Viper) {
	_ = v.BindEnv("sophnet.api_key", "SOPHNET_API_KEY")
	_ = v.BindEnv("sophnet.project_id", "SOPHNET_PROJECT_ID")
	_ = v.BindEnv("sophnet.base_url", "SOPHNET_BASE_URL")
	_ = v.BindEnv("sophnet.transcription_model", "SOPHNET_TRANSCRIPTION_MODEL")
	_ = v.BindEnv("sophnet.embedding_model", "SOPHNET_EMBEDDING_MODEL")
	_ = v.BindEnv("sophnet.speech_model", "SOPHNET_SPEECH_MODEL")
	_ = v.BindEnv("redis.url", "SOPHNET_REDIS_URL")
	_ = v.BindEnv("cache.speech.encryption_key", "SOPHNET_SPEECH_CACHE_KEY")
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
