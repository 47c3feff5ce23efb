package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	StorageLocal     = "local"
	StorageS3        = "s3"
	StorageReplicate = "replicate"

	ReferenceStatic = "static"
	ReferenceUpload = "upload"
)

var ErrAPIKeyMissing = errors.New("REPLICATE_API_KEY is not set")

// Config holds the environment driven configuration for cardgen.
type Config struct {
	Environment     string        `env:"APP_ENV" envDefault:"development"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort        int           `env:"PORT" envDefault:"3001"`
	PublicBaseURL   string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:3001"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Provider
	ReplicateAPIKey     string        `env:"REPLICATE_API_KEY"`
	ViteReplicateAPIKey string        `env:"VITE_REPLICATE_API_KEY"`
	ReplicateBaseURL    string        `env:"REPLICATE_BASE_URL" envDefault:"https://api.replicate.com/v1"`
	Model               string        `env:"REPLICATE_MODEL" envDefault:"google/nano-banana-pro"`
	ResolveModelVersion bool          `env:"REPLICATE_RESOLVE_VERSION" envDefault:"true"`
	ProviderTimeout     time.Duration `env:"REPLICATE_TIMEOUT" envDefault:"60s"`
	Verbose             bool          `env:"REPLICATE_VERBOSE" envDefault:"false"`

	// Polling
	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	PollMaxAttempts    int           `env:"POLL_MAX_ATTEMPTS" envDefault:"120"`
	PollRetryTransient bool          `env:"POLL_RETRY_TRANSIENT" envDefault:"false"`

	// Precheck and caller URL policy
	PrecheckTimeout time.Duration `env:"PRECHECK_TIMEOUT" envDefault:"10s"`
	URLRequireHTTPS bool          `env:"URL_REQUIRE_HTTPS" envDefault:"false"`
	URLAllowPrivate bool          `env:"URL_ALLOW_PRIVATE" envDefault:"false"`
	URLAllowedHosts []string      `env:"URL_ALLOWED_HOSTS" envSeparator:","`

	// Storage
	StorageBackend   string        `env:"STORAGE_BACKEND" envDefault:"local"`
	LocalStoragePath string        `env:"STORAGE_LOCAL_PATH" envDefault:"./temp-uploads"`
	UploadTTL        time.Duration `env:"UPLOAD_TTL" envDefault:"10m"`
	UploadTimeout    time.Duration `env:"UPLOAD_TIMEOUT" envDefault:"30s"`
	MaxUploadBytes   int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`

	S3Endpoint       string `env:"S3_ENDPOINT"`
	S3PublicEndpoint string `env:"S3_PUBLIC_ENDPOINT"`
	S3Region         string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Bucket         string `env:"S3_BUCKET"`
	S3AccessKeyID    string `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey      string `env:"S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle   bool   `env:"S3_USE_PATH_STYLE" envDefault:"true"`

	// Reference images
	ReferenceMode    string            `env:"REFERENCE_MODE" envDefault:"static"`
	ReferenceBaseURL string            `env:"REFERENCE_BASE_URL"`
	ReferenceURLs    map[string]string `env:"REFERENCE_URLS" envDefault:"newyear:https://lbguc3zsh1uyzv3d.public.blob.vercel-storage.com/1767548913407-vay4azsocze.jpeg"`
	ReferenceDir     string            `env:"REFERENCE_DIR" envDefault:"./public/img"`

	// Generation
	InlineFallback bool   `env:"INLINE_FALLBACK" envDefault:"false"`
	PromptTemplate string `env:"PROMPT_TEMPLATE"`
	StylesFile     string `env:"STYLES_FILE"`

	// HTTP
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:3000"`
	RateLimitPerMinute int      `env:"RATE_LIMIT_PER_MINUTE" envDefault:"10"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// friends. Only enable it behind a proxy that overwrites them.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
	// ExposeErrorDetail adds the underlying error to HTTP error bodies.
	ExposeErrorDetail bool `env:"EXPOSE_ERROR_DETAIL" envDefault:"false"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.ReplicateAPIKey = strings.TrimSpace(cfg.ReplicateAPIKey)
	if cfg.ReplicateAPIKey == "" {
		cfg.ReplicateAPIKey = strings.TrimSpace(cfg.ViteReplicateAPIKey)
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	cfg.ReferenceMode = strings.ToLower(strings.TrimSpace(cfg.ReferenceMode))
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	cfg.S3Bucket = strings.TrimSpace(cfg.S3Bucket)
	cfg.S3AccessKeyID = strings.TrimSpace(cfg.S3AccessKeyID)
	cfg.S3SecretKey = strings.TrimSpace(cfg.S3SecretKey)

	if cfg.ReferenceBaseURL == "" {
		cfg.ReferenceBaseURL = cfg.PublicBaseURL + "/img"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option combinations. The API key is checked separately by
// RequireAPIKey because offline commands do not need it.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageLocal, StorageReplicate:
	case StorageS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND is s3")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (want local, s3 or replicate)", c.StorageBackend)
	}

	switch c.ReferenceMode {
	case ReferenceStatic, ReferenceUpload:
	default:
		return fmt.Errorf("unknown REFERENCE_MODE %q (want static or upload)", c.ReferenceMode)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.PollMaxAttempts < 1 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be at least 1")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

func (c *Config) RequireAPIKey() error {
	if c.ReplicateAPIKey == "" {
		return ErrAPIKeyMissing
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// PollBudget is the longest a single generation may spend polling.
func (c *Config) PollBudget() time.Duration {
	return time.Duration(c.PollMaxAttempts) * c.PollInterval
}
