package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix for environment overrides, e.g. SURGEMIRROR_MAX_CONCURRENCY.
const EnvPrefix = "surgemirror"

// envOverrides lists the settings that may be overridden from the environment.
// Zero values mean "not set".
type envOverrides struct {
	LogLevel       string        `envconfig:"LOG_LEVEL"`
	CacheURL       string        `envconfig:"CACHE_URL"`
	MetricsDB      string        `envconfig:"METRICS_DB"`
	MinConcurrency int           `envconfig:"MIN_CONCURRENCY"`
	MaxConcurrency int           `envconfig:"MAX_CONCURRENCY"`
	ProxyURL       string        `envconfig:"PROXY_URL"`
	UserAgent      string        `envconfig:"USER_AGENT"`
	ChunkTimeout   time.Duration `envconfig:"CHUNK_TIMEOUT"`
	MinChunkSize   int64         `envconfig:"MIN_CHUNK_SIZE"`
	MaxChunkSize   int64         `envconfig:"MAX_CHUNK_SIZE"`
	MaxRetries     int           `envconfig:"MAX_RETRIES_PER_URL"`
	RetryBaseDelay time.Duration `envconfig:"RETRY_BASE_DELAY"`
	Region         string        `envconfig:"REGION"`
	GitHubToken    string        `envconfig:"GITHUB_TOKEN"`
	AllowedDomains []string      `envconfig:"ALLOWED_DOMAINS"`
	Templates      []string      `envconfig:"MIRROR_TEMPLATES"`
}

// LoadDotEnv loads variables from the given .env files (default ".env") if present.
func LoadDotEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// ApplyEnv overlays SURGEMIRROR_* environment variables onto s.
func ApplyEnv(s *Settings) error {
	var ov envOverrides
	if err := envconfig.Process(EnvPrefix, &ov); err != nil {
		return fmt.Errorf("reading environment overrides: %w", err)
	}

	setString(&s.General.LogLevel, ov.LogLevel)
	setString(&s.General.CacheURL, ov.CacheURL)
	setString(&s.General.MetricsDB, ov.MetricsDB)
	setString(&s.Connections.ProxyURL, ov.ProxyURL)
	setString(&s.Connections.UserAgent, ov.UserAgent)
	setString(&s.Sources.Region, ov.Region)
	setString(&s.Sources.GitHubToken, ov.GitHubToken)

	if ov.MinConcurrency > 0 {
		s.Connections.MinConcurrency = ov.MinConcurrency
	}
	if ov.MaxConcurrency > 0 {
		s.Connections.MaxConcurrency = ov.MaxConcurrency
	}
	if ov.ChunkTimeout > 0 {
		s.Connections.ChunkTimeout = ov.ChunkTimeout
	}
	if ov.MinChunkSize > 0 {
		s.Chunks.MinChunkSize = ov.MinChunkSize
	}
	if ov.MaxChunkSize > 0 {
		s.Chunks.MaxChunkSize = ov.MaxChunkSize
	}
	if ov.MaxRetries > 0 {
		s.Performance.MaxRetriesPerURL = ov.MaxRetries
	}
	if ov.RetryBaseDelay > 0 {
		s.Performance.RetryBaseDelay = ov.RetryBaseDelay
	}
	if len(ov.AllowedDomains) > 0 {
		s.Sources.AllowedDomains = ov.AllowedDomains
	}
	if len(ov.Templates) > 0 {
		s.Sources.MirrorTemplates = ov.Templates
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
