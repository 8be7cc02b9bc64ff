package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General     GeneralSettings     `json:"general"`
	Connections ConnectionSettings  `json:"connections"`
	Chunks      ChunkSettings       `json:"chunks"`
	Performance PerformanceSettings `json:"performance"`
	Sources     SourceSettings      `json:"sources"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	DefaultDownloadDir string `json:"default_download_dir"`
	LogLevel           string `json:"log_level"`
	LogRetentionCount  int    `json:"log_retention_count"`
	CacheURL           string `json:"cache_url"`
	MetricsDB          string `json:"metrics_db"`
}

// ConnectionSettings contains network connection parameters.
type ConnectionSettings struct {
	MinConcurrency      int           `json:"min_concurrency"`
	MaxConcurrency      int           `json:"max_concurrency"`
	UserAgent           string        `json:"user_agent"`
	ProxyURL            string        `json:"proxy_url"`
	SkipTLSVerification bool          `json:"skip_tls_verification"`
	ChunkTimeout        time.Duration `json:"chunk_timeout"`
}

// ChunkSettings contains download chunk configuration.
type ChunkSettings struct {
	MinChunkSize       int64 `json:"min_chunk_size"`
	MaxChunkSize       int64 `json:"max_chunk_size"`
	SmallFileThreshold int64 `json:"small_file_threshold"`
	WorkerBufferSize   int   `json:"worker_buffer_size"`
}

// PerformanceSettings contains retry and adaptation tuning parameters.
type PerformanceSettings struct {
	MaxRetriesPerURL    int           `json:"max_retries_per_url"`
	RetryBaseDelay      time.Duration `json:"retry_base_delay"`
	MaxBackoff          time.Duration `json:"max_backoff"`
	CongestionThreshold float64       `json:"congestion_threshold"`
	CongestionInterval  time.Duration `json:"congestion_interval"`
	AdaptationInterval  time.Duration `json:"adaptation_interval"`
	SlowSpeedThreshold  float64       `json:"slow_speed_threshold"`
	FastSpeedThreshold  float64       `json:"fast_speed_threshold"`
}

// SourceSettings configures candidate providers and ranking preferences.
type SourceSettings struct {
	Region          string              `json:"region"`
	Regions         map[string][]string `json:"regions"`
	GitHubToken     string              `json:"github_token"`
	MirrorTemplates []string            `json:"mirror_templates"`
	AllowedDomains  []string            `json:"allowed_domains"`
	S3Bucket        string              `json:"s3_bucket"`
	S3Prefix        string              `json:"s3_prefix"`
}

// SettingMeta provides metadata for a single setting (for `config` output).
type SettingMeta struct {
	Key         string // JSON key name
	Label       string // Human-readable label
	Description string // Help text
	Type        string // "string", "int", "int64", "bool", "duration", "float64", "list", "map"
}

// GetSettingsMetadata returns metadata for all settings organized by category.
func GetSettingsMetadata() map[string][]SettingMeta {
	return map[string][]SettingMeta{
		"General": {
			{Key: "default_download_dir", Label: "Default Download Dir", Description: "Directory used when no output path is given.", Type: "string"},
			{Key: "log_level", Label: "Log Level", Description: "debug, info, warn or error.", Type: "string"},
			{Key: "log_retention_count", Label: "Log Retention Count", Description: "Number of rotated log files to keep.", Type: "int"},
			{Key: "cache_url", Label: "Cache URL", Description: "Blob bucket URL for the download cache (file:///path or mem://). Empty disables caching.", Type: "string"},
			{Key: "metrics_db", Label: "Metrics DB", Description: "SQLite file used to persist source scores between runs. Empty disables persistence.", Type: "string"},
		},
		"Network": {
			{Key: "min_concurrency", Label: "Min Concurrency", Description: "Lower bound for parallel chunk requests.", Type: "int"},
			{Key: "max_concurrency", Label: "Max Concurrency", Description: "Upper bound for parallel chunk requests.", Type: "int"},
			{Key: "user_agent", Label: "User Agent", Description: "Custom User-Agent string. Leave empty for default.", Type: "string"},
			{Key: "proxy_url", Label: "Proxy URL", Description: "HTTP or socks5:// proxy. Leave empty to use the environment.", Type: "string"},
			{Key: "skip_tls_verification", Label: "Skip TLS Verification", Description: "Accept invalid certificates.", Type: "bool"},
			{Key: "chunk_timeout", Label: "Chunk Timeout", Description: "Initial per-chunk timeout (e.g. 60s).", Type: "duration"},
			{Key: "min_chunk_size", Label: "Min Chunk Size", Description: "Smallest planned chunk in bytes.", Type: "int64"},
			{Key: "max_chunk_size", Label: "Max Chunk Size", Description: "Largest planned chunk in bytes.", Type: "int64"},
			{Key: "small_file_threshold", Label: "Small File Threshold", Description: "Remainders at or below this size use one request.", Type: "int64"},
			{Key: "worker_buffer_size", Label: "Worker Buffer Size", Description: "I/O buffer size per chunk task in bytes.", Type: "int"},
		},
		"Performance": {
			{Key: "max_retries_per_url", Label: "Max Retries/URL", Description: "Retries at one mirror before failing over.", Type: "int"},
			{Key: "retry_base_delay", Label: "Retry Base Delay", Description: "Base of the exponential backoff (e.g. 1s).", Type: "duration"},
			{Key: "max_backoff", Label: "Max Backoff", Description: "Backoff cap, never above 30s.", Type: "duration"},
			{Key: "congestion_threshold", Label: "Congestion Threshold", Description: "Score above which concurrency is reduced (0.0-1.0).", Type: "float64"},
			{Key: "congestion_interval", Label: "Congestion Interval", Description: "Minimum time between congestion adjustments.", Type: "duration"},
			{Key: "adaptation_interval", Label: "Adaptation Interval", Description: "Minimum time between speed-trend adjustments.", Type: "duration"},
			{Key: "slow_speed_threshold", Label: "Slow Speed", Description: "Below this speed (bytes/s) chunks are halved.", Type: "float64"},
			{Key: "fast_speed_threshold", Label: "Fast Speed", Description: "Above this speed (bytes/s) chunks may grow.", Type: "float64"},
		},
		"Sources": {
			{Key: "region", Label: "Region", Description: "Key into the regions table used for ranking boosts.", Type: "string"},
			{Key: "regions", Label: "Regions", Description: "Region name to ordered source preference list.", Type: "map"},
			{Key: "github_token", Label: "GitHub Token", Description: "Token for the GitHub releases API.", Type: "string"},
			{Key: "mirror_templates", Label: "Mirror Templates", Description: "URL templates with {repo}, {owner}, {name}, {version} and {file}.", Type: "list"},
			{Key: "allowed_domains", Label: "Allowed Domains", Description: "Hosts candidates may come from. Empty allows all.", Type: "list"},
			{Key: "s3_bucket", Label: "S3 Bucket", Description: "Bucket mirrored as a presigned-URL source.", Type: "string"},
			{Key: "s3_prefix", Label: "S3 Prefix", Description: "Key prefix inside the S3 bucket.", Type: "string"},
		},
	}
}

// CategoryOrder returns the order of categories for display.
func CategoryOrder() []string {
	return []string{"General", "Network", "Performance", "Sources"}
}

const (
	KB = 1024
	MB = 1024 * KB
)

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	defaultDir := filepath.Join(homeDir, "Downloads")

	return &Settings{
		General: GeneralSettings{
			DefaultDownloadDir: defaultDir,
			LogLevel:           "info",
			LogRetentionCount:  5,
		},
		Connections: ConnectionSettings{
			MinConcurrency: 1,
			MaxConcurrency: 16,
			UserAgent:      "", // Empty means use default UA
			ChunkTimeout:   60 * time.Second,
		},
		Chunks: ChunkSettings{
			MinChunkSize:       256 * KB,
			MaxChunkSize:       8 * MB,
			SmallFileThreshold: 512 * KB,
			WorkerBufferSize:   256 * KB,
		},
		Performance: PerformanceSettings{
			MaxRetriesPerURL:    3,
			RetryBaseDelay:      time.Second,
			MaxBackoff:          30 * time.Second,
			CongestionThreshold: 0.6,
			CongestionInterval:  5 * time.Second,
			AdaptationInterval:  10 * time.Second,
			SlowSpeedThreshold:  512 * KB,
			FastSpeedThreshold:  5 * MB,
		},
		Sources: SourceSettings{
			Regions: map[string][]string{
				"cn": {"jsdelivr", "ghproxy", "github"},
				"eu": {"github", "jsdelivr", "s3"},
				"us": {"github", "s3", "jsdelivr"},
			},
		},
	}
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetSurgeDir(), "settings.json")
}

// LoadSettings loads settings from disk. Returns defaults if file doesn't exist.
func LoadSettings() (*Settings, error) {
	path := GetSettingsPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings() // Start with defaults to fill any missing fields
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	path := GetSettingsPath()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

// RuntimeConfig is the flattened view of Settings handed to the download engine
type RuntimeConfig struct {
	MinConcurrency      int
	MaxConcurrency      int
	MinChunkSize        int64
	MaxChunkSize        int64
	SmallFileThreshold  int64
	WorkerBufferSize    int
	UserAgent           string
	ProxyURL            string
	SkipTLSVerification bool
	ChunkTimeout        time.Duration
	MaxRetriesPerURL    int
	RetryBaseDelay      time.Duration
	MaxBackoff          time.Duration
	CongestionThreshold float64
	CongestionInterval  time.Duration
	AdaptationInterval  time.Duration
	SlowSpeedThreshold  float64
	FastSpeedThreshold  float64
	Region              string
	Regions             map[string][]string
}

// ToRuntimeConfig creates a RuntimeConfig from user Settings
func (s *Settings) ToRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MinConcurrency:      s.Connections.MinConcurrency,
		MaxConcurrency:      s.Connections.MaxConcurrency,
		MinChunkSize:        s.Chunks.MinChunkSize,
		MaxChunkSize:        s.Chunks.MaxChunkSize,
		SmallFileThreshold:  s.Chunks.SmallFileThreshold,
		WorkerBufferSize:    s.Chunks.WorkerBufferSize,
		UserAgent:           s.Connections.UserAgent,
		ProxyURL:            s.Connections.ProxyURL,
		SkipTLSVerification: s.Connections.SkipTLSVerification,
		ChunkTimeout:        s.Connections.ChunkTimeout,
		MaxRetriesPerURL:    s.Performance.MaxRetriesPerURL,
		RetryBaseDelay:      s.Performance.RetryBaseDelay,
		MaxBackoff:          s.Performance.MaxBackoff,
		CongestionThreshold: s.Performance.CongestionThreshold,
		CongestionInterval:  s.Performance.CongestionInterval,
		AdaptationInterval:  s.Performance.AdaptationInterval,
		SlowSpeedThreshold:  s.Performance.SlowSpeedThreshold,
		FastSpeedThreshold:  s.Performance.FastSpeedThreshold,
		Region:              s.Sources.Region,
		Regions:             s.Sources.Regions,
	}
}
