package types

import (
	"time"
)

// Size constants
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB

	// Megabyte as float for display calculations
	Megabyte = 1024.0 * 1024.0

	// IncompleteSuffix is appended to the working file while downloading
	IncompleteSuffix = ".part"

	// LockSuffix names the advisory lock file next to the destination
	LockSuffix = ".lock"
)

// Chunk size constants
const (
	MinChunk           = 256 * KB // Minimum chunk size
	MaxChunk           = 8 * MB   // Maximum chunk size
	SmallFileThreshold = 512 * KB // Remainders at or below this are fetched as one chunk
	WorkerBuffer       = 256 * KB

	// Size-class boundaries and baselines used by the planner
	SmallClassLimit  = 16 * MB
	MediumClassLimit = 256 * MB
	LargeClassLimit  = 1 * GB

	SmallClassChunk  = 512 * KB
	MediumClassChunk = 2 * MB
	LargeClassChunk  = 4 * MB
	HugeClassChunk   = 8 * MB
)

// Speed thresholds (bytes per second)
const (
	SlowSpeedThreshold = 512 * KB
	FastSpeedThreshold = 5 * MB
	FastSourceSpeed    = 1 * MB // Scorer bonus threshold
)

// Connection limits
const (
	MinConcurrency  = 1
	MaxConcurrency  = 16
	InitConcurrency = 4
	PerHostMax      = 64 // Max idle connections per host
)

// HTTP Client Tuning
const (
	DefaultMaxIdleConns          = 100
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 15 * time.Second
	DefaultExpectContinueTimeout = 1 * time.Second
	DialTimeout                  = 10 * time.Second
	KeepAliveDuration            = 30 * time.Second
	ProbeTimeout                 = 30 * time.Second
	DefaultChunkTimeout          = 60 * time.Second
)

// Retry and adaptation constants
const (
	MaxRetriesPerURL = 3
	MaxIOFailures    = 2
	RetryBaseDelay   = 1 * time.Second
	MaxBackoff       = 30 * time.Second
	MaxBackoffShift  = 6

	CongestionThreshold = 0.6
	CongestionInterval  = 5 * time.Second
	AdaptationInterval  = 10 * time.Second
	MinAdaptSamples     = 5
	SampleWindow        = 20
	SampleHistory       = 200
	CongestionEMAAlpha  = 0.25
	ErrorRateLimit      = 0.10

	CircuitBreakerThreshold = 5
	CircuitBreakerCooldown  = 5 * time.Minute
)

// Channel buffer sizes
const (
	ProgressChannelBuffer = 100
)

// RuntimeConfig holds dynamic settings that can override defaults
type RuntimeConfig struct {
	MinConcurrency     int
	MaxConcurrency     int
	MinChunkSize       int64
	MaxChunkSize       int64
	SmallFileThreshold int64
	WorkerBufferSize   int

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

	Region  string
	Regions map[string][]string
}

// GetUserAgent returns the configured user agent or the default
func (r *RuntimeConfig) GetUserAgent() string {
	if r == nil || r.UserAgent == "" {
		return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	return r.UserAgent
}

// GetMinConcurrency returns configured value or default
func (r *RuntimeConfig) GetMinConcurrency() int {
	if r == nil || r.MinConcurrency <= 0 {
		return MinConcurrency
	}
	return r.MinConcurrency
}

// GetMaxConcurrency returns configured value or default, never below the minimum
func (r *RuntimeConfig) GetMaxConcurrency() int {
	hi := MaxConcurrency
	if r != nil && r.MaxConcurrency > 0 {
		hi = r.MaxConcurrency
	}
	if lo := r.GetMinConcurrency(); hi < lo {
		return lo
	}
	return hi
}

// GetMinChunkSize returns configured value or default
func (r *RuntimeConfig) GetMinChunkSize() int64 {
	if r == nil || r.MinChunkSize <= 0 {
		return MinChunk
	}
	return r.MinChunkSize
}

// GetMaxChunkSize returns configured value or default, never below the minimum
func (r *RuntimeConfig) GetMaxChunkSize() int64 {
	hi := int64(MaxChunk)
	if r != nil && r.MaxChunkSize > 0 {
		hi = r.MaxChunkSize
	}
	if lo := r.GetMinChunkSize(); hi < lo {
		return lo
	}
	return hi
}

// GetSmallFileThreshold returns configured value or default
func (r *RuntimeConfig) GetSmallFileThreshold() int64 {
	if r == nil || r.SmallFileThreshold <= 0 {
		return SmallFileThreshold
	}
	return r.SmallFileThreshold
}

// GetWorkerBufferSize returns configured value or default
func (r *RuntimeConfig) GetWorkerBufferSize() int {
	if r == nil || r.WorkerBufferSize <= 0 {
		return WorkerBuffer
	}
	return r.WorkerBufferSize
}

// GetChunkTimeout returns configured value or default
func (r *RuntimeConfig) GetChunkTimeout() time.Duration {
	if r == nil || r.ChunkTimeout <= 0 {
		return DefaultChunkTimeout
	}
	return r.ChunkTimeout
}

// GetMaxRetriesPerURL returns configured value or default
func (r *RuntimeConfig) GetMaxRetriesPerURL() int {
	if r == nil || r.MaxRetriesPerURL <= 0 {
		return MaxRetriesPerURL
	}
	return r.MaxRetriesPerURL
}

// GetRetryBaseDelay returns configured value or default
func (r *RuntimeConfig) GetRetryBaseDelay() time.Duration {
	if r == nil || r.RetryBaseDelay <= 0 {
		return RetryBaseDelay
	}
	return r.RetryBaseDelay
}

// GetMaxBackoff returns configured value or default. The hard cap is never exceeded.
func (r *RuntimeConfig) GetMaxBackoff() time.Duration {
	if r == nil || r.MaxBackoff <= 0 || r.MaxBackoff > MaxBackoff {
		return MaxBackoff
	}
	return r.MaxBackoff
}

// GetCongestionThreshold returns configured value or default
func (r *RuntimeConfig) GetCongestionThreshold() float64 {
	if r == nil || r.CongestionThreshold <= 0 {
		return CongestionThreshold
	}
	return r.CongestionThreshold
}

// GetCongestionInterval returns configured value or default
func (r *RuntimeConfig) GetCongestionInterval() time.Duration {
	if r == nil || r.CongestionInterval <= 0 {
		return CongestionInterval
	}
	return r.CongestionInterval
}

// GetAdaptationInterval returns configured value or default
func (r *RuntimeConfig) GetAdaptationInterval() time.Duration {
	if r == nil || r.AdaptationInterval <= 0 {
		return AdaptationInterval
	}
	return r.AdaptationInterval
}

// GetSlowSpeedThreshold returns configured value or default
func (r *RuntimeConfig) GetSlowSpeedThreshold() float64 {
	if r == nil || r.SlowSpeedThreshold <= 0 {
		return SlowSpeedThreshold
	}
	return r.SlowSpeedThreshold
}

// GetFastSpeedThreshold returns configured value or default
func (r *RuntimeConfig) GetFastSpeedThreshold() float64 {
	if r == nil || r.FastSpeedThreshold <= 0 {
		return FastSpeedThreshold
	}
	return r.FastSpeedThreshold
}

// GetRegionPreference returns the ordered source preference for the configured region
func (r *RuntimeConfig) GetRegionPreference() []string {
	if r == nil || r.Region == "" || r.Regions == nil {
		return nil
	}
	return r.Regions[r.Region]
}
