package types

import (
	"strings"
	"time"
)

// CandidateURL is one mirror/CDN location for the requested file plus its static metadata
type CandidateURL struct {
	URL              string        `json:"url" yaml:"url"`
	SourceName       string        `json:"source" yaml:"source"`
	Priority         int           `json:"priority" yaml:"priority"`                   // Lower is better
	KnownSize        int64         `json:"known_size,omitempty" yaml:"size,omitempty"` // 0 = unknown
	SupportsRanges   bool          `json:"supports_ranges" yaml:"ranges"`
	EstimatedLatency time.Duration `json:"estimated_latency,omitempty" yaml:"latency,omitempty"`
}

// FileIdentity names a file independently of where it is hosted:
// a repository ("owner/name"), a version (tag) and a file within that release.
type FileIdentity struct {
	Repository string `json:"repository" validate:"required,repo"`
	Version    string `json:"version,omitempty" validate:"omitempty,max=128,version"`
	File       string `json:"file" validate:"required,max=255,filename"`
}

// Owner returns the part of Repository before the slash
func (f FileIdentity) Owner() string {
	owner, _, _ := strings.Cut(f.Repository, "/")
	return owner
}

// Name returns the part of Repository after the slash
func (f FileIdentity) Name() string {
	_, name, _ := strings.Cut(f.Repository, "/")
	return name
}

// Latest reports whether the identity asks for the newest release
func (f FileIdentity) Latest() bool {
	return f.Version == "" || strings.EqualFold(f.Version, "latest")
}

func (f FileIdentity) String() string {
	v := f.Version
	if v == "" {
		v = "latest"
	}
	return f.Repository + "@" + v + ":" + f.File
}

// ChunkDescriptor is a byte range of the target file. End is inclusive.
type ChunkDescriptor struct {
	Index int   `json:"index"`
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Length returns the number of bytes covered by the chunk
func (c ChunkDescriptor) Length() int64 {
	return c.End - c.Start + 1
}

// ChunkOutcome is produced by the executor for every chunk task of an attempt
type ChunkOutcome struct {
	Index        int
	BytesWritten int64
	Duration     time.Duration
	Latency      time.Duration // Time to response headers
	Success      bool
	ErrorKind    ErrorKind
	Concurrency  int   // Concurrency in effect for the attempt
	ChunkSize    int64 // Planned chunk length
}

// Speed returns the observed throughput of the chunk in bytes per second
func (o ChunkOutcome) Speed() float64 {
	if o.Duration <= 0 {
		return 0
	}
	return float64(o.BytesWritten) / o.Duration.Seconds()
}

// NetworkCondition classifies recent average throughput
type NetworkCondition int

const (
	ConditionUnknown NetworkCondition = iota
	ConditionVeryPoor
	ConditionPoor
	ConditionFair
	ConditionGood
	ConditionExcellent
)

func (c NetworkCondition) String() string {
	switch c {
	case ConditionVeryPoor:
		return "very-poor"
	case ConditionPoor:
		return "poor"
	case ConditionFair:
		return "fair"
	case ConditionGood:
		return "good"
	case ConditionExcellent:
		return "excellent"
	default:
		return "unknown"
	}
}

// Trend is the direction of recent throughput
type Trend int

const (
	TrendStable Trend = iota
	TrendImproving
	TrendDeclining
)

func (t Trend) String() string {
	switch t {
	case TrendImproving:
		return "improving"
	case TrendDeclining:
		return "declining"
	default:
		return "stable"
	}
}

// AdaptiveParams is the controller-owned tuning state. Readers always get a copy.
type AdaptiveParams struct {
	Concurrency   int
	ChunkSize     int64
	Timeout       time.Duration
	RetryAttempts int
	Condition     NetworkCondition
	Confidence    float64
	ObservedSpeed float64 // Recent average per-chunk speed, bytes/s
	Tuned         bool    // ChunkSize has been adapted from observed history
}

// CongestionMetrics is the controller's short-horizon view of the network
type CongestionMetrics struct {
	RTT                  time.Duration
	ErrorRate            float64
	BandwidthUtilization float64
}

// SourceMetrics aggregates outcomes for one source name (e.g. "github")
type SourceMetrics struct {
	Name               string        `json:"name"`
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests"`
	AvgResponseTime    time.Duration `json:"avg_response_time"`
	AvgSpeed           float64       `json:"avg_speed"`
	LastSuccess        time.Time     `json:"last_success"`
	LastFailure        time.Time     `json:"last_failure"`
	Reliability        float64       `json:"reliability"`
}

// URLMetrics aggregates outcomes for one concrete URL
type URLMetrics struct {
	SourceMetrics
	ConsecutiveFailures int `json:"consecutive_failures"`
}

// Options tunes a single download. Zero values defer to the controller.
type Options struct {
	MaxConcurrency  int
	ChunkSize       int64
	Timeout         time.Duration
	RetryAttempts   int
	VerifyIntegrity bool
	ExpectedSHA256  string
	TotalSize       int64
}

// DownloadResult describes a completed download
type DownloadResult struct {
	ID          string        `json:"id"`
	Path        string        `json:"path"`
	Size        int64         `json:"size"`
	Duration    time.Duration `json:"duration"`
	Speed       float64       `json:"speed"` // bytes per second
	URLUsed     string        `json:"url_used"`
	SourceName  string        `json:"source,omitempty"`
	Resumed     bool          `json:"resumed"`
	Chunks      int           `json:"chunks"`
	Attempts    int           `json:"attempts"`
	ContentType string        `json:"content_type,omitempty"`
	Checksum    string        `json:"sha256,omitempty"`
	FromCache   bool          `json:"from_cache,omitempty"`
}

// MetricsSnapshot is the exportable form of the router's metrics maps.
// For URL entries, Name holds the URL.
type MetricsSnapshot struct {
	Sources []SourceMetrics `json:"sources"`
	URLs    []URLMetrics    `json:"urls"`
}
