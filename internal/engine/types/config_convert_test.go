package types

import (
	"testing"
	"time"

	"github.com/surge-downloader/surgemirror/internal/config"
)

// TestConvertRuntimeConfig_AllFieldsCopied verifies that every field in
// config.RuntimeConfig is mapped to types.RuntimeConfig.
func TestConvertRuntimeConfig_AllFieldsCopied(t *testing.T) {
	input := &config.RuntimeConfig{
		MinConcurrency:      2,
		MaxConcurrency:      12,
		MinChunkSize:        128 * KB,
		MaxChunkSize:        4 * MB,
		SmallFileThreshold:  1 * MB,
		WorkerBufferSize:    64 * KB,
		UserAgent:           "TestAgent/1.0",
		ProxyURL:            "http://127.0.0.1:8080",
		SkipTLSVerification: true,
		ChunkTimeout:        20 * time.Second,
		MaxRetriesPerURL:    5,
		RetryBaseDelay:      300 * time.Millisecond,
		MaxBackoff:          10 * time.Second,
		CongestionThreshold: 0.5,
		CongestionInterval:  2 * time.Second,
		AdaptationInterval:  4 * time.Second,
		SlowSpeedThreshold:  100 * KB,
		FastSpeedThreshold:  10 * MB,
		Region:              "eu",
		Regions:             map[string][]string{"eu": {"github", "jsdelivr"}},
	}

	result := ConvertRuntimeConfig(input)
	if result == nil {
		t.Fatal("ConvertRuntimeConfig returned nil")
	}

	if result.MinConcurrency != 2 || result.MaxConcurrency != 12 {
		t.Errorf("concurrency bounds: got %d..%d", result.MinConcurrency, result.MaxConcurrency)
	}
	if result.MinChunkSize != input.MinChunkSize || result.MaxChunkSize != input.MaxChunkSize {
		t.Errorf("chunk bounds: got %d..%d", result.MinChunkSize, result.MaxChunkSize)
	}
	if result.SmallFileThreshold != input.SmallFileThreshold {
		t.Errorf("SmallFileThreshold: got %d, want %d", result.SmallFileThreshold, input.SmallFileThreshold)
	}
	if result.WorkerBufferSize != input.WorkerBufferSize {
		t.Errorf("WorkerBufferSize: got %d, want %d", result.WorkerBufferSize, input.WorkerBufferSize)
	}
	if result.UserAgent != input.UserAgent {
		t.Errorf("UserAgent: got %q, want %q", result.UserAgent, input.UserAgent)
	}
	if result.ProxyURL != input.ProxyURL {
		t.Errorf("ProxyURL: got %q, want %q", result.ProxyURL, input.ProxyURL)
	}
	if !result.SkipTLSVerification {
		t.Error("SkipTLSVerification not copied")
	}
	if result.ChunkTimeout != input.ChunkTimeout {
		t.Errorf("ChunkTimeout: got %v, want %v", result.ChunkTimeout, input.ChunkTimeout)
	}
	if result.MaxRetriesPerURL != 5 {
		t.Errorf("MaxRetriesPerURL: got %d, want 5", result.MaxRetriesPerURL)
	}
	if result.RetryBaseDelay != input.RetryBaseDelay || result.MaxBackoff != input.MaxBackoff {
		t.Errorf("backoff: got %v/%v", result.RetryBaseDelay, result.MaxBackoff)
	}
	if result.CongestionThreshold != 0.5 {
		t.Errorf("CongestionThreshold: got %f", result.CongestionThreshold)
	}
	if result.CongestionInterval != input.CongestionInterval || result.AdaptationInterval != input.AdaptationInterval {
		t.Errorf("intervals: got %v/%v", result.CongestionInterval, result.AdaptationInterval)
	}
	if result.SlowSpeedThreshold != input.SlowSpeedThreshold || result.FastSpeedThreshold != input.FastSpeedThreshold {
		t.Error("speed thresholds not copied")
	}
	if got := result.GetRegionPreference(); len(got) != 2 || got[0] != "github" {
		t.Errorf("region preference: got %v", got)
	}

	// the copy must not alias the caller's slices
	input.Regions["eu"][0] = "changed"
	if result.Regions["eu"][0] != "github" {
		t.Error("Regions aliases the input map")
	}
}

func TestConvertRuntimeConfig_Nil(t *testing.T) {
	if ConvertRuntimeConfig(nil) != nil {
		t.Error("nil input should give nil output")
	}
}

func TestRuntimeConfig_Defaults(t *testing.T) {
	var rc *RuntimeConfig

	if rc.GetMinConcurrency() != MinConcurrency || rc.GetMaxConcurrency() != MaxConcurrency {
		t.Error("nil config should use concurrency defaults")
	}
	if rc.GetMinChunkSize() != MinChunk || rc.GetMaxChunkSize() != MaxChunk {
		t.Error("nil config should use chunk defaults")
	}
	if rc.GetMaxBackoff() != MaxBackoff {
		t.Error("nil config should use the backoff cap")
	}

	rc = &RuntimeConfig{MaxBackoff: time.Hour, MinConcurrency: 8, MaxConcurrency: 2}
	if rc.GetMaxBackoff() != MaxBackoff {
		t.Errorf("backoff above the hard cap should be clamped, got %v", rc.GetMaxBackoff())
	}
	if rc.GetMaxConcurrency() != 8 {
		t.Errorf("max concurrency below min should be lifted to min, got %d", rc.GetMaxConcurrency())
	}
}
