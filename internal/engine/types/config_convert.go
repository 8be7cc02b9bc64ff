package types

import "github.com/surge-downloader/surgemirror/internal/config"

// ConvertRuntimeConfig converts the app-level RuntimeConfig to the engine-level RuntimeConfig.
func ConvertRuntimeConfig(rc *config.RuntimeConfig) *RuntimeConfig {
	if rc == nil {
		return nil
	}
	var regions map[string][]string
	if rc.Regions != nil {
		regions = make(map[string][]string, len(rc.Regions))
		for k, v := range rc.Regions {
			regions[k] = append([]string(nil), v...)
		}
	}
	return &RuntimeConfig{
		MinConcurrency:      rc.MinConcurrency,
		MaxConcurrency:      rc.MaxConcurrency,
		MinChunkSize:        rc.MinChunkSize,
		MaxChunkSize:        rc.MaxChunkSize,
		SmallFileThreshold:  rc.SmallFileThreshold,
		WorkerBufferSize:    rc.WorkerBufferSize,
		UserAgent:           rc.UserAgent,
		ProxyURL:            rc.ProxyURL,
		SkipTLSVerification: rc.SkipTLSVerification,
		ChunkTimeout:        rc.ChunkTimeout,
		MaxRetriesPerURL:    rc.MaxRetriesPerURL,
		RetryBaseDelay:      rc.RetryBaseDelay,
		MaxBackoff:          rc.MaxBackoff,
		CongestionThreshold: rc.CongestionThreshold,
		CongestionInterval:  rc.CongestionInterval,
		AdaptationInterval:  rc.AdaptationInterval,
		SlowSpeedThreshold:  rc.SlowSpeedThreshold,
		FastSpeedThreshold:  rc.FastSpeedThreshold,
		Region:              rc.Region,
		Regions:             regions,
	}
}
