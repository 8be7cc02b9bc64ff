package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultSettings(t *testing.T) {
	settings := DefaultSettings()

	if settings == nil {
		t.Fatal("DefaultSettings returned nil")
	}

	t.Run("GeneralSettings", func(t *testing.T) {
		if settings.General.DefaultDownloadDir == "" {
			t.Error("Default download directory should not be empty")
		}
		if !strings.Contains(strings.ToLower(settings.General.DefaultDownloadDir), "downloads") {
			t.Errorf("Default download dir should contain 'Downloads', got: %s", settings.General.DefaultDownloadDir)
		}
		if settings.General.LogRetentionCount <= 0 {
			t.Errorf("LogRetentionCount should be positive, got %d", settings.General.LogRetentionCount)
		}
	})

	t.Run("ConnectionSettings", func(t *testing.T) {
		c := settings.Connections
		if c.MinConcurrency <= 0 {
			t.Errorf("MinConcurrency should be positive, got: %d", c.MinConcurrency)
		}
		if c.MaxConcurrency < c.MinConcurrency {
			t.Errorf("MaxConcurrency (%d) below MinConcurrency (%d)", c.MaxConcurrency, c.MinConcurrency)
		}
	})

	t.Run("ChunkSettings", func(t *testing.T) {
		c := settings.Chunks
		if c.MinChunkSize <= 0 || c.MaxChunkSize < c.MinChunkSize {
			t.Errorf("invalid chunk bounds: min=%d max=%d", c.MinChunkSize, c.MaxChunkSize)
		}
	})

	t.Run("PerformanceSettings", func(t *testing.T) {
		p := settings.Performance
		if p.MaxBackoff > 30*time.Second {
			t.Errorf("MaxBackoff should not exceed 30s, got %v", p.MaxBackoff)
		}
		if p.CongestionThreshold <= 0 || p.CongestionThreshold > 1 {
			t.Errorf("CongestionThreshold out of range: %f", p.CongestionThreshold)
		}
		if p.SlowSpeedThreshold >= p.FastSpeedThreshold {
			t.Error("SlowSpeedThreshold should be below FastSpeedThreshold")
		}
	})
}

func TestGetSettingsPath(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	path := GetSettingsPath()

	if !strings.HasPrefix(path, GetSurgeDir()) {
		t.Errorf("Settings path should be under surge dir. Path: %s, SurgeDir: %s", path, GetSurgeDir())
	}
	if !strings.HasSuffix(path, "settings.json") {
		t.Errorf("Settings path should end with 'settings.json', got: %s", path)
	}
	if !filepath.IsAbs(path) {
		t.Errorf("Settings path should be absolute, got: %s", path)
	}
}

func TestSaveAndLoadSettings(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	original := DefaultSettings()
	original.General.CacheURL = "mem://"
	original.Connections.MaxConcurrency = 7
	original.Connections.ProxyURL = "socks5://127.0.0.1:1080"
	original.Chunks.MinChunkSize = 1 * MB
	original.Performance.RetryBaseDelay = 250 * time.Millisecond
	original.Sources.Region = "eu"
	original.Sources.MirrorTemplates = []string{"https://mirror.example/{repo}/{version}/{file}"}

	if err := SaveSettings(original); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	if _, err := os.Stat(GetSettingsPath() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away")
	}

	loaded, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}

	if loaded.General.CacheURL != "mem://" {
		t.Errorf("CacheURL mismatch: %q", loaded.General.CacheURL)
	}
	if loaded.Connections.MaxConcurrency != 7 {
		t.Errorf("MaxConcurrency mismatch: %d", loaded.Connections.MaxConcurrency)
	}
	if loaded.Connections.ProxyURL != original.Connections.ProxyURL {
		t.Errorf("ProxyURL mismatch: %q", loaded.Connections.ProxyURL)
	}
	if loaded.Chunks.MinChunkSize != 1*MB {
		t.Errorf("MinChunkSize mismatch: %d", loaded.Chunks.MinChunkSize)
	}
	if loaded.Performance.RetryBaseDelay != 250*time.Millisecond {
		t.Errorf("RetryBaseDelay mismatch: %v", loaded.Performance.RetryBaseDelay)
	}
	if loaded.Sources.Region != "eu" || len(loaded.Sources.MirrorTemplates) != 1 {
		t.Errorf("Sources mismatch: %+v", loaded.Sources)
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	settings, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings should not fail for a missing file: %v", err)
	}
	if settings.Connections.MaxConcurrency != DefaultSettings().Connections.MaxConcurrency {
		t.Error("missing file should yield defaults")
	}
}

func TestLoadSettings_CorruptedJSON(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)

	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSettings(); err == nil {
		t.Error("expected error for corrupted settings")
	}
}

func TestLoadSettings_PartialJSON(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)

	partial := `{"connections": {"max_concurrency": 3}}`
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	settings, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if settings.Connections.MaxConcurrency != 3 {
		t.Errorf("MaxConcurrency = %d, want 3", settings.Connections.MaxConcurrency)
	}
	if settings.Chunks.MaxChunkSize != 8*MB {
		t.Errorf("missing fields should keep defaults, MaxChunkSize = %d", settings.Chunks.MaxChunkSize)
	}
}

func TestToRuntimeConfig(t *testing.T) {
	s := DefaultSettings()
	s.Sources.Region = "cn"
	rc := s.ToRuntimeConfig()

	if rc.MaxConcurrency != s.Connections.MaxConcurrency {
		t.Errorf("MaxConcurrency: got %d, want %d", rc.MaxConcurrency, s.Connections.MaxConcurrency)
	}
	if rc.MinChunkSize != s.Chunks.MinChunkSize || rc.MaxChunkSize != s.Chunks.MaxChunkSize {
		t.Error("chunk bounds not copied")
	}
	if rc.CongestionThreshold != s.Performance.CongestionThreshold {
		t.Error("CongestionThreshold not copied")
	}
	if rc.Region != "cn" || len(rc.Regions["cn"]) == 0 {
		t.Errorf("region preferences not copied: %q %v", rc.Region, rc.Regions)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SURGEMIRROR_MAX_CONCURRENCY", "9")
	t.Setenv("SURGEMIRROR_RETRY_BASE_DELAY", "300ms")
	t.Setenv("SURGEMIRROR_REGION", "us")
	t.Setenv("SURGEMIRROR_ALLOWED_DOMAINS", "github.com,cdn.jsdelivr.net")

	s := DefaultSettings()
	if err := ApplyEnv(s); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if s.Connections.MaxConcurrency != 9 {
		t.Errorf("MaxConcurrency = %d, want 9", s.Connections.MaxConcurrency)
	}
	if s.Performance.RetryBaseDelay != 300*time.Millisecond {
		t.Errorf("RetryBaseDelay = %v", s.Performance.RetryBaseDelay)
	}
	if s.Sources.Region != "us" {
		t.Errorf("Region = %q", s.Sources.Region)
	}
	if len(s.Sources.AllowedDomains) != 2 {
		t.Errorf("AllowedDomains = %v", s.Sources.AllowedDomains)
	}
	// untouched values keep defaults
	if s.Connections.MinConcurrency != 1 {
		t.Errorf("MinConcurrency = %d, want default 1", s.Connections.MinConcurrency)
	}
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	t.Setenv("SURGEMIRROR_MAX_CONCURRENCY", "lots")
	if err := ApplyEnv(DefaultSettings()); err == nil {
		t.Error("expected error for non-numeric override")
	}
}

func TestGetSettingsMetadata(t *testing.T) {
	metadata := GetSettingsMetadata()

	for _, category := range CategoryOrder() {
		settings, ok := metadata[category]
		if !ok {
			t.Errorf("Missing category: %s", category)
			continue
		}
		for _, meta := range settings {
			if meta.Key == "" || meta.Label == "" || meta.Type == "" {
				t.Errorf("incomplete metadata in %s: %+v", category, meta)
			}
		}
	}
}
