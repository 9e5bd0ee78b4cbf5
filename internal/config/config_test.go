package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{URL: "https://music.example.org", Username: "alice"},
		Download: DownloadConfig{
			CacheDir:                "/tmp/music",
			PreloadCount:            3,
			MaxBitRateMobile:        160,
			ScheduleIntervalSeconds: 5,
			CacheSizeMB:             100,
			CoverArtSize:            1000,
		},
		Shuffle: ShuffleConfig{ListSize: 20, BufferCapacity: 50, RefillThreshold: 40},
		Jukebox: JukeboxConfig{PollIntervalSeconds: 5, GainStep: 0.05},
		Network: NetworkConfig{Timeout: 30, MaxRetries: 3},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			Output:    "console",
			MaxSizeMB: 10,
		},
		Database: DatabaseConfig{Path: "/tmp/engine.db"},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"empty cache dir", func(c *Config) { c.Download.CacheDir = "" }, true},
		{"negative preload", func(c *Config) { c.Download.PreloadCount = -1 }, true},
		{"zero preload allowed", func(c *Config) { c.Download.PreloadCount = 0 }, false},
		{"zero schedule interval", func(c *Config) { c.Download.ScheduleIntervalSeconds = 0 }, true},
		{"threshold above capacity", func(c *Config) { c.Shuffle.RefillThreshold = 60 }, true},
		{"zero gain step", func(c *Config) { c.Jukebox.GainStep = 0 }, true},
		{"negative bandwidth", func(c *Config) { c.Network.BandwidthLimit = -5 }, true},
		{"invalid log level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"invalid log output", func(c *Config) { c.Logging.Output = "syslog" }, true},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_WritesDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "settings.json")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("default config file not written: %v", err)
	}
	if cfg.Download.PreloadCount != 3 {
		t.Errorf("PreloadCount = %v, want 3", cfg.Download.PreloadCount)
	}
	if cfg.Shuffle.ListSize != 20 {
		t.Errorf("ListSize = %v, want 20", cfg.Shuffle.ListSize)
	}
	if cfg.Shuffle.BufferCapacity != 50 || cfg.Shuffle.RefillThreshold != 40 {
		t.Errorf("shuffle buffer = %d/%d, want 50/40", cfg.Shuffle.BufferCapacity, cfg.Shuffle.RefillThreshold)
	}
	if cfg.Jukebox.PollInterval() != 5*time.Second {
		t.Errorf("PollInterval() = %v, want 5s", cfg.Jukebox.PollInterval())
	}
	if cfg.Jukebox.GainStep != 0.05 {
		t.Errorf("GainStep = %v, want 0.05", cfg.Jukebox.GainStep)
	}
	if cfg.Download.ScheduleInterval() != 5*time.Second {
		t.Errorf("ScheduleInterval() = %v, want 5s", cfg.Download.ScheduleInterval())
	}
}

func TestSaveConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "settings.json")

	cfg := validConfig()
	cfg.Download.PreloadCount = 7
	cfg.Download.CacheDir = filepath.Join(t.TempDir(), "cache")
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Download.PreloadCount != 7 {
		t.Errorf("PreloadCount = %v, want 7", loaded.Download.PreloadCount)
	}
	if loaded.Server.URL != cfg.Server.URL {
		t.Errorf("Server.URL = %v, want %v", loaded.Server.URL, cfg.Server.URL)
	}
}
