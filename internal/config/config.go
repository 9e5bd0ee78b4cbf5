package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const appDirName = "ultrasonic"

// Config represents the engine configuration
type Config struct {
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Download DownloadConfig `json:"download" mapstructure:"download"`
	Shuffle  ShuffleConfig  `json:"shuffle" mapstructure:"shuffle"`
	Jukebox  JukeboxConfig  `json:"jukebox" mapstructure:"jukebox"`
	Network  NetworkConfig  `json:"network" mapstructure:"network"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
	Database DatabaseConfig `json:"database" mapstructure:"database"`
}

// ServerConfig describes the Subsonic server and how to authenticate against it
type ServerConfig struct {
	URL        string `json:"url" mapstructure:"url"`
	Username   string `json:"username" mapstructure:"username"`
	Password   string `json:"password" mapstructure:"password"` // encrypted at rest, see security.PasswordEncryptor
	ClientName string `json:"client_name" mapstructure:"client_name"`
	APIVersion string `json:"api_version" mapstructure:"api_version"`
	Offline    bool   `json:"offline" mapstructure:"offline"`
	OfflineDir string `json:"offline_dir" mapstructure:"offline_dir"`
}

// DownloadConfig contains cache and scheduling settings
type DownloadConfig struct {
	CacheDir                string `json:"cache_dir" mapstructure:"cache_dir"`
	PreloadCount            int    `json:"preload_count" mapstructure:"preload_count"`
	MaxBitRateWifi          int    `json:"max_bitrate_wifi" mapstructure:"max_bitrate_wifi"`
	MaxBitRateMobile        int    `json:"max_bitrate_mobile" mapstructure:"max_bitrate_mobile"`
	ScheduleIntervalSeconds int    `json:"schedule_interval_seconds" mapstructure:"schedule_interval_seconds"`
	CacheSizeMB             int    `json:"cache_size_mb" mapstructure:"cache_size_mb"`
	MinFreeMB               int    `json:"min_free_mb" mapstructure:"min_free_mb"`
	CoverArtSize            int    `json:"cover_art_size" mapstructure:"cover_art_size"`
}

// ShuffleConfig controls the endless random radio list
type ShuffleConfig struct {
	ListSize        int `json:"list_size" mapstructure:"list_size"`
	BufferCapacity  int `json:"buffer_capacity" mapstructure:"buffer_capacity"`
	RefillThreshold int `json:"refill_threshold" mapstructure:"refill_threshold"`
}

// JukeboxConfig contains jukebox remote control settings
type JukeboxConfig struct {
	PollIntervalSeconds int     `json:"poll_interval_seconds" mapstructure:"poll_interval_seconds"`
	GainStep            float64 `json:"gain_step" mapstructure:"gain_step"`
}

// NetworkConfig contains network-related settings
type NetworkConfig struct {
	Timeout        int `json:"timeout" mapstructure:"timeout"`
	MaxRetries     int `json:"max_retries" mapstructure:"max_retries"`
	BandwidthLimit int `json:"bandwidth_limit" mapstructure:"bandwidth_limit"` // bytes per second, 0 = unlimited
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	Output     string `json:"output" mapstructure:"output"`
	FilePath   string `json:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// MetricsConfig controls the /metrics and /healthz listener
type MetricsConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	ListenAddr string `json:"listen_addr" mapstructure:"listen_addr"`
}

// DatabaseConfig locates the sqlite file holding the queue snapshot
type DatabaseConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// ScheduleInterval returns the scheduler tick as a duration.
func (d DownloadConfig) ScheduleInterval() time.Duration {
	return time.Duration(d.ScheduleIntervalSeconds) * time.Second
}

// PollInterval returns the jukebox status poll period as a duration.
func (j JukeboxConfig) PollInterval() time.Duration {
	return time.Duration(j.PollIntervalSeconds) * time.Second
}

// Load loads configuration from file or creates default
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		configPath = GetConfigPath()
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := ensureConfigDir(configPath); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := v.WriteConfigAs(configPath); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v.SetEnvPrefix("ULTRASONIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Watch re-reads the file whenever it changes on disk and hands every valid
// revision to onChange. Invalid edits are reported through onError and
// otherwise ignored.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v, err := newViper(configPath)
	if err != nil {
		return err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Download.CacheDir == "" {
		return fmt.Errorf("cache directory cannot be empty")
	}

	if c.Download.PreloadCount < 0 {
		return fmt.Errorf("preload count cannot be negative")
	}

	if c.Download.MaxBitRateWifi < 0 || c.Download.MaxBitRateMobile < 0 {
		return fmt.Errorf("max bit-rate cannot be negative")
	}

	if c.Download.ScheduleIntervalSeconds < 1 {
		return fmt.Errorf("schedule interval must be at least 1 second")
	}

	if c.Download.CacheSizeMB < 0 || c.Download.MinFreeMB < 0 {
		return fmt.Errorf("cache limits cannot be negative")
	}

	if c.Download.CoverArtSize < 0 || c.Download.CoverArtSize > 5000 {
		return fmt.Errorf("cover art size must be between 0 and 5000 pixels")
	}

	if c.Shuffle.ListSize < 1 {
		return fmt.Errorf("shuffle list size must be at least 1")
	}

	if c.Shuffle.RefillThreshold > c.Shuffle.BufferCapacity {
		return fmt.Errorf("shuffle refill threshold cannot exceed buffer capacity")
	}

	if c.Jukebox.PollIntervalSeconds < 1 {
		return fmt.Errorf("jukebox poll interval must be at least 1 second")
	}

	if c.Jukebox.GainStep <= 0 || c.Jukebox.GainStep > 1 {
		return fmt.Errorf("jukebox gain step must be in (0, 1]")
	}

	if c.Network.Timeout < 1 {
		return fmt.Errorf("network timeout must be at least 1 second")
	}

	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if c.Network.BandwidthLimit < 0 {
		return fmt.Errorf("bandwidth limit cannot be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	validOutputs := map[string]bool{"file": true, "console": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s (must be file, console, or both)", c.Logging.Output)
	}

	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	return nil
}

// Save saves the configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.Set("server", c.Server)
	v.Set("download", c.Download)
	v.Set("shuffle", c.Shuffle)
	v.Set("jukebox", c.Jukebox)
	v.Set("network", c.Network)
	v.Set("logging", c.Logging)
	v.Set("metrics", c.Metrics)
	v.Set("database", c.Database)

	return v.WriteConfigAs(path)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "")
	v.SetDefault("server.username", "")
	v.SetDefault("server.password", "")
	v.SetDefault("server.client_name", "ultrasonic")
	v.SetDefault("server.api_version", "1.16.1")
	v.SetDefault("server.offline", false)
	v.SetDefault("server.offline_dir", "")

	v.SetDefault("download.cache_dir", GetCacheDir())
	v.SetDefault("download.preload_count", 3)
	v.SetDefault("download.max_bitrate_wifi", 0)
	v.SetDefault("download.max_bitrate_mobile", 160)
	v.SetDefault("download.schedule_interval_seconds", 5)
	v.SetDefault("download.cache_size_mb", 2000)
	v.SetDefault("download.min_free_mb", 100)
	v.SetDefault("download.cover_art_size", 1000)

	v.SetDefault("shuffle.list_size", 20)
	v.SetDefault("shuffle.buffer_capacity", 50)
	v.SetDefault("shuffle.refill_threshold", 40)

	v.SetDefault("jukebox.poll_interval_seconds", 5)
	v.SetDefault("jukebox.gain_step", 0.05)

	v.SetDefault("network.timeout", 30)
	v.SetDefault("network.max_retries", 3)
	v.SetDefault("network.bandwidth_limit", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "file")
	v.SetDefault("logging.file_path", filepath.Join(GetDataDir(), "logs", "engine.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9464")

	v.SetDefault("database.path", filepath.Join(GetDataDir(), "engine.db"))
}

// ensureConfigDir ensures the configuration directory exists
func ensureConfigDir(configPath string) error {
	dir := filepath.Dir(configPath)
	return os.MkdirAll(dir, 0755)
}

// GetConfigPath returns the default settings file location
func GetConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appDirName, "settings.json")
}

// GetDataDir returns the application data directory
func GetDataDir() string {
	return filepath.Join(xdg.DataHome, appDirName)
}

// GetCacheDir returns the default music cache directory
func GetCacheDir() string {
	return filepath.Join(xdg.CacheHome, appDirName, "music")
}
