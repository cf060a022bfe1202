// Package config loads application configuration from file and
// environment with viper. It holds plain data only; wiring the values
// into the engine, logger and server happens in the command layer.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sublight/sublight/internal/provider"
	"github.com/sublight/sublight/internal/refiner"
)

// Config holds all application configuration.
type Config struct {
	Download DownloadConfig `mapstructure:"download"`
	Cache    CacheConfig    `mapstructure:"cache"`
	History  HistoryConfig  `mapstructure:"history"`
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Notify   NotifyConfig   `mapstructure:"notify"`

	// Providers and Refiners carry per-name settings keyed by registry
	// name, e.g. provider.opensubtitles.api_key.
	Providers map[string]provider.Settings `mapstructure:"provider"`
	Refiners  map[string]refiner.Settings  `mapstructure:"refiner"`
}

// DownloadConfig holds the defaults for an acquisition run.
type DownloadConfig struct {
	Languages []string `mapstructure:"languages"`
	// Providers is the ordered provider list. Empty means every
	// registered provider in alphabetical order.
	Providers       []string      `mapstructure:"providers"`
	Refiners        []string      `mapstructure:"refiners"`
	MinScore        int           `mapstructure:"min_score"`
	HearingImpaired *bool         `mapstructure:"hearing_impaired"`
	ForeignOnly     *bool         `mapstructure:"foreign_only"`
	OnlyOne         bool          `mapstructure:"only_one"`
	Age             time.Duration `mapstructure:"age"`
	MaxWorkers      int           `mapstructure:"max_workers"`
	Force           bool          `mapstructure:"force"`
	// IgnoreSubtitles lists subtitle ids to skip, bare or
	// provider-qualified ("provider:id").
	IgnoreSubtitles []string `mapstructure:"ignore_subtitles"`
	// Directory overrides where subtitles are saved. Empty saves next
	// to the video.
	Directory string `mapstructure:"directory"`
	// Definitions is a directory of YAML provider definitions loaded
	// at startup.
	Definitions string `mapstructure:"definitions"`
}

// CacheConfig holds the in-memory cache configuration.
type CacheConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	MaxItems int           `mapstructure:"max_items"`
}

// HistoryConfig holds the download history configuration. An empty
// path disables history recording.
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File enables a rotated log file sink when set.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// WatchConfig holds the periodic library scan configuration.
type WatchConfig struct {
	Directories []string      `mapstructure:"directories"`
	Interval    time.Duration `mapstructure:"interval"`
	Jitter      time.Duration `mapstructure:"jitter"`
}

// NotifyConfig holds the download notification webhook. An empty URL
// disables notifications.
type NotifyConfig struct {
	URL      string            `mapstructure:"url"`
	Method   string            `mapstructure:"method"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Headers  map[string]string `mapstructure:"headers"`
}

// Enabled reports whether a webhook endpoint is configured.
func (n *NotifyConfig) Enabled() bool {
	return n.URL != ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Download: DownloadConfig{
			Languages:  []string{"en"},
			Refiners:   []string{"hash", "metadata"},
			MaxWorkers: 8,
		},
		Cache: CacheConfig{
			TTL:      15 * time.Minute,
			MaxItems: 1000,
		},
		History: HistoryConfig{
			Path: "./data/sublight.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Watch: WatchConfig{
			Interval: time.Hour,
		},
		Notify: NotifyConfig{
			Method: "POST",
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sublight")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.config/sublight")
	}

	v.SetEnvPrefix("SUBLIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	v.SetDefault("download.languages", []string{"en"})
	v.SetDefault("download.providers", []string{})
	v.SetDefault("download.refiners", []string{"hash", "metadata"})
	v.SetDefault("download.min_score", 0)
	v.SetDefault("download.only_one", false)
	v.SetDefault("download.age", time.Duration(0))
	v.SetDefault("download.max_workers", 8)
	v.SetDefault("download.force", false)

	v.SetDefault("cache.ttl", 15*time.Minute)
	v.SetDefault("cache.max_items", 1000)

	v.SetDefault("history.path", "./data/sublight.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("watch.directories", []string{})
	v.SetDefault("watch.interval", time.Hour)
	v.SetDefault("watch.jitter", time.Duration(0))

	v.SetDefault("notify.url", "")
	v.SetDefault("notify.method", "POST")
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IgnoreSet returns the ignored subtitle ids as a set, nil when none
// are configured.
func (d *DownloadConfig) IgnoreSet() map[string]struct{} {
	if len(d.IgnoreSubtitles) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(d.IgnoreSubtitles))
	for _, id := range d.IgnoreSubtitles {
		set[id] = struct{}{}
	}
	return set
}
