// Package config loads ruralcast settings from ruralcast.yaml and RURALCAST_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ruralcast/ruralcast/internal/core"
)

// EnvPrefix is prepended to every environment override, e.g.
// RURALCAST_STORE_PASSPHRASE.
const EnvPrefix = "RURALCAST"

// Config represents the full ruralcast configuration
type Config struct {
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Bandwidth  BandwidthConfig  `mapstructure:"bandwidth" yaml:"bandwidth"`
	Probe      ProbeConfig      `mapstructure:"probe" yaml:"probe"`
	Schedule   ScheduleConfig   `mapstructure:"schedule" yaml:"schedule"`
	Suggestion SuggestionConfig `mapstructure:"suggestion" yaml:"suggestion"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Content    ContentConfig    `mapstructure:"content" yaml:"content"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// StoreConfig locates the device database
type StoreConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir"`
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase"` // empty = unencrypted
}

// BandwidthConfig holds the classifier thresholds in Mbps
type BandwidthConfig struct {
	HighThresholdMbps   float64 `mapstructure:"high_threshold_mbps" yaml:"high_threshold_mbps"`
	MediumThresholdMbps float64 `mapstructure:"medium_threshold_mbps" yaml:"medium_threshold_mbps"`
}

// ProbeConfig configures the speed sampler
type ProbeConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	PayloadBytes     int64         `mapstructure:"payload_bytes" yaml:"payload_bytes"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	HintClass        string        `mapstructure:"hint_class" yaml:"hint_class"`
	HintDownlinkMbps float64       `mapstructure:"hint_downlink_mbps" yaml:"hint_downlink_mbps"` // 0 = unset
	HintRTTMs        float64       `mapstructure:"hint_rtt_ms" yaml:"hint_rtt_ms"`
}

// ScheduleConfig holds the reevaluation periods
type ScheduleConfig struct {
	CheckInterval     time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
	RemeasureInterval time.Duration `mapstructure:"remeasure_interval" yaml:"remeasure_interval"`
}

// SuggestionConfig controls mode suggestions
type SuggestionConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	InAuto  bool          `mapstructure:"in_auto" yaml:"in_auto"`
}

// CacheConfig controls the offline cache
type CacheConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
}

// ContentConfig points at the remote content backend and names the default
// content source
type ContentConfig struct {
	APIURL  string        `mapstructure:"api_url" yaml:"api_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Source  string        `mapstructure:"source" yaml:"source"` // remote or local
}

// ServerConfig contains backend server settings
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig selects the zap configuration
type LogConfig struct {
	Mode  string `mapstructure:"mode" yaml:"mode"`
	Level string `mapstructure:"level" yaml:"level"`
}

// DefaultDir returns ~/.ruralcast, or .ruralcast when no home is available.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ruralcast"
	}
	return filepath.Join(home, ".ruralcast")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.dir", DefaultDir())
	v.SetDefault("store.passphrase", "")
	v.SetDefault("bandwidth.high_threshold_mbps", core.DefaultHighThresholdMbps)
	v.SetDefault("bandwidth.medium_threshold_mbps", core.DefaultMediumThresholdMbps)
	v.SetDefault("probe.url", "http://localhost:3000/api/speed-test")
	v.SetDefault("probe.payload_bytes", core.DefaultProbePayloadBytes)
	v.SetDefault("probe.timeout", core.DefaultProbeTimeout)
	v.SetDefault("probe.hint_class", "")
	v.SetDefault("probe.hint_downlink_mbps", 0.0)
	v.SetDefault("probe.hint_rtt_ms", 0.0)
	v.SetDefault("schedule.check_interval", core.DefaultCheckInterval)
	v.SetDefault("schedule.remeasure_interval", core.DefaultRemeasureInterval)
	v.SetDefault("suggestion.timeout", core.DefaultSuggestionTimeout)
	v.SetDefault("suggestion.in_auto", false)
	v.SetDefault("cache.stale_after", core.DefaultStaleAfter)
	v.SetDefault("content.api_url", "http://localhost:3000")
	v.SetDefault("content.timeout", 20*time.Second)
	v.SetDefault("content.source", "remote")
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("log.mode", "dev")
	v.SetDefault("log.level", "info")
}

// Load reads configuration. An explicit path must exist; otherwise
// ruralcast.yaml is searched for in the default store dir and the working
// directory, and a missing file means defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ruralcast")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults normalizes values viper leaves raw
func applyDefaults(cfg *Config) {
	if strings.HasPrefix(cfg.Store.Dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Store.Dir = filepath.Join(home, cfg.Store.Dir[2:])
		}
	}
	cfg.Probe.HintClass = strings.ToLower(strings.TrimSpace(cfg.Probe.HintClass))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Store.Dir == "" {
		return fmt.Errorf("store dir is required")
	}

	if c.Bandwidth.MediumThresholdMbps <= core.FallbackSpeedMbps {
		return fmt.Errorf("medium threshold must exceed %v Mbps, got %v",
			core.FallbackSpeedMbps, c.Bandwidth.MediumThresholdMbps)
	}
	if c.Bandwidth.HighThresholdMbps <= c.Bandwidth.MediumThresholdMbps {
		return fmt.Errorf("high threshold (%v) must exceed medium threshold (%v)",
			c.Bandwidth.HighThresholdMbps, c.Bandwidth.MediumThresholdMbps)
	}

	if c.Probe.URL == "" {
		return fmt.Errorf("probe url is required")
	}
	if c.Probe.PayloadBytes <= 0 {
		return fmt.Errorf("probe payload_bytes must be positive")
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe timeout must be positive")
	}
	if c.Probe.HintClass != "" && !core.KnownHintClass(c.Probe.HintClass) {
		return fmt.Errorf("invalid hint_class: %s", c.Probe.HintClass)
	}
	if c.Probe.HintDownlinkMbps < 0 || c.Probe.HintRTTMs < 0 {
		return fmt.Errorf("probe hints must not be negative")
	}

	if c.Schedule.CheckInterval <= 0 || c.Schedule.RemeasureInterval <= 0 {
		return fmt.Errorf("schedule intervals must be positive")
	}
	if c.Suggestion.Timeout <= 0 {
		return fmt.Errorf("suggestion timeout must be positive")
	}
	if c.Cache.StaleAfter <= 0 {
		return fmt.Errorf("cache stale_after must be positive")
	}
	if c.Content.Source == "" {
		return fmt.Errorf("content source is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	return nil
}

// Hint builds the configured connection hint. A zero hint means the sampler
// always probes.
func (p ProbeConfig) Hint() core.StaticHint {
	h := core.StaticHint{Class: p.HintClass}
	if p.HintDownlinkMbps > 0 {
		d := p.HintDownlinkMbps
		h.DownlinkMbps = &d
	}
	if p.HintRTTMs > 0 {
		r := p.HintRTTMs
		h.RTTMs = &r
	}
	return h
}
