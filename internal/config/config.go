// Package config assembles samply's configuration from defaults, the config
// file and SAMPLY_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/oran3030/samply/internal/analysis"
	"github.com/oran3030/samply/internal/cache"
	"github.com/oran3030/samply/internal/samplerr"
)

// AppName is used for config, cache and log locations.
const AppName = "samply"

// LogConfig controls logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"SAMPLY_LOG_LEVEL"`

	// File, when set, receives a copy of the log.
	File string `yaml:"file" env:"SAMPLY_LOG_FILE"`
}

// Config is the complete samply configuration.
type Config struct {
	Analysis analysis.Config `yaml:"analysis"`
	Cache    cache.Config    `yaml:"cache"`
	Log      LogConfig       `yaml:"log"`
}

// DefaultConfig returns the built-in configuration. The cache lives in the
// user cache directory when one can be determined, otherwise in memory.
func DefaultConfig() Config {
	cfg := Config{
		Analysis: analysis.DefaultConfig(),
		Cache:    cache.DefaultConfig(),
		Log:      LogConfig{Level: "info"},
	}
	if dir, err := DefaultCacheDir(); err == nil {
		cfg.Cache.Dir = dir
	}
	return cfg
}

// DefaultCacheDir returns the per-user directory for cached samples.
func DefaultCacheDir() (string, error) {
	dir, err := gap.NewScope(gap.User, AppName).CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "samples"), nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("%w: cache: %v", samplerr.ErrInvalidConfig, err)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log: %v", samplerr.ErrInvalidConfig, err)
	}
	return nil
}

// SetDefaults registers the built-in values with v so they show up in
// v.AllSettings and generated config files.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("analysis.peak_threshold", d.Analysis.PeakThreshold)
	v.SetDefault("analysis.dominant_threshold", d.Analysis.DominantThreshold)
	v.SetDefault("analysis.waveform_resolution", d.Analysis.WaveformResolution)
	v.SetDefault("analysis.max_transform_size", d.Analysis.MaxTransformSize)
	v.SetDefault("analysis.rules.high_frequency_centroid_hz", d.Analysis.Rules.HighFrequencyCentroidHz)
	v.SetDefault("analysis.rules.kick_rms", d.Analysis.Rules.KickRMS)

	v.SetDefault("cache.max_size", humanize.IBytes(d.Cache.MaxSize))
	v.SetDefault("cache.max_age", d.Cache.MaxAge.String())
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval.String())
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.compression_level", d.Cache.CompressionLevel)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
}

// LoadConfigFromViper overlays every key set in v on top of DefaultConfig.
// The result is not validated.
func LoadConfigFromViper(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()

	// Analysis settings
	if v.IsSet("analysis.peak_threshold") {
		cfg.Analysis.PeakThreshold = v.GetFloat64("analysis.peak_threshold")
	}
	if v.IsSet("analysis.dominant_threshold") {
		cfg.Analysis.DominantThreshold = v.GetFloat64("analysis.dominant_threshold")
	}
	if v.IsSet("analysis.waveform_resolution") {
		cfg.Analysis.WaveformResolution = v.GetInt("analysis.waveform_resolution")
	}
	if v.IsSet("analysis.max_transform_size") {
		cfg.Analysis.MaxTransformSize = v.GetInt("analysis.max_transform_size")
	}
	if v.IsSet("analysis.rules.high_frequency_centroid_hz") {
		cfg.Analysis.Rules.HighFrequencyCentroidHz = v.GetFloat64("analysis.rules.high_frequency_centroid_hz")
	}
	if v.IsSet("analysis.rules.kick_rms") {
		cfg.Analysis.Rules.KickRMS = v.GetFloat64("analysis.rules.kick_rms")
	}

	// Cache settings
	if v.IsSet("cache.max_size") {
		size, err := humanize.ParseBytes(v.GetString("cache.max_size"))
		if err != nil {
			return cfg, fmt.Errorf("%w: cache.max_size: %v", samplerr.ErrInvalidConfig, err)
		}
		cfg.Cache.MaxSize = size
	}
	if v.IsSet("cache.max_age") {
		cfg.Cache.MaxAge = v.GetDuration("cache.max_age")
	}
	if v.IsSet("cache.cleanup_interval") {
		cfg.Cache.CleanupInterval = v.GetDuration("cache.cleanup_interval")
	}
	if v.IsSet("cache.dir") {
		cfg.Cache.Dir = v.GetString("cache.dir")
	}
	if v.IsSet("cache.compression_level") {
		cfg.Cache.CompressionLevel = v.GetInt("cache.compression_level")
	}

	// Log settings
	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.file") {
		cfg.Log.File = v.GetString("log.file")
	}

	return cfg, nil
}

// ParseEnv applies SAMPLY_* environment variables to cfg. Variables that are
// not set leave the corresponding field untouched.
func ParseEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("%w: environment: %v", samplerr.ErrInvalidConfig, err)
	}
	return nil
}

// Load resolves the effective configuration: defaults, then the keys set in
// v, then the environment. Paths are expanded and the result is validated.
func Load(v *viper.Viper) (Config, error) {
	cfg, err := LoadConfigFromViper(v)
	if err != nil {
		return cfg, err
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.expandPaths(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Cache.Dir, &c.Log.File} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(strings.TrimSpace(*p))
		if err != nil {
			return fmt.Errorf("%w: %v", samplerr.ErrInvalidConfig, err)
		}
		*p = expanded
	}
	return nil
}
