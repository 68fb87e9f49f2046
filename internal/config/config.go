// Package config loads xsynth settings from an xsynth.toml file, XSYNTH_
// environment variables, and command-line flags using Viper.
//
// Keys:
//
//	sources          = ["."]          # files or directories to synthesize
//	db               = ".xsynth.db"   # dependency store
//	incremental      = true
//	parallel         = true
//	workers          = 0              # 0 means one per CPU
//	exclude          = ["build/**"]   # gobwas/glob patterns
//	prelude          = ""             # optional Risor script
//	read_only_output = false
//
//	[extensions]                      # source = output, without dots
//	xrb = "rb"
//
//	[watch]
//	debounce = "200ms"
//
// Extension keys are written without a leading dot because Viper splits
// keys on dots.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/viper"
)

// FileName is the config file searched for in the working directory.
const FileName = "xsynth"

type Config struct {
	Sources        []string          `mapstructure:"sources"`
	DB             string            `mapstructure:"db"`
	Incremental    bool              `mapstructure:"incremental"`
	Parallel       bool              `mapstructure:"parallel"`
	Workers        int               `mapstructure:"workers"`
	Exclude        []string          `mapstructure:"exclude"`
	Prelude        string            `mapstructure:"prelude"`
	ReadOnlyOutput bool              `mapstructure:"read_only_output"`
	Extensions     map[string]string `mapstructure:"extensions"`
	Watch          WatchConfig       `mapstructure:"watch"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// New returns a Viper instance with defaults and XSYNTH_ environment
// binding (XSYNTH_DB, XSYNTH_WATCH_DEBOUNCE, ...).
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("sources", []string{"."})
	v.SetDefault("db", ".xsynth.db")
	v.SetDefault("incremental", true)
	v.SetDefault("parallel", true)
	v.SetDefault("workers", 0)
	v.SetDefault("exclude", []string{})
	v.SetDefault("prelude", "")
	v.SetDefault("read_only_output", false)
	v.SetDefault("extensions", map[string]string{})
	v.SetDefault("watch.debounce", 200*time.Millisecond)

	v.SetEnvPrefix("XSYNTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file into v and decodes the result. An explicit
// path must exist; without one, xsynth.toml in the working directory is
// used when present.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("toml")
		v.SetConfigName(FileName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}
	return Decode(v)
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = []string{"."}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks values Viper cannot type-check.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DB) == "" {
		return errors.New("db must not be empty")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must be >= 0, got %s", c.Watch.Debounce)
	}
	for _, p := range c.Exclude {
		if _, err := glob.Compile(p, '/'); err != nil {
			return fmt.Errorf("exclude pattern %q: %w", p, err)
		}
	}
	for src, dst := range c.Extensions {
		if strings.Trim(src, ".") == "" || strings.Trim(dst, ".") == "" {
			return fmt.Errorf("extension mapping %q = %q must not be empty", src, dst)
		}
		if strings.Trim(src, ".") == strings.Trim(dst, ".") {
			return fmt.Errorf("extension %q maps onto itself", src)
		}
	}
	return nil
}
