// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the per-site scraper configuration, loaded once and immutable for
// the lifetime of a run.
type Config struct {
	Key       string              `mapstructure:"key"`
	Country   string              `mapstructure:"country"`
	BaseURL   string              `mapstructure:"base_url"`
	Selectors map[string][]string `mapstructure:"selectors"`
	Run       RunConfig           `mapstructure:"run"`
}

// RunConfig tunes the orchestration pipeline.
type RunConfig struct {
	NavTimeout      time.Duration `mapstructure:"nav_timeout"`
	ReadyTimeout    time.Duration `mapstructure:"ready_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ReportInterval  time.Duration `mapstructure:"report_interval"`
	ChannelBuffer   int           `mapstructure:"channel_buffer"`
	WriteAttempts   int           `mapstructure:"write_attempts"`
	WriteRetryDelay time.Duration `mapstructure:"write_retry_delay"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
	StatusAddr      string        `mapstructure:"status_addr"`
}

// Load reads config.json from configDir, applying SAVAGE_* environment
// overrides and defaults for the run tuning knobs.
func Load(configDir string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SAVAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigFile(filepath.Join(configDir, "config.json"))
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("key", "default")
	v.SetDefault("run.nav_timeout", 30*time.Second)
	v.SetDefault("run.ready_timeout", 10*time.Second)
	v.SetDefault("run.poll_interval", 250*time.Millisecond)
	v.SetDefault("run.report_interval", 10*time.Second)
	v.SetDefault("run.channel_buffer", 256)
	v.SetDefault("run.write_attempts", 3)
	v.SetDefault("run.write_retry_delay", 500*time.Millisecond)
	v.SetDefault("run.lock_timeout", 5*time.Second)
	v.SetDefault("run.status_addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Run.NavTimeout <= 0 {
		return fmt.Errorf("run.nav_timeout must be > 0")
	}
	if c.Run.ReadyTimeout <= 0 {
		return fmt.Errorf("run.ready_timeout must be > 0")
	}
	if c.Run.ChannelBuffer <= 0 {
		return fmt.Errorf("run.channel_buffer must be > 0")
	}
	if c.Run.WriteAttempts <= 0 {
		return fmt.Errorf("run.write_attempts must be > 0")
	}
	return nil
}

// RequireSelectorGroups verifies every named group exists and is non-empty.
// A missing group is a fatal configuration error raised before any worker
// starts.
func (c Config) RequireSelectorGroups(names []string) error {
	var missing []string
	for _, name := range names {
		if len(c.Selectors[name]) == 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required selector groups: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Group returns the ordered fallback selector list for a group, or nil when
// the group is not configured.
func (c Config) Group(name string) []string {
	return c.Selectors[name]
}
