// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Connection configuration loaded from TOML with environment overrides.

package control

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvDisplay    = "WAYLAND_DISPLAY"
	EnvRuntimeDir = "XDG_RUNTIME_DIR"
	EnvLogLevel   = "HIOLOAD_WL_LOG_LEVEL"
)

// Config holds connection and ambient settings.
type Config struct {
	// Display is a socket name relative to RuntimeDir or an absolute path.
	Display    string `toml:"display"`
	RuntimeDir string `toml:"runtime_dir"`

	MaxMessageSize int `toml:"max_message_size"`
	ReadBufferSize int `toml:"read_buffer_size"`

	// PollInterval bounds each poll while a context-aware dispatch waits,
	// so cancellation is observed without a wakeup pipe.
	PollInterval time.Duration `toml:"poll_interval"`

	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	Level       string         `toml:"level"`  // debug, info, warn, error
	Format      string         `toml:"format"` // console or json
	Outputs     []string       `toml:"outputs"`
	Development bool           `toml:"development"`
	Rotation    RotationConfig `toml:"rotation"`
}

// RotationConfig controls rotation of file outputs.
type RotationConfig struct {
	Enable     bool `toml:"enable"`
	MaxSizeMB  int  `toml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days"`
	Compress   bool `toml:"compress"`
}

// MetricsConfig controls the Prometheus collectors.
type MetricsConfig struct {
	Namespace string `toml:"namespace"`
	Listen    string `toml:"listen"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Display:        "wayland-0",
		MaxMessageSize: 4096,
		ReadBufferSize: 4 * 4096,
		PollInterval:   50 * time.Millisecond,
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
		Metrics: MetricsConfig{
			Namespace: "hioload_wl",
		},
	}
}

// LoadConfig decodes the TOML file at path over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvDisplay)); v != "" {
		c.Display = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRuntimeDir)); v != "" {
		c.RuntimeDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.Log.Level = v
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Display) == "" {
		errs = append(errs, errors.New("display is required"))
	}
	if c.MaxMessageSize < 8 || c.MaxMessageSize > 0xffff || c.MaxMessageSize%4 != 0 {
		errs = append(errs, fmt.Errorf("max_message_size %d must be a multiple of 4 in [8, 65535]", c.MaxMessageSize))
	}
	if c.ReadBufferSize < c.MaxMessageSize {
		errs = append(errs, fmt.Errorf("read_buffer_size %d smaller than max_message_size %d", c.ReadBufferSize, c.MaxMessageSize))
	}
	if c.PollInterval < time.Millisecond {
		errs = append(errs, fmt.Errorf("poll_interval %s must be at least 1ms", c.PollInterval))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	return errors.Join(errs...)
}
