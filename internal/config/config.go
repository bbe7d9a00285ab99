package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete recorder configuration
type Config struct {
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Collector CollectorConfig `mapstructure:"collector" yaml:"collector"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Paths     PathsConfig     `mapstructure:"paths" yaml:"paths"`
}

// CaptureConfig controls buffering and the flush policy
type CaptureConfig struct {
	// CountThreshold flushes the buffer once it holds this many events (default: 10)
	CountThreshold int `mapstructure:"count_threshold" yaml:"count_threshold"`
	// FlushIntervalMs flushes the buffer once this much time has passed since
	// the last flush attempt (default: 2000)
	FlushIntervalMs int `mapstructure:"flush_interval_ms" yaml:"flush_interval_ms"`
	// MaxBufferedEvents caps the buffer while the collector is unreachable.
	// New captures beyond the cap are rejected; 0 disables the cap (default: 10000)
	MaxBufferedEvents int `mapstructure:"max_buffered_events" yaml:"max_buffered_events"`
}

// CollectorConfig points at the remote collector
type CollectorConfig struct {
	// BaseURL is the collector root (default: "http://localhost:8000")
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// ServerConfig controls the local control server used by `provenance serve`
type ServerConfig struct {
	// Addr is the listen address (default: "127.0.0.1:8765")
	Addr string `mapstructure:"addr" yaml:"addr"`
	// AllowedOrigins restricts which page origins may open the capture socket.
	// Empty allows same-host and loopback pages only.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
}

// PathsConfig controls where local state is kept
type PathsConfig struct {
	// StateDir holds the log file, the lock file and the last session id.
	// If empty, defaults to <config dir>/state. Supports ~ expansion.
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			CountThreshold:    10,
			FlushIntervalMs:   2000,
			MaxBufferedEvents: 10000,
		},
		Collector: CollectorConfig{
			BaseURL: "http://localhost:8000",
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8765",
			AllowedOrigins: []string{},
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
		Paths: PathsConfig{
			StateDir: "", // Empty means <config dir>/state
		},
	}
}

// FlushInterval returns the flush interval as a time.Duration
func (c *CaptureConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// ResolveStateDir returns the directory used for local state.
func (p *PathsConfig) ResolveStateDir() string {
	if p.StateDir == "" {
		return filepath.Join(ConfigDir(), "state")
	}

	path := p.StateDir
	if path == "~" || (len(path) > 1 && path[:2] == "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return path
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("capture.count_threshold", defaults.Capture.CountThreshold)
	viper.SetDefault("capture.flush_interval_ms", defaults.Capture.FlushIntervalMs)
	viper.SetDefault("capture.max_buffered_events", defaults.Capture.MaxBufferedEvents)

	viper.SetDefault("collector.base_url", defaults.Collector.BaseURL)

	viper.SetDefault("server.addr", defaults.Server.Addr)
	viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)

	viper.SetDefault("paths.state_dir", defaults.Paths.StateDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load against an explicit viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Render returns cfg as a YAML document suitable for a config file.
func Render(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	header := "# provenance configuration\n# Environment overrides use the PROVENANCE_ prefix, e.g. PROVENANCE_COLLECTOR_BASE_URL\n\n"
	return append([]byte(header), data...), nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "provenance")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".provenance"
	}
	return filepath.Join(home, ".config", "provenance")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
