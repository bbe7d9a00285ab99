package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Capture.CountThreshold != 10 {
		t.Errorf("Capture.CountThreshold = %d, want 10", cfg.Capture.CountThreshold)
	}
	if cfg.Capture.FlushIntervalMs != 2000 {
		t.Errorf("Capture.FlushIntervalMs = %d, want 2000", cfg.Capture.FlushIntervalMs)
	}
	if cfg.Capture.MaxBufferedEvents != 10000 {
		t.Errorf("Capture.MaxBufferedEvents = %d, want 10000", cfg.Capture.MaxBufferedEvents)
	}
	if cfg.Collector.BaseURL != "http://localhost:8000" {
		t.Errorf("Collector.BaseURL = %q, want %q", cfg.Collector.BaseURL, "http://localhost:8000")
	}
	if !cfg.Logging.Enabled {
		t.Error("Logging.Enabled should be true by default")
	}

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got %v", ValidationErrors(errs))
	}
}

func TestCaptureConfig_FlushInterval(t *testing.T) {
	tests := []struct {
		ms       int
		expected time.Duration
	}{
		{2000, 2 * time.Second},
		{50, 50 * time.Millisecond},
		{0, 0},
	}

	for _, tt := range tests {
		cfg := CaptureConfig{FlushIntervalMs: tt.ms}
		if got := cfg.FlushInterval(); got != tt.expected {
			t.Errorf("FlushInterval() with %dms = %v, want %v", tt.ms, got, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero count threshold", func(c *Config) { c.Capture.CountThreshold = 0 }, "capture.count_threshold"},
		{"tiny flush interval", func(c *Config) { c.Capture.FlushIntervalMs = 1 }, "capture.flush_interval_ms"},
		{"negative cap", func(c *Config) { c.Capture.MaxBufferedEvents = -1 }, "capture.max_buffered_events"},
		{"cap below threshold", func(c *Config) { c.Capture.MaxBufferedEvents = 5 }, "capture.max_buffered_events"},
		{"relative collector url", func(c *Config) { c.Collector.BaseURL = "localhost:8000" }, "collector.base_url"},
		{"ftp collector url", func(c *Config) { c.Collector.BaseURL = "ftp://example.com" }, "collector.base_url"},
		{"empty server addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() returned %d errors, want 1: %v", len(errs), errs)
			}
			if errs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestValidate_DisabledCapIsValid(t *testing.T) {
	cfg := Default()
	cfg.Capture.MaxBufferedEvents = 0
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("MaxBufferedEvents=0 should be valid, got %v", errs)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	single := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
	if single.Error() != "a: bad (got: 1)" {
		t.Errorf("single Error() = %q", single.Error())
	}

	multi := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	if !strings.HasPrefix(multi.Error(), "2 validation errors:") {
		t.Errorf("multi Error() = %q", multi.Error())
	}
}

func TestLoadFrom(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	yamlConfig := `
capture:
  count_threshold: 25
  flush_interval_ms: 500
  max_buffered_events: 1000
collector:
  base_url: https://collector.example.com
server:
  addr: 127.0.0.1:9000
logging:
  enabled: false
  level: debug
`
	if err := v.ReadConfig(strings.NewReader(yamlConfig)); err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Capture.CountThreshold != 25 {
		t.Errorf("CountThreshold = %d, want 25", cfg.Capture.CountThreshold)
	}
	if cfg.Capture.FlushInterval() != 500*time.Millisecond {
		t.Errorf("FlushInterval = %v, want 500ms", cfg.Capture.FlushInterval())
	}
	if cfg.Collector.BaseURL != "https://collector.example.com" {
		t.Errorf("BaseURL = %q", cfg.Collector.BaseURL)
	}
	if cfg.Logging.Enabled {
		t.Error("Logging.Enabled should be false")
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	v := viper.New()
	v.Set("capture.count_threshold", 0)
	v.Set("capture.flush_interval_ms", 2000)
	v.Set("collector.base_url", "http://localhost:8000")
	v.Set("server.addr", ":1")

	_, err := LoadFrom(v)
	if err == nil {
		t.Fatal("LoadFrom should fail validation")
	}
	if _, ok := err.(ValidationErrors); !ok {
		t.Errorf("error type = %T, want ValidationErrors", err)
	}
}

func TestRender_LoadsBackToDefaults(t *testing.T) {
	data, err := Render(Default())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		t.Fatalf("rendered config is not valid yaml: %v", err)
	}

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom rendered config failed: %v", err)
	}
	if cfg.Capture != Default().Capture {
		t.Errorf("Capture = %+v, want %+v", cfg.Capture, Default().Capture)
	}
	if cfg.Collector != Default().Collector {
		t.Errorf("Collector = %+v, want %+v", cfg.Collector, Default().Collector)
	}
}

func TestConfigDir_XDG(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	if got := ConfigDir(); got != filepath.Join(xdg, "provenance") {
		t.Errorf("ConfigDir() = %q", got)
	}
	if got := ConfigFile(); got != filepath.Join(xdg, "provenance", "config.yaml") {
		t.Errorf("ConfigFile() = %q", got)
	}

	paths := PathsConfig{}
	if got := paths.ResolveStateDir(); got != filepath.Join(xdg, "provenance", "state") {
		t.Errorf("ResolveStateDir() = %q", got)
	}

	explicit := PathsConfig{StateDir: "/var/lib/provenance"}
	if got := explicit.ResolveStateDir(); got != "/var/lib/provenance" {
		t.Errorf("ResolveStateDir() = %q", got)
	}
}
