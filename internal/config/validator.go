package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "capture.count_threshold")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateCapture()...)
	errors = append(errors, c.validateCollector()...)
	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateCapture() []ValidationError {
	var errors []ValidationError

	if c.Capture.CountThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "capture.count_threshold",
			Value:   c.Capture.CountThreshold,
			Message: "must be at least 1",
		})
	}

	const minFlushInterval = 10 // 10ms minimum
	if c.Capture.FlushIntervalMs < minFlushInterval {
		errors = append(errors, ValidationError{
			Field:   "capture.flush_interval_ms",
			Value:   c.Capture.FlushIntervalMs,
			Message: fmt.Sprintf("must be at least %dms", minFlushInterval),
		})
	}

	if c.Capture.MaxBufferedEvents < 0 {
		errors = append(errors, ValidationError{
			Field:   "capture.max_buffered_events",
			Value:   c.Capture.MaxBufferedEvents,
			Message: "must be non-negative (0 disables the cap)",
		})
	} else if c.Capture.MaxBufferedEvents > 0 && c.Capture.MaxBufferedEvents < c.Capture.CountThreshold {
		errors = append(errors, ValidationError{
			Field:   "capture.max_buffered_events",
			Value:   c.Capture.MaxBufferedEvents,
			Message: "must not be smaller than capture.count_threshold",
		})
	}

	return errors
}

func (c *Config) validateCollector() []ValidationError {
	var errors []ValidationError

	u, err := url.Parse(c.Collector.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "collector.base_url",
			Value:   c.Collector.BaseURL,
			Message: "must be an absolute http or https URL",
		})
	}

	return errors
}

func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if c.Server.Addr == "" {
		errors = append(errors, ValidationError{
			Field:   "server.addr",
			Value:   c.Server.Addr,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
