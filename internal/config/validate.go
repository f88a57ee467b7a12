package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration issue.
type ValidationError struct {
	Field   string
	Message string
	Fatal   bool // true = can't proceed, false = will be ignored
}

var sleepStates = map[string]bool{"mem": true, "standby": true, "freeze": true, "disk": true}

// Validate checks the configuration for values xensuspend cannot work
// with. Returns a list of validation errors/warnings.
func Validate(c *Config) []ValidationError {
	var errors []ValidationError
	fatal := func(field, format string, args ...any) {
		errors = append(errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Fatal: true})
	}
	warn := func(field, format string, args ...any) {
		errors = append(errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.StorePath == "" {
		fatal("store_path", "must not be empty")
	}
	if c.XLPath == "" {
		fatal("xl_path", "must not be empty")
	}
	if c.PowerStatePath == "" {
		fatal("power_state_path", "must not be empty")
	}
	if !sleepStates[c.SleepState] {
		fatal("sleep_state", "%q is not one of mem, standby, freeze, disk", c.SleepState)
	}

	if c.SuspendTimeout <= 0 {
		fatal("suspend_timeout", "must be positive, got %s", c.SuspendTimeout)
	}
	if c.PollInterval <= 0 {
		fatal("poll_interval", "must be positive, got %s", c.PollInterval)
	} else if c.SuspendTimeout > 0 && c.PollInterval > c.SuspendTimeout {
		warn("poll_interval", "%s is longer than suspend_timeout %s; guests are polled once", c.PollInterval, c.SuspendTimeout)
	}
	if c.SettleDelay < 0 {
		fatal("settle_delay", "must not be negative, got %s", c.SettleDelay)
	}

	if c.MetricsListen != "" {
		if _, _, err := net.SplitHostPort(c.MetricsListen); err != nil {
			fatal("metrics_listen", "%q is not host:port: %v", c.MetricsListen, err)
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		fatal("log_level", "%q is not one of debug, info, warn, error", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		fatal("log_format", "%q is not text or json", c.LogFormat)
	}

	return errors
}

// HasFatal reports whether any of errors is fatal.
func HasFatal(errors []ValidationError) bool {
	for _, e := range errors {
		if e.Fatal {
			return true
		}
	}
	return false
}

// FormatValidationErrors returns human-readable error summary.
func FormatValidationErrors(errors []ValidationError) string {
	if len(errors) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Configuration problems:\n")
	for _, e := range errors {
		prefix := "Warning"
		if e.Fatal {
			prefix = "Error"
		}
		fmt.Fprintf(&b, "  %s [%s]: %s\n", prefix, e.Field, e.Message)
	}
	return b.String()
}
