package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Validation range constants.
const (
	minParallelism  = 1
	maxParallelism  = 64
	minTimeout      = 1 * time.Second
	minRunInterval  = 1 * time.Minute
	maxSourceLength = 64
)

// ErrMissingCredentials is returned by CheckCredentials when commands that
// talk to Open Humans run without a complete project configuration.
var ErrMissingCredentials = errors.New("config: missing Open Humans project credentials")

// sourceNamePattern matches a project's source slug, which becomes a URL
// path segment.
var sourceNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateOpenHumans(&cfg.OpenHumans)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateExport(&cfg.Export)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// CheckCredentials reports which of client_id, client_secret, and
// source_name are missing. Validate allows them empty so that local-only
// commands work before the project is set up.
func CheckCredentials(cfg *Config) error {
	var missing []string

	if cfg.OpenHumans.ClientID == "" {
		missing = append(missing, "client_id")
	}

	if cfg.OpenHumans.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}

	if cfg.OpenHumans.SourceName == "" {
		missing = append(missing, "source_name")
	}

	if len(missing) == 0 {
		return nil
	}

	return fmt.Errorf("%w: set %s in [open_humans] (or %s / %s)",
		ErrMissingCredentials, strings.Join(missing, ", "), EnvClientID, EnvClientSecret)
}

func validateOpenHumans(o *OpenHumansConfig) []error {
	var errs []error

	u, err := url.Parse(o.Server)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("server: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("server: must be an http or https URL, got %q", o.Server))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("server: missing host in %q", o.Server))
	}

	if o.SourceName != "" {
		if len(o.SourceName) > maxSourceLength || !sourceNamePattern.MatchString(o.SourceName) {
			errs = append(errs, fmt.Errorf(
				"source_name: must be 1-%d letters, digits, '_' or '-', got %q", maxSourceLength, o.SourceName))
		}
	}

	if strings.TrimSpace(o.Scope) == "" {
		errs = append(errs, errors.New("scope: must not be empty"))
	}

	errs = append(errs, validatePushMethod(o.PushMethod)...)

	return errs
}

var validPushMethods = map[string]bool{
	"PUT":   true,
	"PATCH": true,
	"POST":  true,
}

func validatePushMethod(m string) []error {
	if !validPushMethods[strings.ToUpper(m)] {
		return []error{fmt.Errorf("push_method: must be one of PUT, PATCH, POST; got %q", m)}
	}

	return nil
}

func validateStorage(s *StorageConfig) []error {
	if s.DBPath == "" {
		return []error{errors.New("db_path: must not be empty")}
	}

	return nil
}

func validateExport(e *ExportConfig) []error {
	var errs []error

	if e.Parallelism < minParallelism || e.Parallelism > maxParallelism {
		errs = append(errs, fmt.Errorf("parallelism: must be between %d and %d, got %d",
			minParallelism, maxParallelism, e.Parallelism))
	}

	errs = append(errs, validateDurationMin("run_interval", e.RunInterval, minRunInterval)...)
	errs = append(errs, validateDurationMin("token_offset", e.TokenOffset, 0)...)

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	return validateDurationMin("timeout", n.Timeout, minTimeout)
}
