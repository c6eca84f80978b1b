// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for datareturn. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import (
	"time"

	"github.com/tonimelisma/datareturn/internal/openhumans"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	OpenHumans OpenHumansConfig `toml:"open_humans" json:"open_humans"`
	Storage    StorageConfig    `toml:"storage" json:"storage"`
	Export     ExportConfig     `toml:"export" json:"export"`
	Logging    LoggingConfig    `toml:"logging" json:"logging"`
	Network    NetworkConfig    `toml:"network" json:"network"`
}

// OpenHumansConfig identifies the Open Humans project this installation
// returns data to. client_id and client_secret come from the project's
// OAuth2 settings page.
type OpenHumansConfig struct {
	Server       string `toml:"server" json:"server"`
	ClientID     string `toml:"client_id" json:"client_id"`
	ClientSecret string `toml:"client_secret" json:"client_secret"`
	SourceName   string `toml:"source_name" json:"source_name"`
	Scope        string `toml:"scope" json:"scope"`
	PushMethod   string `toml:"push_method" json:"push_method"`
}

// StorageConfig locates the SQLite database holding links, records, and events.
type StorageConfig struct {
	DBPath string `toml:"db_path" json:"db_path"`
}

// ExportConfig controls batch exports and the run daemon.
type ExportConfig struct {
	Parallelism int    `toml:"parallelism" json:"parallelism"`
	RunInterval string `toml:"run_interval" json:"run_interval"`
	TokenOffset string `toml:"token_offset" json:"token_offset"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level" json:"log_level"`
	LogFormat string `toml:"log_format" json:"log_format"`
}

// NetworkConfig controls the shared HTTP client.
type NetworkConfig struct {
	Timeout   string `toml:"timeout" json:"timeout"`
	UserAgent string `toml:"user_agent" json:"user_agent"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	DBPath     *string // --db flag
}

// Service converts the [open_humans] section into the value the client
// package consumes.
func (c *Config) Service() openhumans.Service {
	return openhumans.Service{
		Server:       c.OpenHumans.Server,
		ClientID:     c.OpenHumans.ClientID,
		ClientSecret: c.OpenHumans.ClientSecret,
		SourceName:   c.OpenHumans.SourceName,
		Scope:        c.OpenHumans.Scope,
		PushMethod:   c.OpenHumans.PushMethod,
	}
}

// Duration accessors. Values were checked by Validate, so a parse failure
// here means the Config was built by hand; the default is returned instead.

// RunInterval is the pause between export cycles of the run daemon.
func (c *Config) RunInterval() time.Duration {
	return parseDurationOr(c.Export.RunInterval, defaultRunInterval)
}

// TokenOffset is the safety margin subtracted from token expiry.
func (c *Config) TokenOffset() time.Duration {
	return parseDurationOr(c.Export.TokenOffset, openhumans.DefaultOffset)
}

// Timeout is the overall per-request HTTP timeout.
func (c *Config) Timeout() time.Duration {
	return parseDurationOr(c.Network.Timeout, defaultTimeout)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}

	return d
}
