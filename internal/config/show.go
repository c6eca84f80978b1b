package config

import (
	"fmt"
	"io"
)

const redacted = "(set)"

// RenderEffective writes the resolved configuration as a human-readable
// summary to w. This powers "config show", giving visibility into the
// effective values after all override layers have been applied. The client
// secret is never printed.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	o := &cfg.OpenHumans
	ew.printf("[open_humans]\n")
	ew.printf("  server        = %q\n", o.Server)
	ew.printf("  client_id     = %q\n", o.ClientID)
	ew.printf("  client_secret = %q\n", secretState(o.ClientSecret))
	ew.printf("  source_name   = %q\n", o.SourceName)
	ew.printf("  scope         = %q\n", o.Scope)
	ew.printf("  push_method   = %q\n\n", o.PushMethod)

	ew.printf("[storage]\n")
	ew.printf("  db_path = %q\n\n", cfg.Storage.DBPath)

	ew.printf("[export]\n")
	ew.printf("  parallelism  = %d\n", cfg.Export.Parallelism)
	ew.printf("  run_interval = %q\n", cfg.Export.RunInterval)
	ew.printf("  token_offset = %q\n\n", cfg.Export.TokenOffset)

	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", cfg.Logging.LogLevel)
	ew.printf("  log_format = %q\n\n", cfg.Logging.LogFormat)

	ew.printf("[network]\n")
	ew.printf("  timeout    = %q\n", cfg.Network.Timeout)
	ew.printf("  user_agent = %q\n", cfg.Network.UserAgent)

	return ew.err
}

// Redacted returns a copy of cfg that is safe to print as JSON.
func Redacted(cfg *Config) *Config {
	c := *cfg
	c.OpenHumans.ClientSecret = secretState(cfg.OpenHumans.ClientSecret)

	return &c
}

func secretState(s string) string {
	if s == "" {
		return ""
	}

	return redacted
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
