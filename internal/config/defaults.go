package config

import (
	"path/filepath"
	"time"

	"github.com/tonimelisma/datareturn/internal/openhumans"
)

// Default values for configuration options. These represent "layer 0" of
// the override chain.
const (
	defaultPushMethod  = "PUT"
	defaultParallelism = 4
	defaultRunInterval = time.Hour
	defaultTimeout     = 30 * time.Second
	defaultLogLevel    = "info"
	defaultLogFormat   = "auto"
	dbFileName         = "datareturn.db"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		OpenHumans: OpenHumansConfig{
			Server:     openhumans.DefaultServer,
			Scope:      openhumans.DefaultScope,
			PushMethod: defaultPushMethod,
		},
		Storage: StorageConfig{
			DBPath: DefaultDBPath(),
		},
		Export: ExportConfig{
			Parallelism: defaultParallelism,
			RunInterval: defaultRunInterval.String(),
			TokenOffset: openhumans.DefaultOffset.String(),
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			Timeout: defaultTimeout.String(),
		},
	}
}

// DefaultDBPath is the database location when neither the config file nor
// the environment names one.
func DefaultDBPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return dbFileName
	}

	return filepath.Join(dir, dbFileName)
}
