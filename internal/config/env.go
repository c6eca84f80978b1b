package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig       = "DATARETURN_CONFIG"
	EnvClientID     = "DATARETURN_CLIENT_ID"
	EnvClientSecret = "DATARETURN_CLIENT_SECRET" //nolint:gosec // G101: variable name, not a credential
	EnvDBPath       = "DATARETURN_DB_PATH"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string // DATARETURN_CONFIG: override config file path
	ClientID     string // DATARETURN_CLIENT_ID
	ClientSecret string // DATARETURN_CLIENT_SECRET: keeps the secret out of the file
	DBPath       string // DATARETURN_DB_PATH
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		DBPath:       os.Getenv(EnvDBPath),
	}
}
