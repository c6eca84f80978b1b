package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvClientID, "cid")
	t.Setenv(EnvClientSecret, "sec")
	t.Setenv(EnvDBPath, "/custom/db")

	overrides := ReadEnvOverrides()
	assert.Equal(t, EnvOverrides{
		ConfigPath:   "/custom/config.toml",
		ClientID:     "cid",
		ClientSecret: "sec",
		DBPath:       "/custom/db",
	}, overrides)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvClientID, "")
	t.Setenv(EnvClientSecret, "")
	t.Setenv(EnvDBPath, "")

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides())
}

func TestEnvVarConstants(t *testing.T) {
	assert.Equal(t, "DATARETURN_CONFIG", EnvConfig)
	assert.Equal(t, "DATARETURN_CLIENT_SECRET", EnvClientSecret)
}
