// Package testutil provides shared environment helpers for E2E tests, which
// cannot import internal/.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables describing a live Open Humans project for E2E runs.
const (
	EnvLiveServer       = "DATARETURN_E2E_SERVER"
	EnvLiveClientID     = "DATARETURN_E2E_CLIENT_ID"
	EnvLiveClientSecret = "DATARETURN_E2E_CLIENT_SECRET" //nolint:gosec // G101: variable name, not a credential
	EnvLiveSourceName   = "DATARETURN_E2E_SOURCE_NAME"
	EnvLiveCode         = "DATARETURN_E2E_CODE"
	EnvAllowedProjects  = "DATARETURN_ALLOWED_TEST_PROJECTS"
)

// LiveProject is a real Open Humans project E2E tests may export to.
type LiveProject struct {
	Server       string
	ClientID     string
	ClientSecret string
	SourceName   string
	Code         string // single-use authorization code
}

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	_ = godotenv.Load(envPath)
}

// LiveProjectFromEnv returns the live project configured in the environment.
// ok is false when none is configured. A configured project whose source is
// missing from DATARETURN_ALLOWED_TEST_PROJECTS crashes the process, so
// tests never write to a production project by accident.
func LiveProjectFromEnv() (LiveProject, bool) {
	p := LiveProject{
		Server:       os.Getenv(EnvLiveServer),
		ClientID:     os.Getenv(EnvLiveClientID),
		ClientSecret: os.Getenv(EnvLiveClientSecret),
		SourceName:   os.Getenv(EnvLiveSourceName),
		Code:         os.Getenv(EnvLiveCode),
	}

	if p.ClientID == "" || p.ClientSecret == "" || p.SourceName == "" || p.Code == "" {
		return LiveProject{}, false
	}

	allowlist := os.Getenv(EnvAllowedProjects)
	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimSpace(a) == p.SourceName {
			return p, true
		}
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s=%q is not in %s=%q\n",
		EnvLiveSourceName, p.SourceName, EnvAllowedProjects, allowlist)
	os.Exit(1)

	return LiveProject{}, false
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}
