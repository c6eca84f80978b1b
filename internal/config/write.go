package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Config files hold the client secret, so they are owner-only.
const (
	configFilePermissions = 0o600
	configDirPermissions  = 0o700
)

// ErrConfigExists is returned by WriteTemplate when the file is already there.
var ErrConfigExists = errors.New("config: file already exists")

// configTemplate is written by "config init". Every setting is present as a
// commented-out default so options can be discovered without reading docs.
const configTemplate = `# datareturn configuration

[open_humans]
# From the OAuth2 settings page of your Open Humans project.
client_id     = ""
client_secret = ""   # or set DATARETURN_CLIENT_SECRET
source_name   = ""   # the project's source slug
# server      = "https://www.openhumans.org"
# scope       = "wildlife read write"
# push_method = "PUT"

[storage]
# db_path = "~/.local/share/datareturn/datareturn.db"

[export]
# parallelism  = 4
# run_interval = "1h"
# token_offset = "30s"

[logging]
# log_level  = "info"    # debug, info, warn, error
# log_format = "auto"    # auto, text, json

[network]
# timeout    = "30s"
# user_agent = ""
`

// WriteTemplate creates a commented config file at path. An existing file
// is never overwritten.
func WriteTemplate(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, configFilePermissions)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}

	if _, err := f.WriteString(configTemplate); err != nil {
		f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing config file: %w", err)
	}

	return nil
}
