package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/tonimelisma/datareturn/internal/config"
	"github.com/tonimelisma/datareturn/internal/openhumans"
	"github.com/tonimelisma/datareturn/internal/store"
)

// pidFileName lives next to the database so that one daemon runs per database.
const pidFileName = "datareturn.pid"

// Session bundles the store and, for commands that talk to Open Humans, the
// client and publisher built from one config snapshot.
type Session struct {
	Store     *store.Store
	Client    *openhumans.Client
	Publisher *openhumans.Publisher
	Cfg       *config.Config
	logger    *slog.Logger
}

// openLocalSession opens only the database. Commands that never touch the
// network (files, links, events) use it, so they work before the project
// credentials are configured.
func openLocalSession(ctx context.Context, cc *CLIContext) (*Session, error) {
	st, err := store.Open(ctx, cc.Cfg.Storage.DBPath, cc.Logger)
	if err != nil {
		return nil, err
	}

	return &Session{Store: st, Cfg: cc.Cfg, logger: cc.Logger}, nil
}

// openSession opens the database and builds an authenticated client.
func openSession(ctx context.Context, cc *CLIContext) (*Session, error) {
	return newSession(ctx, cc.Cfg, cc.Logger)
}

func newSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Session, error) {
	if err := config.CheckCredentials(cfg); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Storage.DBPath, logger)
	if err != nil {
		return nil, err
	}

	s := &Session{Store: st, Cfg: cfg, logger: logger}
	s.rebuildClient(cfg)

	return s, nil
}

// rebuildClient creates a client and publisher for cfg. The run daemon calls
// it after a config reload; the store is kept.
func (s *Session) rebuildClient(cfg *config.Config) {
	client := openhumans.NewClient(cfg.Service(), newHTTPClient(cfg), s.Store, s.logger, cfg.Network.UserAgent)
	client.SetTokenOffset(cfg.TokenOffset())

	s.Cfg = cfg
	s.Client = client
	s.Publisher = openhumans.NewPublisher(client, s.Store, s.Store, s.logger)
}

// Close releases the database.
func (s *Session) Close() error {
	return s.Store.Close()
}

// loadLink fetches a user's link with a hint when there is none.
func (s *Session) loadLink(ctx context.Context, userID string) (*openhumans.Link, error) {
	link, err := s.Store.LoadLink(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %q has no Open Humans link; run 'datareturn connect --user %s --code CODE'",
			userID, userID)
	}

	return link, err
}

// newHTTPClient returns the shared HTTP client. The timeout bounds every
// token, probe, and push request.
func newHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{Timeout: cfg.Timeout()}
}

// pidFilePath returns the daemon PID file for the configured database.
func pidFilePath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.Storage.DBPath), pidFileName)
}
