package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events an editor produces when it
// saves a file (truncate, write, chmod, or rename-into-place).
const reloadDebounce = 200 * time.Millisecond

// ReloadFunc re-reads the configuration, including env and CLI layers.
type ReloadFunc func() (*Config, error)

// Watch reloads the config into h whenever the file at h.Path() changes,
// until ctx is canceled. The parent directory is watched so that editors
// which replace the file by rename are still seen. A reload that fails to
// parse or validate keeps the previous config. onReload, when non-nil, runs
// after each successful update.
func Watch(ctx context.Context, h *Holder, reload ReloadFunc, onReload func(*Config), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer watcher.Close()

	path := filepath.Clean(h.Path())

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config: watching %s: %w", filepath.Dir(path), err)
	}

	logger.Debug("watching config file", slog.String("path", path))

	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()

	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != path {
				continue
			}

			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			debounce.Reset(reloadDebounce)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", watchErr.Error()))

		case <-debounce.C:
			applyReload(h, reload, onReload, logger)
		}
	}
}

func applyReload(h *Holder, reload ReloadFunc, onReload func(*Config), logger *slog.Logger) {
	cfg, err := reload()
	if err != nil {
		logger.Warn("config reload failed, keeping previous config",
			slog.String("path", h.Path()),
			slog.String("error", err.Error()),
		)

		return
	}

	gen := h.Update(cfg)
	logger.Info("config reloaded", slog.String("path", h.Path()), slog.Uint64("generation", gen))

	if onReload != nil {
		onReload(cfg)
	}
}
