package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/datareturn/internal/config"
	"github.com/tonimelisma/datareturn/internal/openhumans"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Export every linked user periodically",
		Long: `Run in the foreground and export all linked users every
export.run_interval. The config file is watched and reloaded on change.
'datareturn trigger' (SIGHUP) starts a cycle immediately.

The first SIGINT or SIGTERM finishes in-flight exports and exits; a second
one exits at once.`,
		Args: cobra.NoArgs,
		RunE: runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	lock, err := acquireDaemonLock(pidFilePath(cc.Cfg))
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx := shutdownContext(cmd.Context(), logger)

	sess, err := newSession(ctx, cc.Cfg, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	holder := config.NewHolder(cc.Cfg, cc.CfgPath)

	go func() {
		reload := func() (*config.Config, error) {
			cfg, _, err := config.Resolve(config.ReadEnvOverrides(), cliOverrides(cmd, cc.Flags))
			return cfg, err
		}

		if err := config.Watch(ctx, holder, reload, nil, logger); err != nil {
			logger.Warn("config hot reload disabled", slog.String("error", err.Error()))
		}
	}()

	trigger, stop := triggerSignals()
	defer stop()

	d := &daemon{holder: holder, sess: sess, logger: logger, trigger: trigger}

	logger.Info("daemon started",
		slog.Int("pid", os.Getpid()),
		slog.Duration("interval", cc.Cfg.RunInterval()),
	)

	d.loop(ctx)

	logger.Info("daemon stopped")

	return nil
}

// daemon runs export cycles on a timer and on demand.
type daemon struct {
	holder  *config.Holder
	sess    *Session
	logger  *slog.Logger
	trigger <-chan os.Signal
}

// loop runs a cycle at once, then after every interval or trigger, until ctx
// is canceled. The interval is re-read after each cycle so reloads apply.
func (d *daemon) loop(ctx context.Context) {
	for {
		d.cycle(ctx)

		timer := time.NewTimer(d.holder.Config().RunInterval())

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-d.trigger:
			timer.Stop()
			d.logger.Info("export triggered")
		}
	}
}

// cycle exports every connected link once and returns the outcomes.
func (d *daemon) cycle(ctx context.Context) []openhumans.Outcome {
	d.applyConfig(d.holder.Snapshot())

	links, err := d.sess.Store.ListLinks(ctx)
	if err != nil {
		d.logger.Error("listing links failed", slog.String("error", err.Error()))

		return nil
	}

	// Links whose refresh token is gone wait for the user to reconnect.
	connected := links[:0]
	for _, l := range links {
		if l.Connected() {
			connected = append(connected, l)
		}
	}

	start := time.Now()
	outcomes := d.sess.Publisher.PublishAll(ctx, connected, d.sess.Cfg.Export.Parallelism)

	var ok, lost, failed int

	for _, o := range outcomes {
		switch o.State {
		case openhumans.Succeeded:
			ok++
		case openhumans.Disconnected:
			lost++
		default:
			failed++
		}
	}

	d.logger.Info("export cycle complete",
		slog.Int("succeeded", ok),
		slog.Int("disconnected", lost),
		slog.Int("failed", failed),
		slog.Int("skipped", len(links)-len(connected)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return outcomes
}

// applyConfig rebuilds the client when a reload changed the config. The
// database stays open; moving it needs a restart. A reload without usable
// credentials is rolled back unless a newer one has replaced it.
func (d *daemon) applyConfig(cfg *config.Config, gen uint64) {
	if cfg == d.sess.Cfg {
		return
	}

	if cfg.Storage.DBPath != d.sess.Cfg.Storage.DBPath {
		d.logger.Warn("storage.db_path changed; restart to use the new database",
			slog.String("db_path", d.sess.Cfg.Storage.DBPath))
	}

	if err := config.CheckCredentials(cfg); err != nil {
		d.logger.Warn("ignoring reloaded config", slog.String("error", err.Error()))

		d.holder.Revert(gen, d.sess.Cfg)

		return
	}

	d.sess.rebuildClient(cfg)
	d.logger.Info("applied reloaded config")
}

func newTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Start an export cycle in the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := signalDaemon(pidFilePath(cc.Cfg), syscall.SIGHUP); err != nil {
				return fmt.Errorf("triggering export: %w", err)
			}

			cc.Statusf("Export cycle triggered\n")

			return nil
		},
	}
}
