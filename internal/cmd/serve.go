package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Alanimdeo/conveyor/internal/auditlog"
	"github.com/Alanimdeo/conveyor/internal/config"
	"github.com/Alanimdeo/conveyor/internal/engine"
	"github.com/Alanimdeo/conveyor/internal/filelock"
	"github.com/Alanimdeo/conveyor/internal/logger"
	"github.com/Alanimdeo/conveyor/internal/stability"
	"github.com/Alanimdeo/conveyor/internal/store"
	"github.com/Alanimdeo/conveyor/internal/watcher"
)

func newServeCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the watchers for every configured directory",
		Long: `Run the conveyor daemon.

Every enabled directory with at least one enabled condition is watched.
The daemon re-reads the configuration every reconcile_interval and on
SIGHUP, so edits made with "conveyor directory" and "conveyor condition"
take effect without a restart. SIGINT, SIGTERM and SIGQUIT stop all
watchers and flush the audit log.

Only one daemon may run per database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			defer stop()

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			return runDaemon(ctx, cfg, cmd.ErrOrStderr(), hup)
		},
	}
}

// runDaemon runs the supervisor until ctx is cancelled. Every value on
// reload triggers a full reconcile.
func runDaemon(ctx context.Context, cfg *config.Config, stderr io.Writer, reload <-chan os.Signal) error {
	log, closeLog, err := newDaemonLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	dbPath, err := cfg.ResolveDBPath()
	if err != nil {
		return fmt.Errorf("failed to get database path: %w", err)
	}

	lock, err := filelock.AcquireInstanceLock(filepath.Dir(dbPath))
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	if cfg.Audit.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.Audit.RetentionDays)
		n, err := st.PruneLogs(ctx, cutoff)
		if err != nil {
			log.Warnf("Failed to prune audit log: %v", err)
		} else if n > 0 {
			log.Infof("Pruned %d audit log entries older than %s", n, cutoff.Format(time.RFC3339))
		}
	}

	sink := auditlog.NewSink(st, log, cfg.Audit.QueueSize)
	defer sink.Close()

	sup := engine.NewSupervisor(st, watcher.Options{
		Audit:        sink,
		Logger:       log,
		Stabilizer:   stability.New(cfg.Stability.Interval, cfg.Stability.MaxWait),
		PollInterval: cfg.Polling.DefaultInterval,
	})
	// Watchers must be stopped before the sink drains and the store closes
	defer sup.StopAll()

	running, err := sup.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watchers: %w", err)
	}
	log.Infof("Conveyor %s started with %d watcher(s), database %s", Version, len(running), dbPath)

	var tick <-chan time.Time
	if cfg.ReconcileInterval > 0 {
		ticker := time.NewTicker(cfg.ReconcileInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Infof("Shutting down, stopping %d watcher(s)", len(sup.Watched()))
			return nil
		case <-tick:
			if err := sup.ReconcileAll(ctx); err != nil {
				log.Warnf("Reconcile failed: %v", err)
			}
		case <-reload:
			log.Infof("Reloading configuration")
			if err := sup.ReconcileAll(ctx); err != nil {
				log.Warnf("Reconcile failed: %v", err)
			}
		}
	}
}

// newDaemonLogger returns the console logger, fanned out to a file logger when a log directory is set
func newDaemonLogger(cfg *config.Config, stderr io.Writer) (logger.Logger, func(), error) {
	console := logger.NewConsoleLogger(stderr, cfg.LogLevel)
	if cfg.LogDir == "" {
		return console, func() {}, nil
	}

	file, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create file logger: %w", err)
	}
	return logger.Multi{console, file}, func() { file.Close() }, nil
}
