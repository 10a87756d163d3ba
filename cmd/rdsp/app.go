package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"rdsp/internal/blob"
	"rdsp/internal/config"
	"rdsp/internal/core"
	"rdsp/internal/history"
	"rdsp/internal/logging"
	"rdsp/internal/task"
	"rdsp/plugins/builtin"
)

// app carries what every subcommand needs. It is populated lazily by setup
// so that --help works without touching the environment.
type app struct {
	stdout io.Writer
	stderr io.Writer

	cfg      config.Config
	logger   *slog.Logger
	logClose io.Closer
	registry *core.Registry
	metrics  *prometheus.Registry
	runner   *task.Runner
	ledger   *history.Store
	projects []*core.Project
}

// openLedger is swapped in tests.
var openLedger = func(ctx context.Context, cfg config.Config) (*history.Store, error) {
	if cfg.HistoryDriver == "none" {
		return nil, nil
	}
	dsn := cfg.HistoryDSN
	if dsn == "" && cfg.HistoryDriver == history.DriverSQLite {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dsn = filepath.Join(home, ".rdsp", "history.db")
	}
	return history.Open(ctx, cfg.HistoryDriver, dsn)
}

func (a *app) setup(ctx context.Context) error {
	if a.registry != nil {
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile, MaxSizeMB: cfg.LogMaxSizeMB})
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.logClose = cfg, logger, closer

	a.metrics = prometheus.NewRegistry()
	tm, err := task.NewMetrics(a.metrics)
	if err != nil {
		return err
	}
	a.runner = task.NewRunner(task.WithLogger(logger), task.WithMetrics(tm))
	a.registry = builtin.Registry(
		builtin.Options{AirGapTolerance: cfg.AirGapTolerance},
		core.WithRegistryLogger(logger),
		core.WithDisabledModules(cfg.DisabledModules...),
	)
	ledger, err := openLedger(ctx, cfg)
	if err != nil {
		logger.Warn("history unavailable", "driver", cfg.HistoryDriver, "error", err)
	}
	a.ledger = ledger
	return nil
}

// openProject opens a project document or directory with the configured store.
func (a *app) openProject(ctx context.Context, path string) (*core.Project, error) {
	opts := []core.Option{
		core.WithRegistry(a.registry),
		core.WithLogger(a.logger),
		core.WithRunner(a.runner),
	}
	if a.ledger != nil {
		opts = append(opts, core.WithHistory(a.ledger))
	}
	if a.cfg.BlobDriver != "" && a.cfg.BlobDriver != string(blob.DriverFilesystem) {
		store, err := blob.Open(ctx, blob.Driver(a.cfg.BlobDriver), projectRoot(path))
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithStore(store))
	}
	p, err := core.Open(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	a.projects = append(a.projects, p)
	a.touch(ctx, history.KindProject, p.Path())
	for _, w := range p.Warnings() {
		fmt.Fprintf(a.stderr, "warning: %v\n", w)
	}
	return p, nil
}

func projectRoot(path string) string {
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		return path
	}
	return filepath.Dir(path)
}

func (a *app) touch(ctx context.Context, kind, path string) {
	if a.ledger == nil {
		return
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if err := a.ledger.Touch(ctx, kind, path); err != nil {
		a.logger.Warn("history touch failed", "kind", kind, "error", err)
	}
}

// close releases projects, the runner, the ledger and the log file, and
// writes the metrics textfile when configured.
func (a *app) close() error {
	ctx := context.Background()
	var errs []error
	for _, p := range a.projects {
		errs = append(errs, p.Close(ctx))
	}
	if a.runner != nil {
		errs = append(errs, a.runner.Close(ctx))
	}
	if a.metrics != nil && a.cfg.MetricsFile != "" {
		errs = append(errs, prometheus.WriteToTextfile(a.cfg.MetricsFile, a.metrics))
	}
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	if a.logClose != nil {
		errs = append(errs, a.logClose.Close())
	}
	return errors.Join(errs...)
}
