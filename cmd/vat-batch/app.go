package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/vat-batch/internal/batch"
	"github.com/hochfrequenz/vat-batch/internal/config"
	"github.com/hochfrequenz/vat-batch/internal/export"
	"github.com/hochfrequenz/vat-batch/internal/launcher"
	"github.com/hochfrequenz/vat-batch/internal/ledger"
	"github.com/hochfrequenz/vat-batch/internal/logging"
	"github.com/hochfrequenz/vat-batch/internal/metrics"
	"github.com/hochfrequenz/vat-batch/internal/monitor"
	"github.com/hochfrequenz/vat-batch/internal/notify"
	"github.com/hochfrequenz/vat-batch/internal/pricestore"
	"github.com/hochfrequenz/vat-batch/internal/store"
	"github.com/hochfrequenz/vat-batch/web/api"
)

// app holds the wired process
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	meta     *store.DB
	business *store.DB
	ledger   *ledger.Ledger
	prices   *pricestore.Store
	runner   *batch.Runner
	launcher *launcher.Launcher
	monitor  *monitor.Service
	registry *prometheus.Registry
	events   *api.Hub
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadWithLocalFallback(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("auto-run") {
		cfg.Batch.AutoRun = autoRun
	}
	return cfg, nil
}

// newApp opens both datastores and wires the runner, launcher and monitor
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.meta, err = store.Open(ctx, cfg.MetadataStore.Store())
	if err != nil {
		return nil, fmt.Errorf("metadata store: %w", err)
	}
	a.business, err = store.Open(ctx, cfg.BusinessStore.Store())
	if err != nil {
		return nil, fmt.Errorf("business store: %w", err)
	}

	a.ledger, err = ledger.New(ctx, a.meta)
	if err != nil {
		return nil, err
	}
	a.prices, err = pricestore.New(ctx, a.business)
	if err != nil {
		return nil, err
	}

	jobsCfg := launcher.JobsConfig{
		InputFile: cfg.Batch.InputFile,
		OutputDir: cfg.Batch.OutputDir,
		ChunkSize: cfg.Batch.ChunkSize,
		Logger:    logger,
	}
	if cfg.Export.ObjectStore.Enabled {
		mirror, err := export.NewObjectStoreMirror(cfg.Export.ObjectStore)
		if err != nil {
			return nil, err
		}
		if err := mirror.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		jobsCfg.Mirror = mirror
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.events = api.NewHub(logger)

	a.runner = batch.NewRunner(a.ledger, logger,
		batch.WithListener(metrics.NewListener(a.registry)),
		batch.WithListener(a.events),
	)
	if cfg.Notify.SlackWebhook != "" {
		a.runner.AddListener(notify.NewListener(notify.NewSlackNotifier(cfg.Notify.SlackWebhook), cfg.Notify.FailuresOnly, logger))
	}

	jobs := launcher.Jobs(jobsCfg, a.prices)
	a.launcher = launcher.New(jobs, a.runner, logger)

	var known []string
	for _, d := range jobs.Definitions() {
		known = append(known, d.JobName)
	}
	a.monitor = monitor.NewService(a.ledger, known...)

	return a, nil
}

// server builds the HTTP API over the wired app
func (a *app) server() *api.Server {
	return api.NewServer(api.Config{
		Launcher: a.launcher,
		Monitor:  a.monitor,
		Events:   a.events,
		Gatherer: a.registry,
		Logger:   a.logger,
		Checks: []api.ReadinessCheck{
			{Name: "metadata_store", Check: a.ledger.Ping},
			{Name: "business_store", Check: a.prices.Ping},
		},
	})
}

func (a *app) cliOptions() launcher.CLIOptions {
	return launcher.CLIOptions{
		Job:              jobFlag,
		AutoRun:          a.cfg.Batch.AutoRun,
		ExitOnCompletion: a.cfg.Batch.ExitOnCompletion,
	}
}

func (a *app) close() {
	var errs []error
	if a.business != nil {
		errs = append(errs, a.business.Close())
	}
	if a.meta != nil {
		errs = append(errs, a.meta.Close())
	}
	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Warn("closing datastores", "error", err)
	}
}
