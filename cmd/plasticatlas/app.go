package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"plasticatlas/internal/blob"
	"plasticatlas/internal/config"
	"plasticatlas/internal/core"
	"plasticatlas/internal/infra/persistence"
	"plasticatlas/internal/sequences"
)

// app holds the process-wide resources a command runs against.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	handle *persistence.Handle
	store  blob.Store
	svc    *core.Service
	expvar *core.ExpvarMetricsRecorder

	closers []io.Closer
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath, o.envFile)
	if err != nil {
		return config.Config{}, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// open loads configuration, opens storage and the blob store and builds the
// service. When reg
// is non-nil and metrics are enabled, service calls are also exported to
// Prometheus.
func (o *rootOptions) open(ctx context.Context, cmd *cobra.Command, reg prometheus.Registerer) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, expvar: core.NewExpvarMetricsRecorder("")}

	recorders := core.MultiRecorder{a.expvar}
	if reg != nil && cfg.Metrics.Enabled {
		prom, err := core.NewPrometheusMetricsRecorder(reg, cfg.Metrics.Namespace)
		if err != nil {
			return nil, fmt.Errorf("register service metrics: %w", err)
		}
		recorders = append(recorders, prom)
	}
	svcOpts := []core.ServiceOption{core.WithLogger(logger), core.WithMetricsRecorder(recorders)}
	if o.tracePath != "" {
		f, err := os.OpenFile(o.tracePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		a.closers = append(a.closers, f)
		svcOpts = append(svcOpts, core.WithTracer(core.NewJSONTracer(f)))
	}

	handle, err := persistence.Open(ctx, cfg.Storage)
	if err != nil {
		a.close()
		return nil, err
	}
	a.handle = handle
	store, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store
	svcOpts = append(svcOpts, core.WithStructureLinks(structureLinks(cfg, store)))
	a.svc = core.NewService(handle.DB, handle.Dialect, svcOpts...)
	logger.Debug("storage opened", "driver", handle.Driver, "blob", store.Driver())
	return a, nil
}

// structureLinks prefers a configured public base URL and otherwise presigns
// structure files kept in the blob store.
func structureLinks(cfg config.Config, store blob.Store) sequences.LinkResolver {
	if cfg.Structures.BaseURL != "" {
		return sequences.StaticLinks{BaseURL: cfg.Structures.BaseURL}
	}
	return sequences.BlobLinks{Store: store, Prefix: cfg.Structures.Prefix, Expiry: cfg.Reports.PresignExpiry}
}

func (a *app) close() error {
	var errs []error
	if a.handle != nil {
		errs = append(errs, a.handle.Close())
	}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	if a.expvar != nil {
		a.logger.Debug("service calls", "metrics", a.expvar.Snapshot())
	}
	return errors.Join(errs...)
}

// withApp opens the app for the duration of fn.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := o.open(ctx, cmd, nil)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	if err := a.close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
