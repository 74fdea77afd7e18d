package main

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"plasticatlas/internal/adapters/httpapi"
	"plasticatlas/internal/adapters/reports"
	"plasticatlas/internal/core"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the report export worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd, opts, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

// serve runs until ctx is cancelled or the listener fails, then drains the
// HTTP server and the export worker within the configured shutdown timeout.
func serve(ctx context.Context, cmd *cobra.Command, opts *rootOptions, addr string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := opts.open(ctx, cmd, reg)
	if err != nil {
		return err
	}
	defer a.close()
	if addr != "" {
		a.cfg.HTTP.Addr = addr
	}

	worker := reports.NewWorker(a.svc, a.store,
		reports.WithWorkers(a.cfg.Reports.Workers),
		reports.WithQueueSize(a.cfg.Reports.QueueSize),
		reports.WithPresignExpiry(a.cfg.Reports.PresignExpiry),
		reports.WithLogger(a.logger))

	handlerOpts := []httpapi.Option{
		httpapi.WithReports(worker),
		httpapi.WithLogger(a.logger),
		httpapi.WithPinger(a.handle.DB),
	}
	if a.cfg.Metrics.Enabled {
		httpMetrics, err := core.NewPrometheusHTTPRecorder(reg, a.cfg.Metrics.Namespace)
		if err != nil {
			return err
		}
		handlerOpts = append(handlerOpts,
			httpapi.WithRequestMetrics(httpMetrics),
			httpapi.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	mux := http.NewServeMux()
	mux.Handle("/", httpapi.NewHandler(a.svc, handlerOpts...))
	mux.Handle("/debug/vars", expvar.Handler())

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           mux,
		ReadTimeout:       a.cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      a.cfg.HTTP.WriteTimeout,
	}

	worker.Start()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("listening", "addr", srv.Addr, "storage", a.handle.Driver, "blob", a.store.Driver())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down")
		return errors.Join(srv.Shutdown(shutdownCtx), worker.Stop(shutdownCtx))
	})
	return g.Wait()
}
