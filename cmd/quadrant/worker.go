package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UnknownOlympus/quadrant/internal/metrics"
	"github.com/UnknownOlympus/quadrant/internal/service"
)

// healthCheck reports whether one dependency is reachable.
type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a worker that claims and processes tasks until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runWorker(cmd.Context())
		},
	}
}

func (a *app) runWorker(ctx context.Context) error {
	// Create a separate registry for metrics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)

	q, rdb, err := a.openQueue(ctx)
	if err != nil {
		return err
	}
	defer rdb.Close()

	repo, pool, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	searchProvider, err := a.newProvider(appMetrics)
	if err != nil {
		return err
	}
	a.log.Info("Search provider initialized", zap.String("type", a.cfg.Provider.Type))

	worker := service.NewWorker(a.log, q, searchProvider, repo, appMetrics, a.workerConfig())

	checks := []healthCheck{
		{name: "postgres", check: repo.Ping},
		{name: "redis", check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}
	go startMonitoringServer(ctx, a.log, reg, checks, a.cfg.Port)

	a.log.Info("Application started. Press Ctrl+C to stop.")
	worker.Run(ctx)
	a.log.Info("Application stopped gracefully.")
	return nil
}

// newMonitoringHandler serves /healthz and /metrics.
func newMonitoringHandler(log *zap.Logger, reg *prometheus.Registry, checks []healthCheck) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(writer http.ResponseWriter, req *http.Request) {
		log.Debug("Performing health checks...")
		status, body := http.StatusOK, "OK"
		for _, hc := range checks {
			if err := hc.check(req.Context()); err != nil {
				log.Warn("Health check failed", zap.String("dependency", hc.name), zap.Error(err))
				status, body = http.StatusServiceUnavailable, hc.name+" ping failed"
				break
			}
		}
		writer.WriteHeader(status)
		if _, err := writer.Write([]byte(body)); err != nil {
			log.Error("failed to write reply", zap.Error(err))
		}

		log.Debug("Health checks completed", zap.Int("status", status))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// startMonitoringServer serves the monitoring endpoints on port until ctx is cancelled.
func startMonitoringServer(
	ctx context.Context,
	log *zap.Logger,
	reg *prometheus.Registry,
	checks []healthCheck,
	port int,
) {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      newMonitoringHandler(log, reg, checks),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("Starting monitoring server", zap.Int("port", port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Monitoring server failed", zap.Error(err))
	}
}
