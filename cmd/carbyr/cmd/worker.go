package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riverqueue/river/rivertype"
	"github.com/spf13/cobra"

	"github.com/gellingson/carbyr/internal/health"
	"github.com/gellingson/carbyr/internal/jobs"
	"github.com/gellingson/carbyr/internal/metrics"
)

func newWorkerCommand() *cobra.Command {
	var refreshEvery time.Duration
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run scheduled imports as background jobs",
		Long: `Start the job workers. Every enabled source with a schedule is imported
periodically: classified sources are polled, dealer sources are scraped.
Prometheus metrics are served on METRICS_ADDR at /metrics and a health
report at /health.

Requires the job queue tables (carbyr migrate river).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, refreshEvery)
		},
	}
	cmd.Flags().DurationVar(&refreshEvery, "refdata-refresh", time.Hour, "how often reference data is reloaded (0 disables)")
	return cmd
}

func runWorker(ctx context.Context, refreshEvery time.Duration) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	metrics.Init(Version, GitCommit, BuildDate)

	dbCollector := metrics.NewDBCollector(a.pool)
	go dbCollector.Start(ctx, 15*time.Second)
	defer dbCollector.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	checker := health.NewChecker(a.pool, func() health.RefDataSizer { return a.refdata.Current() }, Version, GitCommit)
	mux.Handle("/health", checker.Handler())
	server := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("metrics server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slogLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	policy := jobs.NewRetryPolicyFromConfig(a.cfg.Jobs)
	workers := jobs.NewWorkers(a.sources, a.runner, a.adapter, logger)
	periodic := jobs.NewPeriodicJobs(a.sources.All(), policy, a.cfg.Jobs)

	client, err := jobs.NewClient(a.pool, workers, policy, a.cfg.Jobs, slogLogger,
		[]rivertype.Hook{metrics.NewRiverMetricsHook()}, periodic)
	if err != nil {
		return fmt.Errorf("river client: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("river workers failed to start: %w", err)
	}
	logger.Info().Int("periodic_jobs", len(periodic)).Msg("workers started")

	if refreshEvery > 0 {
		go refreshRefData(ctx, a, refreshEvery)
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down workers")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Stop(stopCtx); err != nil {
		logger.Error().Err(err).Msg("river workers shutdown error")
		return err
	}
	logger.Info().Msg("river workers stopped")
	return nil
}

func refreshRefData(ctx context.Context, a *app, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.refdata.Reload(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("reference data reload failed, keeping previous snapshot")
				continue
			}
			makes, models := a.refdata.Current().Size()
			a.logger.Debug().Int("makes", makes).Int("models", models).Msg("reference data reloaded")
		}
	}
}
