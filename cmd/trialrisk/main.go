// TrialRisk - data-quality scoring and risk ranking for clinical trial portfolios.
//
// With no arguments the binary serves the HTTP API, the run worker and the
// optional scheduler. "trialrisk run" executes one full pipeline run, stores
// it in the run history and exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicalops/trialrisk/internal/api"
	"github.com/clinicalops/trialrisk/internal/bus"
	"github.com/clinicalops/trialrisk/internal/cache"
	"github.com/clinicalops/trialrisk/internal/config"
	"github.com/clinicalops/trialrisk/internal/domain"
	"github.com/clinicalops/trialrisk/internal/logging"
	"github.com/clinicalops/trialrisk/internal/pipeline"
	"github.com/clinicalops/trialrisk/internal/repository"
	"github.com/clinicalops/trialrisk/internal/scheduler"
	"github.com/clinicalops/trialrisk/internal/trend"
	"github.com/clinicalops/trialrisk/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "trialrisk: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging, os.Stdout)

	slog.Info("starting trialrisk",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"detector", cfg.Anomaly.Method,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mode := "serve"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	switch mode {
	case "serve":
		err = serve(ctx, cfg)
	case "run":
		err = runOnce(ctx, cfg)
	default:
		err = fmt.Errorf("unknown command %q (expected serve or run)", mode)
	}
	if err != nil {
		slog.Error("trialrisk exited with error", "error", err)
		os.Exit(1)
	}
}

// runOnce executes the full pipeline with console progress and records it.
func runOnce(ctx context.Context, cfg *domain.Config) error {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	p, err := pipeline.NewFromConfig(cfg, os.Stdout)
	if err != nil {
		return err
	}

	busImpl := bus.NewChannelBus(cfg.EventBus.ChannelBufferSize)
	defer busImpl.Close()

	w := worker.NewWorker(busImpl, repo, nil, p)
	run, err := w.Execute(ctx, domain.RunRequest{Trigger: "cli", RequestedAt: time.Now().UTC()})
	if errors.Is(err, domain.ErrMissingPrerequisite) {
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("\nRun %s stored (%d studies, %d sites, %d high risk).\n", run.ID, run.StudyCount, run.SiteCount, run.HighRisk)
	return nil
}

func serve(ctx context.Context, cfg *domain.Config) error {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Console progress is for the stage commands; the service relies on logs.
	p, err := pipeline.NewFromConfig(cfg, io.Discard)
	if err != nil {
		return err
	}
	slog.Info("pipeline initialized",
		"data_dir", cfg.Pipeline.DataDir,
		"output_dir", cfg.Pipeline.OutputDir,
		"detector", p.Detector(),
	)

	runWorker := worker.NewWorker(busImpl, repo, cacheImpl, p)
	if err := runWorker.Start(); err != nil {
		return err
	}
	defer func() {
		if err := runWorker.Stop(); err != nil {
			slog.Error("failed to stop run worker", "error", err)
		}
	}()

	if cfg.Scheduler.Cron != "" {
		sched, err := scheduler.New(cfg.Scheduler.Cron, busImpl)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Scorer:   p,
		Trends:   trend.NewService(repo),
		CacheTTL: time.Duration(cfg.Cache.LocalTTL) * time.Second,
	}, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("trialrisk is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("trialrisk shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                TRIALRISK                  ║")
	fmt.Println("  ║    Clinical Data Quality & Risk Engine    ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	if cfg.Scheduler.Cron != "" {
		fmt.Printf("  Schedule: %s\n", cfg.Scheduler.Cron)
	}
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score                  - Score a batch of signals")
	fmt.Println("    POST /runs                   - Request a full pipeline run")
	fmt.Println("    GET  /runs                   - List recent runs")
	fmt.Println("    GET  /runs/latest            - Latest completed run")
	fmt.Println("    GET  /runs/{id}              - Run summary")
	fmt.Println("    GET  /runs/{id}/studies      - Ranked studies of a run")
	fmt.Println("    GET  /runs/{id}/sites        - Ranked sites of a run")
	fmt.Println("    GET  /runs/{id}/report       - Executive summary of a run")
	fmt.Println("    GET  /studies/{id}/trend     - DQI history of a study")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println("    GET  /metrics                - Prometheus metrics")
	fmt.Println()
}
