// Package worker executes requested pipeline runs from the event bus and
// records them in the run history.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicalops/trialrisk/internal/anomaly"
	"github.com/clinicalops/trialrisk/internal/cache"
	"github.com/clinicalops/trialrisk/internal/domain"
	"github.com/clinicalops/trialrisk/internal/metrics"
	"github.com/clinicalops/trialrisk/internal/pipeline"
	"github.com/clinicalops/trialrisk/internal/risk"
)

// Runner executes a full pipeline run over the artifact directory.
type Runner interface {
	RunAll(ctx context.Context) (*pipeline.Outcome, error)
}

// Worker consumes run requests. Runs share one output directory, so they
// execute one at a time.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	cache  domain.Cache
	runner Runner

	mu  sync.Mutex
	now func() time.Time

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a worker. cache may be nil.
func NewWorker(bus domain.EventBus, repo domain.Repository, c domain.Cache, runner Runner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		cache:  c,
		runner: runner,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to run requests.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRunRequested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicRunRequested, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("run worker started", "topic", domain.TopicRunRequested)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.RunRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse run request", "message_id", msg.ID, "error", err)
		return err
	}
	if req.RunID == "" {
		req.RunID = msg.ID
	}

	_, err := w.Execute(ctx, req)
	return err
}

// Execute performs one run, stores it and publishes the outcome. A failed
// pipeline still produces a stored run with status "failed"; the returned
// error is then the pipeline error.
func (w *Worker) Execute(ctx context.Context, req domain.RunRequest) (*domain.Run, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	if req.Trigger == "" {
		req.Trigger = "api"
	}

	run := &domain.Run{
		ID:        req.RunID,
		Trigger:   req.Trigger,
		StartedAt: w.now().UTC(),
	}
	slog.Info("run started", "run_id", run.ID, "trigger", run.Trigger)

	outcome, runErr := w.runner.RunAll(ctx)
	run.FinishedAt = w.now().UTC()

	var studies, sites []domain.RiskRecord
	if runErr != nil {
		run.Status = domain.RunStatusFailed
		run.Error = runErr.Error()
	} else {
		run.Status = domain.RunStatusCompleted
		summarize(run, outcome)
		studies, sites = outcome.Studies, outcome.Sites
	}
	metrics.RunsTotal.WithLabelValues(run.Trigger, run.Status).Inc()

	if err := w.repo.SaveRun(ctx, run, studies, sites); err != nil {
		slog.Error("failed to save run", "run_id", run.ID, "error", err)
		return run, fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	if w.cache != nil && run.Status == domain.RunStatusCompleted {
		_ = w.cache.Delete(ctx, cache.KeyLatestRun)
	}

	topic := domain.TopicRunCompleted
	if runErr != nil {
		topic = domain.TopicRunFailed
	}
	payload, _ := json.Marshal(run)
	if err := w.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish run outcome", "run_id", run.ID, "topic", topic, "error", err)
	}

	if runErr != nil {
		slog.Error("run failed", "run_id", run.ID, "error", runErr)
		return run, runErr
	}
	slog.Info("run completed",
		"run_id", run.ID,
		"studies", run.StudyCount,
		"sites", run.SiteCount,
		"high_risk", run.HighRisk,
		"duration_ms", run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
	)
	return run, nil
}

func summarize(run *domain.Run, outcome *pipeline.Outcome) {
	dist := risk.Distribute(outcome.Studies)
	run.Detector = outcome.Detector
	run.StudyCount = dist.Total
	run.SiteCount = len(outcome.Sites)
	run.HighRisk = dist.High
	run.MediumRisk = dist.Medium
	run.LowRisk = dist.Low
	run.AnomalousSites = anomaly.CountFlagged(outcome.Anomalies)
	if avg := risk.AverageDQI(outcome.Studies); !math.IsNaN(avg) {
		run.AverageDQI = domain.Round2(avg)
	}
	run.Report = outcome.Report
}

// Stop unsubscribes and waits for an in-flight run to finish.
func (w *Worker) Stop() error {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil

	w.mu.Lock()
	w.cancel()
	w.mu.Unlock()

	slog.Info("run worker stopped")
	return nil
}
