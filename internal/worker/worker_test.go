package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/clinicalops/trialrisk/internal/bus"
	"github.com/clinicalops/trialrisk/internal/cache"
	"github.com/clinicalops/trialrisk/internal/domain"
	"github.com/clinicalops/trialrisk/internal/pipeline"
	"github.com/clinicalops/trialrisk/internal/repository"
)

type fakeRunner struct {
	outcome *pipeline.Outcome
	err     error
	calls   int
}

func (f *fakeRunner) RunAll(ctx context.Context) (*pipeline.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

func study(id string, dqi float64, level domain.RiskLevel, rank int) domain.RiskRecord {
	var r domain.RiskRecord
	r.StudyID = id
	r.DQIScore = dqi
	r.RiskLevel = level
	r.Rank = rank
	return r
}

func testOutcome() *pipeline.Outcome {
	return &pipeline.Outcome{
		Studies: []domain.RiskRecord{
			study("Study_2", 40, domain.RiskHigh, 1),
			study("Study_1", 70, domain.RiskMedium, 2),
			study("Study_3", 90, domain.RiskLow, 3),
		},
		Sites: []domain.RiskRecord{study("Study_2", 35, domain.RiskHigh, 1)},
		Anomalies: []domain.AnomalyResult{
			{StudyID: "Study_2", SiteID: "Site_1", IsAnomalous: true},
			{StudyID: "Study_1", SiteID: "Site_2"},
		},
		Detector: "iforest",
		Report:   "REPORT",
	}
}

func setup(t *testing.T, runner Runner) (*Worker, *bus.ChannelBus, domain.Repository, *cache.LRUCache) {
	t.Helper()
	eventBus := bus.NewChannelBus(10)
	t.Cleanup(func() { eventBus.Close() })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "worker-test.db")})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(10)
	w := NewWorker(eventBus, repo, lru, runner)
	w.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }
	return w, eventBus, repo, lru
}

func subscribe(t *testing.T, b *bus.ChannelBus, topic string) <-chan *domain.Message {
	t.Helper()
	ch := make(chan *domain.Message, 1)
	if _, err := b.Subscribe(context.Background(), topic, func(ctx context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return ch
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("Completed", func(t *testing.T) {
		runner := &fakeRunner{outcome: testOutcome()}
		w, eventBus, repo, lru := setup(t, runner)
		completed := subscribe(t, eventBus, domain.TopicRunCompleted)
		_ = lru.Set(ctx, cache.KeyLatestRun, []byte("stale"), time.Minute)

		run, err := w.Execute(ctx, domain.RunRequest{RunID: "run-1", Trigger: "schedule"})
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if run.Status != domain.RunStatusCompleted || run.Detector != "iforest" {
			t.Errorf("unexpected run: %+v", run)
		}
		if run.StudyCount != 3 || run.SiteCount != 1 || run.HighRisk != 1 || run.MediumRisk != 1 || run.LowRisk != 1 {
			t.Errorf("unexpected counts: %+v", run)
		}
		if run.AnomalousSites != 1 || run.AverageDQI != 66.67 {
			t.Errorf("unexpected anomaly/avg: %d %v", run.AnomalousSites, run.AverageDQI)
		}

		stored, err := repo.GetRun(ctx, "run-1")
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if stored.Report != "REPORT" || stored.Trigger != "schedule" {
			t.Errorf("unexpected stored run: %+v", stored)
		}
		studies, _ := repo.ListStudyResults(ctx, "run-1")
		if len(studies) != 3 {
			t.Errorf("expected 3 stored studies, got %d", len(studies))
		}

		if val, _ := lru.Get(ctx, cache.KeyLatestRun); val != nil {
			t.Error("expected latest-run cache entry to be invalidated")
		}

		select {
		case msg := <-completed:
			var published domain.Run
			if err := json.Unmarshal(msg.Payload, &published); err != nil {
				t.Fatalf("bad payload: %v", err)
			}
			if published.ID != "run-1" {
				t.Errorf("unexpected published run %s", published.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for completion event")
		}
	})

	t.Run("Failed", func(t *testing.T) {
		pipelineErr := fmt.Errorf("%w: DQI files not found", domain.ErrMissingPrerequisite)
		w, eventBus, repo, _ := setup(t, &fakeRunner{err: pipelineErr})
		failed := subscribe(t, eventBus, domain.TopicRunFailed)

		run, err := w.Execute(ctx, domain.RunRequest{})
		if !errors.Is(err, domain.ErrMissingPrerequisite) {
			t.Fatalf("expected pipeline error, got %v", err)
		}
		if run.ID == "" || run.Trigger != "api" || run.Status != domain.RunStatusFailed {
			t.Errorf("unexpected run: %+v", run)
		}

		stored, err := repo.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if stored.Error == "" {
			t.Error("expected stored error text")
		}
		if _, err := repo.LatestRun(ctx); !errors.Is(err, domain.ErrNotFound) {
			t.Error("expected failed runs to be excluded from latest")
		}

		select {
		case <-failed:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for failure event")
		}
	})
}

func TestWorkerConsumesRequests(t *testing.T) {
	runner := &fakeRunner{outcome: testOutcome()}
	w, eventBus, repo, _ := setup(t, runner)
	completed := subscribe(t, eventBus, domain.TopicRunCompleted)

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	payload, _ := json.Marshal(domain.RunRequest{RunID: "run-bus", Trigger: "api"})
	if err := eventBus.Publish(context.Background(), domain.TopicRunRequested, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for run")
	}

	if _, err := repo.GetRun(context.Background(), "run-bus"); err != nil {
		t.Errorf("expected stored run: %v", err)
	}

	if err := eventBus.Publish(context.Background(), domain.TopicRunRequested, []byte("not json")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}
