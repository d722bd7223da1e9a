package trend

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/clinicalops/trialrisk/internal/domain"
	"github.com/clinicalops/trialrisk/internal/repository"
)

func seed(t *testing.T, repo domain.Repository, id string, at time.Time, dqi float64) {
	t.Helper()
	var rec domain.RiskRecord
	rec.StudyID = "Study_1"
	rec.Rank = 1
	rec.DQIScore = dqi
	rec.RiskLevel = domain.RiskHigh
	run := &domain.Run{ID: id, Trigger: "schedule", Status: domain.RunStatusCompleted, Detector: "none", StartedAt: at, FinishedAt: at}
	if err := repo.SaveRun(context.Background(), run, []domain.RiskRecord{rec}, nil); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
}

func TestStudyTrend(t *testing.T) {
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "trend-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	svc := NewService(repo)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("Unknown", func(t *testing.T) {
		if _, err := svc.StudyTrend(ctx, "Study_1", 0); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := svc.StudyTrend(ctx, "", 0); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	seed(t, repo, "run-1", now.Add(-72*time.Hour), 60)

	t.Run("SinglePoint", func(t *testing.T) {
		tr, err := svc.StudyTrend(ctx, "Study_1", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tr.Direction != Unknown || tr.Delta != nil || tr.Latest.RunID != "run-1" {
			t.Errorf("unexpected trend: %+v", tr)
		}
	})

	seed(t, repo, "run-2", now.Add(-48*time.Hour), 55.5)
	seed(t, repo, "run-3", now.Add(-time.Hour), 58.25)

	t.Run("Improving", func(t *testing.T) {
		tr, err := svc.StudyTrend(ctx, "Study_1", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tr.Points) != 3 {
			t.Fatalf("expected 3 points, got %d", len(tr.Points))
		}
		if tr.Delta == nil || *tr.Delta != 2.75 || tr.Direction != Improving {
			t.Errorf("expected +2.75 improving, got %v %s", tr.Delta, tr.Direction)
		}
	})

	t.Run("Window", func(t *testing.T) {
		tr, err := svc.StudyTrend(ctx, "Study_1", 50*time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tr.Points) != 2 || tr.Points[0].RunID != "run-2" {
			t.Errorf("expected the last two runs, got %+v", tr.Points)
		}
	})
}

func TestDirection(t *testing.T) {
	tests := []struct {
		delta float64
		want  string
	}{
		{3, Improving},
		{0.51, Improving},
		{0.5, Stable},
		{0, Stable},
		{-0.5, Stable},
		{-4.2, Declining},
	}
	for _, tt := range tests {
		if got := direction(tt.delta); got != tt.want {
			t.Errorf("direction(%v) = %s, want %s", tt.delta, got, tt.want)
		}
	}
}
