// Package trend derives per-study DQI history across stored runs.
package trend

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/clinicalops/trialrisk/internal/domain"
)

// Direction labels for the latest change.
const (
	Improving = "improving"
	Declining = "declining"
	Stable    = "stable"
	Unknown   = "unknown"
)

// stableBand is the absolute DQI change treated as no movement.
const stableBand = 0.5

// Trend is a study's score history with the change since the previous run.
type Trend struct {
	StudyID   string              `json:"studyId"`
	Points    []domain.TrendPoint `json:"points"`
	Latest    *domain.TrendPoint  `json:"latest,omitempty"`
	Delta     *float64            `json:"delta,omitempty"`
	Direction string              `json:"direction"`
}

// Service reads trends from the run history.
type Service struct {
	repo domain.Repository
	now  func() time.Time
}

// NewService creates a trend service.
func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// StudyTrend returns the study's history over the trailing window. A zero
// window means all history. Unknown studies yield domain.ErrNotFound.
func (s *Service) StudyTrend(ctx context.Context, studyID string, window time.Duration) (*Trend, error) {
	if studyID == "" {
		return nil, fmt.Errorf("%w: study id is required", domain.ErrInvalidInput)
	}

	var since time.Time
	if window > 0 {
		since = s.now().Add(-window)
	}

	points, err := s.repo.StudyHistory(ctx, studyID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", studyID, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no runs include %s", domain.ErrNotFound, studyID)
	}

	t := &Trend{StudyID: studyID, Points: points, Direction: Unknown}
	latest := points[len(points)-1]
	t.Latest = &latest
	if len(points) < 2 {
		return t, nil
	}

	prev := points[len(points)-2].DQIScore
	if math.IsNaN(prev) || math.IsNaN(latest.DQIScore) {
		return t, nil
	}
	delta := domain.Round2(latest.DQIScore - prev)
	t.Delta = &delta
	t.Direction = direction(delta)
	return t, nil
}

// direction classifies a DQI change; higher DQI is better quality.
func direction(delta float64) string {
	switch {
	case delta > stableBand:
		return Improving
	case delta < -stableBand:
		return Declining
	default:
		return Stable
	}
}
