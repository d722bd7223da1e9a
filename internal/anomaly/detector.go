// Package anomaly provides site-level anomaly detectors and blends their
// output into the DQI as an amplified score.
package anomaly

import (
	"context"
	"fmt"
	"strings"

	"github.com/clinicalops/trialrisk/internal/domain"
)

// Detector method names.
const (
	MethodNone    = "none"
	MethodIForest = "iforest"
	MethodMAD     = "mad"
)

// New selects a detector from config. An unknown method returns the no-op
// detector together with an error wrapping domain.ErrDetectorUnavailable, so
// callers can warn and carry on.
func New(cfg domain.AnomalyConfig) (domain.AnomalyDetector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Method)) {
	case "", MethodNone:
		return Noop{}, nil
	case MethodIForest:
		return NewIsolationForest(cfg), nil
	case MethodMAD:
		return NewMAD(cfg), nil
	default:
		return Noop{}, fmt.Errorf("%w: unknown method %q", domain.ErrDetectorUnavailable, cfg.Method)
	}
}

// Noop never scores anything.
type Noop struct{}

// Name returns "none".
func (Noop) Name() string { return MethodNone }

// Detect returns no results.
func (Noop) Detect(ctx context.Context, _ []domain.DQIRecord) ([]domain.AnomalyResult, error) {
	return nil, ctx.Err()
}

func resultFor(rec domain.DQIRecord, score float64, flagged bool) domain.AnomalyResult {
	return domain.AnomalyResult{
		StudyID:      rec.StudyID,
		SiteID:       rec.SiteID,
		DQIScore:     rec.DQIScore,
		AnomalyScore: score,
		IsAnomalous:  flagged,
	}
}
