package scoring

import (
	"math"
	"testing"

	"github.com/clinicalops/trialrisk/internal/domain"
)

func TestNormalize(t *testing.T) {
	policy := domain.DefaultPolicy()

	t.Run("AtOrBelowThreshold", func(t *testing.T) {
		for _, s := range domain.Signals {
			threshold := policy.Thresholds[s]
			for _, v := range []float64{-3, 0, threshold / 2, threshold} {
				if got := Normalize(v, threshold); got != 0 {
					t.Errorf("%s: Normalize(%.2f) = %.4f, want 0", s, v, got)
				}
			}
		}
	})

	t.Run("DoubleThresholdIsHundred", func(t *testing.T) {
		for _, s := range domain.Signals {
			threshold := policy.Thresholds[s]
			if got := Normalize(2*threshold, threshold); got != 100 {
				t.Errorf("%s: Normalize(2x) = %.4f, want 100", s, got)
			}
		}
	})

	t.Run("RelativeExcess", func(t *testing.T) {
		if got := Normalize(15, 10); got != 50 {
			t.Errorf("expected 50, got %.4f", got)
		}
		if got := Normalize(6, 5); math.Abs(got-20) > 1e-9 {
			t.Errorf("expected 20, got %.4f", got)
		}
	})

	t.Run("Clamped", func(t *testing.T) {
		for _, v := range []float64{10.01, 25, 100, 1e6} {
			got := Normalize(v, 5)
			if got < 0 || got > 100 {
				t.Errorf("Normalize(%.2f) = %.4f outside [0,100]", v, got)
			}
		}
		if got := Normalize(1e6, 5); got != 100 {
			t.Errorf("expected cap at 100, got %.4f", got)
		}
	})

	t.Run("NaNPropagates", func(t *testing.T) {
		if got := Normalize(math.NaN(), 5); !math.IsNaN(got) {
			t.Errorf("expected NaN, got %.4f", got)
		}
	})
}

func TestAggregator(t *testing.T) {
	agg := NewAggregator(domain.DefaultPolicy())

	t.Run("WorkedExample", func(t *testing.T) {
		rec := domain.SignalRecord{StudyID: "Study_1"}
		rec.Signals[domain.SignalVisits] = 20

		out := agg.Score(rec)

		if out.DQIScore != 80.52 {
			t.Errorf("expected dqi 80.52, got %.4f", out.DQIScore)
		}
		if out.Penalties[domain.SignalVisits] != 19.48 {
			t.Errorf("expected visits penalty 19.48, got %.4f", out.Penalties[domain.SignalVisits])
		}
		for _, s := range domain.Signals {
			if s != domain.SignalVisits && out.Penalties[s] != 0 {
				t.Errorf("%s: expected zero penalty, got %.4f", s, out.Penalties[s])
			}
		}
		if out.StudyID != "Study_1" {
			t.Errorf("expected study id carried through, got %q", out.StudyID)
		}
	})

	t.Run("AllBelowThreshold", func(t *testing.T) {
		rec := domain.SignalRecord{StudyID: "Study_2", Signals: domain.SignalValues{5, 10, 8, 7, 5}}
		out := agg.Score(rec)
		if out.DQIScore != 100 {
			t.Errorf("expected dqi 100, got %.4f", out.DQIScore)
		}
	})

	t.Run("AllAtCap", func(t *testing.T) {
		rec := domain.SignalRecord{StudyID: "Study_3", Signals: domain.SignalValues{50, 50, 50, 50, 50}}
		out := agg.Score(rec)
		if out.DQIScore != 0 {
			t.Errorf("expected dqi 0, got %.4f", out.DQIScore)
		}
	})

	t.Run("PenaltiesSumToDeficit", func(t *testing.T) {
		batch := []domain.SignalRecord{
			{StudyID: "a", Signals: domain.SignalValues{6.3, 14.1, 9.9, 12.4, 7.7}},
			{StudyID: "b", Signals: domain.SignalValues{0, 0, 33.3, 0, 5.01}},
			{StudyID: "c", Signals: domain.SignalValues{100, 1, 2, 3, 4}},
			{StudyID: "d", Signals: domain.SignalValues{5.5, 10.5, 8.5, 7.5, 5.5}},
		}
		for _, out := range agg.ScoreAll(batch) {
			sum := out.DQIScore + out.Penalties.Sum()
			if math.Abs(sum-100) > 0.02+1e-9 {
				t.Errorf("%s: dqi + penalties = %.4f, want 100 +/- 0.02", out.StudyID, sum)
			}
			if out.DQIScore < 0 || out.DQIScore > 100 {
				t.Errorf("%s: dqi %.4f outside [0,100]", out.StudyID, out.DQIScore)
			}
		}
	})

	t.Run("PenaltyZeroIffBelowThreshold", func(t *testing.T) {
		rec := domain.SignalRecord{Signals: domain.SignalValues{5, 10.5, 8, 7.5, 4}}
		out := agg.Score(rec)
		policy := agg.Policy()
		for _, s := range domain.Signals {
			below := rec.Signals[s] <= policy.Thresholds[s]
			if below != (out.Penalties[s] == 0) {
				t.Errorf("%s: signal %.2f threshold %.2f penalty %.4f", s, rec.Signals[s], policy.Thresholds[s], out.Penalties[s])
			}
		}
	})

	t.Run("NaNPropagates", func(t *testing.T) {
		rec := domain.SignalRecord{Signals: domain.SignalValues{0, math.NaN(), 0, 0, 0}}
		out := agg.Score(rec)
		if !math.IsNaN(out.DQIScore) {
			t.Errorf("expected NaN dqi, got %.4f", out.DQIScore)
		}
		if !math.IsNaN(out.Penalties[domain.SignalVisits]) {
			t.Errorf("expected NaN visits penalty, got %.4f", out.Penalties[domain.SignalVisits])
		}
	})

	t.Run("SiteGranularity", func(t *testing.T) {
		study := domain.SignalRecord{StudyID: "Study_1", Signals: domain.SignalValues{0, 0, 0, 0, 10}}
		site := study
		site.SiteID = "Site_9"

		a, b := agg.Score(study), agg.Score(site)
		if a.DQIScore != b.DQIScore || a.Penalties != b.Penalties {
			t.Errorf("expected identical scoring for study and site, got %.2f vs %.2f", a.DQIScore, b.DQIScore)
		}
		if !b.IsSite() {
			t.Error("expected site record")
		}
	})
}

func TestBackfill(t *testing.T) {
	agg := NewAggregator(domain.DefaultPolicy())

	rec := domain.DQIRecord{DQIScore: 80.52}
	rec.Signals[domain.SignalVisits] = 20
	records := []domain.DQIRecord{rec}

	agg.Backfill(records)

	if records[0].Penalties[domain.SignalVisits] != 19.48 {
		t.Errorf("expected backfilled visits penalty 19.48, got %.4f", records[0].Penalties[domain.SignalVisits])
	}
	if records[0].DQIScore != 80.52 {
		t.Errorf("expected score untouched, got %.4f", records[0].DQIScore)
	}
}
