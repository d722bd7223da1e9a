package anomaly

import (
	"math"

	"github.com/clinicalops/trialrisk/internal/domain"
)

type siteKey struct{ study, site string }

// Amplify returns copies of the site records with dqi_score_amplified set.
// Flagged sites are lowered to round2(dqi * (1 - strength*score)), floored at
// zero; every other site keeps its base DQI. A nil result set (the no-op
// detector) leaves the anomaly columns unset.
func Amplify(sites []domain.DQIRecord, results []domain.AnomalyResult, strength float64) []domain.DQIRecord {
	strength = math.Max(0, math.Min(1, strength))

	byKey := make(map[siteKey]domain.AnomalyResult, len(results))
	for _, r := range results {
		byKey[siteKey{r.StudyID, r.SiteID}] = r
	}

	out := make([]domain.DQIRecord, len(sites))
	for i, rec := range sites {
		rec.Amplified = rec.DQIScore
		rec.HasAmplified = true

		if res, ok := byKey[siteKey{rec.StudyID, rec.SiteID}]; ok {
			rec.AnomalyScore = res.AnomalyScore
			rec.IsAnomalous = res.IsAnomalous
			rec.HasAnomaly = true

			if res.IsAnomalous && !math.IsNaN(rec.DQIScore) {
				factor := 1 - strength*math.Max(0, math.Min(1, res.AnomalyScore))
				amplified := domain.Round2(math.Max(0, rec.DQIScore*factor))
				rec.Amplified = math.Min(amplified, rec.DQIScore)
			}
		}
		out[i] = rec
	}
	return out
}

// SummarizeByStudy rolls site anomaly results up to the study records: the
// mean anomaly score and the number of flagged sites. Studies without scored
// sites get zeros. A nil result set returns the studies unchanged.
func SummarizeByStudy(studies []domain.DQIRecord, results []domain.AnomalyResult) []domain.DQIRecord {
	if results == nil {
		return studies
	}

	type agg struct {
		sum     float64
		n       int
		flagged int
	}
	byStudy := make(map[string]*agg)
	for _, r := range results {
		a := byStudy[r.StudyID]
		if a == nil {
			a = &agg{}
			byStudy[r.StudyID] = a
		}
		if !math.IsNaN(r.AnomalyScore) {
			a.sum += r.AnomalyScore
			a.n++
		}
		if r.IsAnomalous {
			a.flagged++
		}
	}

	out := make([]domain.DQIRecord, len(studies))
	for i, rec := range studies {
		rec.HasAnomalySummary = true
		rec.AvgAnomalyScore = 0
		rec.NumAnomalousSites = 0
		if a := byStudy[rec.StudyID]; a != nil {
			if a.n > 0 {
				rec.AvgAnomalyScore = a.sum / float64(a.n)
			}
			rec.NumAnomalousSites = a.flagged
		}
		out[i] = rec
	}
	return out
}

// CountFlagged returns the number of flagged results.
func CountFlagged(results []domain.AnomalyResult) int {
	var n int
	for _, r := range results {
		if r.IsAnomalous {
			n++
		}
	}
	return n
}
