package risk

import (
	"math"
	"sort"

	"github.com/clinicalops/trialrisk/internal/domain"
)

// Contribution is one signal's share of a record's DQI deficit.
type Contribution struct {
	Signal  domain.Signal `json:"-"`
	Label   string        `json:"label"`
	Penalty float64       `json:"penalty"`
}

// Contributions lists all five penalties, largest first. Equal penalties keep
// declaration order; NaN sorts last.
func Contributions(penalties domain.SignalValues) []Contribution {
	out := make([]Contribution, 0, domain.NumSignals)
	for _, s := range domain.Signals {
		out = append(out, Contribution{Signal: s, Label: s.Label(), Penalty: penalties[s]})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Penalty, out[j].Penalty
		if math.IsNaN(a) {
			return false
		}
		if math.IsNaN(b) {
			return true
		}
		return a > b
	})
	return out
}

// TopDrivers returns up to n signal labels ordered by descending penalty,
// omitting any signal whose penalty is not positive.
func TopDrivers(penalties domain.SignalValues, n int) []string {
	if n <= 0 {
		return nil
	}

	var labels []string
	for i, c := range Contributions(penalties) {
		if i >= n {
			break
		}
		if c.Penalty > 0 {
			labels = append(labels, c.Label)
		}
	}
	return labels
}

// AttributeDriver reports whether a site's tier is explained by the anomaly
// detector or by the rule-based signals alone.
func AttributeDriver(rec domain.DQIRecord, level domain.RiskLevel) string {
	if rec.IsAnomalous && level == domain.RiskHigh {
		return domain.DriverAnomaly
	}
	return domain.DriverRuleBased
}
