package domain

import (
	"math"
	"strings"
)

// RiskLevel is the ordinal risk tier.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "High Risk"
	RiskMedium RiskLevel = "Medium Risk"
	RiskLow    RiskLevel = "Low Risk"
)

// Risk driver attribution for sites.
const (
	DriverRuleBased = "Rule-based"
	DriverAnomaly   = "ML-Detected Anomaly"
)

// SignalRecord is one row of extracted signals, at study or site granularity.
type SignalRecord struct {
	StudyID string       `json:"study_id"`
	SiteID  string       `json:"site_id,omitempty"`
	Signals SignalValues `json:"signals"`

	// Counts holds raw issue counts when the extractor provided them.
	Counts    SignalValues `json:"counts"`
	HasCounts bool         `json:"has_counts"`
}

// IsSite reports whether the record is at site granularity.
func (r SignalRecord) IsSite() bool {
	return r.SiteID != ""
}

// TotalSignalPct is the sum of the five raw percentages.
func (r SignalRecord) TotalSignalPct() float64 {
	return r.Signals.Sum()
}

// DQIRecord is a signal record with its quality score and penalty breakdown.
type DQIRecord struct {
	SignalRecord

	DQIScore  float64      `json:"dqi_score"`
	Penalties SignalValues `json:"penalties"`

	// Site-level anomaly data; Amplified equals DQIScore unless the site was flagged.
	Amplified    float64 `json:"dqi_score_amplified"`
	HasAmplified bool    `json:"has_amplified"`
	AnomalyScore float64 `json:"anomaly_score"`
	IsAnomalous  bool    `json:"is_anomalous"`
	HasAnomaly   bool    `json:"has_anomaly"`

	// Study-level anomaly roll-up.
	AvgAnomalyScore   float64 `json:"avg_anomaly_score"`
	NumAnomalousSites int     `json:"num_anomalous_sites"`
	HasAnomalySummary bool    `json:"has_anomaly_summary"`
}

// EffectiveScore is the score used for tiering: the amplified DQI when present.
func (r DQIRecord) EffectiveScore() float64 {
	if r.HasAmplified {
		return r.Amplified
	}
	return r.DQIScore
}

// RiskRecord is the canonical ranked record written for both studies and sites.
type RiskRecord struct {
	DQIRecord

	RiskLevel  RiskLevel `json:"risk_level"`
	TopDrivers []string  `json:"top_risk_drivers"`

	// Rank is 1-based over the whole batch, worst first (global_rank for sites).
	Rank            int    `json:"rank"`
	WithinStudyRank int    `json:"within_study_rank,omitempty"`
	RiskDriver      string `json:"risk_driver,omitempty"`
}

// DriversText joins the top drivers for display.
func (r RiskRecord) DriversText() string {
	return strings.Join(r.TopDrivers, ", ")
}

// AnomalyResult is one detector output row, keyed by study and site.
type AnomalyResult struct {
	StudyID      string  `json:"study_id"`
	SiteID       string  `json:"site_id"`
	DQIScore     float64 `json:"dqi_score"`
	AnomalyScore float64 `json:"anomaly_score"`
	IsAnomalous  bool    `json:"is_anomalous"`
}

// Round2 rounds half-to-even at two decimals. NaN and infinities pass through.
func Round2(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.RoundToEven(x*100) / 100
}
