package api

import (
	"fmt"
	"math"
	"strings"

	"github.com/clinicalops/trialrisk/internal/domain"
	"github.com/clinicalops/trialrisk/internal/pipeline"
	"github.com/clinicalops/trialrisk/internal/risk"
)

// Scores in responses are pointers so that a missing measurement (NaN) is
// rendered as null instead of failing the encoder.

// SignalMap is a signal vector keyed by signal name ("pages", "visits", ...).
type SignalMap map[string]*float64

func signalMap(v domain.SignalValues) SignalMap {
	m := make(SignalMap, domain.NumSignals)
	for _, s := range domain.Signals {
		m[s.Key()] = num(v[s])
	}
	return m
}

// values converts the map back to a vector. Absent signals score 0 and an
// explicit null is a missing measurement. Out-of-range percentages are scored
// as given, the same as values read from a signals table.
func (m SignalMap) values() (domain.SignalValues, error) {
	var v domain.SignalValues
	for key, x := range m {
		s, ok := signalByKey(key)
		if !ok {
			return v, fmt.Errorf("%w: unknown signal %q", domain.ErrInvalidInput, key)
		}
		if x == nil {
			v[s] = math.NaN()
			continue
		}
		if math.IsInf(*x, 0) {
			return v, fmt.Errorf("%w: signal %q must be finite", domain.ErrInvalidInput, key)
		}
		v[s] = *x
	}
	return v, nil
}

func signalByKey(key string) (domain.Signal, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, s := range domain.Signals {
		if s.Key() == key {
			return s, true
		}
	}
	return 0, false
}

func num(x float64) *float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return &x
}

// RecordView is the JSON form of a ranked study or site.
type RecordView struct {
	Rank            int              `json:"rank"`
	StudyID         string           `json:"study_id"`
	SiteID          string           `json:"site_id,omitempty"`
	WithinStudyRank int              `json:"within_study_rank,omitempty"`
	DQIScore        *float64         `json:"dqi_score"`
	Amplified       *float64         `json:"dqi_score_amplified,omitempty"`
	RiskLevel       domain.RiskLevel `json:"risk_level"`
	RiskDriver      string           `json:"risk_driver,omitempty"`
	TopDrivers      []string         `json:"top_risk_drivers"`
	Signals         SignalMap        `json:"signals"`
	Penalties       SignalMap        `json:"penalties"`
	Counts          SignalMap        `json:"counts,omitempty"`

	AnomalyScore      *float64 `json:"anomaly_score,omitempty"`
	IsAnomalous       *bool    `json:"is_anomalous,omitempty"`
	AvgAnomalyScore   *float64 `json:"avg_anomaly_score,omitempty"`
	NumAnomalousSites *int     `json:"num_anomalous_sites,omitempty"`
}

func recordView(r domain.RiskRecord) RecordView {
	v := RecordView{
		Rank:            r.Rank,
		StudyID:         r.StudyID,
		SiteID:          r.SiteID,
		WithinStudyRank: r.WithinStudyRank,
		DQIScore:        num(r.DQIScore),
		RiskLevel:       r.RiskLevel,
		RiskDriver:      r.RiskDriver,
		TopDrivers:      r.TopDrivers,
		Signals:         signalMap(r.Signals),
		Penalties:       signalMap(r.Penalties),
	}
	if v.TopDrivers == nil {
		v.TopDrivers = []string{}
	}
	if r.HasCounts {
		v.Counts = signalMap(r.Counts)
	}
	if r.HasAmplified {
		v.Amplified = num(r.Amplified)
	}
	if r.HasAnomaly {
		flagged := r.IsAnomalous
		v.AnomalyScore = num(r.AnomalyScore)
		v.IsAnomalous = &flagged
	}
	if r.HasAnomalySummary {
		n := r.NumAnomalousSites
		v.AvgAnomalyScore = num(r.AvgAnomalyScore)
		v.NumAnomalousSites = &n
	}
	return v
}

func recordViews(records []domain.RiskRecord) []RecordView {
	out := make([]RecordView, len(records))
	for i, r := range records {
		out[i] = recordView(r)
	}
	return out
}

// AnomalyView is one detector result.
type AnomalyView struct {
	StudyID      string   `json:"study_id"`
	SiteID       string   `json:"site_id"`
	DQIScore     *float64 `json:"dqi_score"`
	AnomalyScore *float64 `json:"anomaly_score"`
	IsAnomalous  bool     `json:"is_anomalous"`
}

// SignalInput is one record of a scoring request.
type SignalInput struct {
	StudyID string    `json:"study_id"`
	SiteID  string    `json:"site_id,omitempty"`
	Signals SignalMap `json:"signals"`
	Counts  SignalMap `json:"counts,omitempty"`
}

func (in SignalInput) record(site bool) (domain.SignalRecord, error) {
	rec := domain.SignalRecord{
		StudyID: strings.TrimSpace(in.StudyID),
		SiteID:  strings.TrimSpace(in.SiteID),
	}
	if rec.StudyID == "" {
		return rec, fmt.Errorf("%w: study_id is required", domain.ErrInvalidInput)
	}
	if site && rec.SiteID == "" {
		return rec, fmt.Errorf("%w: site_id is required for %s", domain.ErrInvalidInput, rec.StudyID)
	}
	if !site {
		rec.SiteID = ""
	}

	var err error
	if rec.Signals, err = in.Signals.values(); err != nil {
		return rec, err
	}
	if in.Counts != nil {
		if rec.Counts, err = in.Counts.values(); err != nil {
			return rec, err
		}
		rec.HasCounts = true
	}
	return rec, nil
}

// ScoreRequest is the request body for POST /score.
type ScoreRequest struct {
	Studies []SignalInput `json:"studies"`
	Sites   []SignalInput `json:"sites"`
}

func (req ScoreRequest) records() (studies, sites []domain.SignalRecord, err error) {
	if len(req.Studies) == 0 && len(req.Sites) == 0 {
		return nil, nil, fmt.Errorf("%w: at least one study or site is required", domain.ErrInvalidInput)
	}
	for _, in := range req.Studies {
		rec, err := in.record(false)
		if err != nil {
			return nil, nil, err
		}
		studies = append(studies, rec)
	}
	for _, in := range req.Sites {
		rec, err := in.record(true)
		if err != nil {
			return nil, nil, err
		}
		sites = append(sites, rec)
	}
	return studies, sites, nil
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	Detector     string        `json:"detector"`
	Studies      []RecordView  `json:"studies"`
	Sites        []RecordView  `json:"sites"`
	Anomalies    []AnomalyView `json:"anomalies,omitempty"`
	Distribution struct {
		Studies risk.Distribution `json:"studies"`
		Sites   risk.Distribution `json:"sites"`
	} `json:"distribution"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

func scoreResponse(eval *pipeline.Evaluation) *ScoreResponse {
	resp := &ScoreResponse{
		Detector: eval.Detector,
		Studies:  recordViews(eval.Studies),
		Sites:    recordViews(eval.Sites),
	}
	for _, a := range eval.Anomalies {
		resp.Anomalies = append(resp.Anomalies, AnomalyView{
			StudyID:      a.StudyID,
			SiteID:       a.SiteID,
			DQIScore:     num(a.DQIScore),
			AnomalyScore: num(a.AnomalyScore),
			IsAnomalous:  a.IsAnomalous,
		})
	}
	resp.Distribution.Studies = eval.StudyDistribution
	resp.Distribution.Sites = eval.SiteDistribution
	return resp
}

// RunRequestResponse is returned when a run is accepted.
type RunRequestResponse struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}
