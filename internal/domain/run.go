package domain

import "time"

// Run status values
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is the persisted summary of one full pipeline execution.
type Run struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"` // "api", "schedule", "cli"
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Detector   string    `json:"detector"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	StudyCount     int     `json:"studyCount"`
	SiteCount      int     `json:"siteCount"`
	HighRisk       int     `json:"highRisk"`
	MediumRisk     int     `json:"mediumRisk"`
	LowRisk        int     `json:"lowRisk"`
	AnomalousSites int     `json:"anomalousSites"`
	AverageDQI     float64 `json:"averageDqi"`

	// Report is the rendered executive summary; served on its own endpoint.
	Report string `json:"-"`
}

// RunRequest is the payload published to request a pipeline run.
type RunRequest struct {
	RunID       string    `json:"runId"`
	Trigger     string    `json:"trigger"`
	RequestedAt time.Time `json:"requestedAt"`
}

// TrendPoint is one study's DQI in one run.
type TrendPoint struct {
	RunID     string    `json:"runId"`
	StudyID   string    `json:"studyId"`
	DQIScore  float64   `json:"dqiScore"`
	RiskLevel RiskLevel `json:"riskLevel"`
	Rank      int       `json:"rank"`
	At        time.Time `json:"at"`
}
