package domain

import "context"

// AnomalyDetector scores site-level DQI records for statistical unusualness.
// Implementations return one result per input record, or nil when they do not
// score at all (the no-op detector).
type AnomalyDetector interface {
	Name() string
	Detect(ctx context.Context, sites []DQIRecord) ([]AnomalyResult, error)
}

// AnomalyConfig selects and tunes the anomaly detector.
type AnomalyConfig struct {
	// Method is "iforest", "mad" or "none".
	Method string `json:"method" yaml:"method"`

	// Strength scales how far a flagged site's DQI is lowered (0..1).
	Strength float64 `json:"strength" yaml:"strength"`

	// Threshold is the flagging cut-off: an isolation score for "iforest",
	// a robust z-score for "mad" (defaults to 3.5 there when <= 1).
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// Isolation forest settings
	NumTrees     int   `json:"numTrees" yaml:"numTrees"`
	SamplingSize int   `json:"samplingSize" yaml:"samplingSize"`
	Seed         int64 `json:"seed" yaml:"seed"`
}
