package domain

// Policy is the fixed scoring policy: clinical thresholds, signal weights and the
// batch quantiles that bound the risk tiers. It is passed by value so components
// cannot mutate each other's copy.
type Policy struct {
	// Thresholds are the clinical acceptance limits in percent. Must be > 0.
	Thresholds SignalValues

	// Weights encode clinical severity; SAE highest, pages lowest.
	Weights SignalValues

	// HighRiskQuantile and MediumRiskQuantile are DQI quantiles of the batch.
	// Lower DQI is worse, so 0.10 selects the worst 10% and 0.25 the worst 25%.
	HighRiskQuantile   float64
	MediumRiskQuantile float64

	// TopDrivers is how many driver labels are attributed per record.
	TopDrivers int
}

// DefaultPolicy returns the published DQI policy.
func DefaultPolicy() Policy {
	return Policy{
		Thresholds: SignalValues{
			SignalPages:  5.0,
			SignalVisits: 10.0,
			SignalEDRR:   8.0,
			SignalCodes:  7.0,
			SignalSAE:    5.0,
		},
		Weights: SignalValues{
			SignalPages:  10,
			SignalVisits: 15,
			SignalEDRR:   15,
			SignalCodes:  12,
			SignalSAE:    25,
		},
		HighRiskQuantile:   0.10,
		MediumRiskQuantile: 0.25,
		TopDrivers:         2,
	}
}

// TotalWeight is the sum of all signal weights.
func (p Policy) TotalWeight() float64 {
	return p.Weights.Sum()
}
