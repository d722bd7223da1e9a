package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/clinicalops/trialrisk/internal/domain"
)

// Distribution counts records per tier.
type Distribution struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Distribute counts the tiers of a ranked table.
func Distribute(records []domain.RiskRecord) Distribution {
	d := Distribution{Total: len(records)}
	for _, r := range records {
		switch r.RiskLevel {
		case domain.RiskHigh:
			d.High++
		case domain.RiskMedium:
			d.Medium++
		default:
			d.Low++
		}
	}
	return d
}

// Share returns a tier's percentage of the total.
func (d Distribution) Share(level domain.RiskLevel) float64 {
	if d.Total == 0 {
		return 0
	}
	var n int
	switch level {
	case domain.RiskHigh:
		n = d.High
	case domain.RiskMedium:
		n = d.Medium
	default:
		n = d.Low
	}
	return 100 * float64(n) / float64(d.Total)
}

// AverageDQI is the mean base DQI of the records, skipping NaN.
func AverageDQI(records []domain.RiskRecord) float64 {
	var sum float64
	var n int
	for _, r := range records {
		if math.IsNaN(r.DQIScore) {
			continue
		}
		sum += r.DQIScore
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// SummaryText renders the distribution block and the top studies of a ranked
// study table.
func SummaryText(studies []domain.RiskRecord, top int) string {
	d := Distribute(studies)

	var b strings.Builder
	b.WriteString("\nRISK DISTRIBUTION (PERCENTILE-BASED WITH GUARANTEES):\n")
	b.WriteString("======================================================\n")
	fmt.Fprintf(&b, "Total Studies: %d\n", d.Total)
	fmt.Fprintf(&b, "  ✗ High Risk (Worst 10%%):       %d studies (%.1f%%)\n", d.High, d.Share(domain.RiskHigh))
	fmt.Fprintf(&b, "  ⚠ Medium Risk (Next 15%%):      %d studies (%.1f%%)\n", d.Medium, d.Share(domain.RiskMedium))
	fmt.Fprintf(&b, "  ✓ Low Risk (Top 75%%):          %d studies (%.1f%%)\n", d.Low, d.Share(domain.RiskLow))
	b.WriteString("\nTop 3 Most At-Risk Studies:\n")
	b.WriteString("===========================\n")

	for i, r := range studies {
		if i >= top {
			break
		}
		fmt.Fprintf(&b, "\n%d. %s (DQI: %.2f)\n", r.Rank, r.StudyID, r.DQIScore)
		fmt.Fprintf(&b, "   Risk Level: %s\n", r.RiskLevel)
		fmt.Fprintf(&b, "   Top Drivers: %s\n", r.DriversText())
	}
	return b.String()
}
