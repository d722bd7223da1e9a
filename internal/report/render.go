package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/clinicalops/trialrisk/internal/domain"
	"github.com/clinicalops/trialrisk/internal/risk"
)

const (
	heavyRule = "================================================================================"
	lightRule = "--------------------------------------------------------------------------------"

	topSites = 10
)

var levelActions = map[domain.RiskLevel][]string{
	domain.RiskHigh: {
		"• IMMEDIATE: Convene study safety/monitoring committee",
		"• Conduct focused data audit on highest-impact issues",
		"• Assign dedicated CRA resources for remediation",
		"• Create 48-hour corrective action plan",
		"• Escalate to Clinical Trial Team Lead",
	},
	domain.RiskMedium: {
		"• Schedule weekly monitoring calls with site",
		"• Develop corrective action plan (target: 2 weeks)",
		"• Assign CRA to verify remediation",
		"• Review data quality metrics bi-weekly",
		"• Document improvements in study binder",
	},
	domain.RiskLow: {
		"• Continue routine monitoring",
		"• Verify issue resolution at next site visit",
		"• Monitor for any trend toward higher risk",
		"• Update study status in trial management system",
	},
}

var siteActions = map[domain.RiskLevel]string{
	domain.RiskHigh:   "URGENT: On-site data audit required",
	domain.RiskMedium: "Schedule enhanced site monitoring",
	domain.RiskLow:    "Routine monitoring",
}

var closing = []string{
	"1. IMMEDIATE (Next 48 hours):",
	"   • Escalate all High Risk studies to Clinical Trial Lead",
	"   • Initiate focused data audits at High Risk sites",
	"   • Convene study safety committee for High Risk studies",
	"",
	"2. SHORT-TERM (1-2 weeks):",
	"   • Develop corrective action plans for Medium Risk studies",
	"   • Assign dedicated CRA resources to critical sites",
	"   • Schedule enhanced monitoring visits",
	"   • Update stakeholders on remediation progress",
	"",
	"3. ONGOING:",
	"   • Track DQI improvements weekly",
	"   • Re-run this analysis every 7-14 days to monitor trends",
	"   • Document all corrective actions in study binder",
	"   • Share risk trends with DMC and regulatory teams",
	"",
	"NOTE: This analysis is data-driven, explainable, and automated.",
	"All DQI scores are transparent (based on explicit signal weights).",
	"Regular re-runs enable early detection of emerging issues.",
}

// Renderer produces the executive summary text.
type Renderer struct {
	guidance *GuidanceEngine
	now      func() time.Time
}

// NewRenderer creates a renderer. A nil guidance engine disables the
// driver-specific guidance blocks.
func NewRenderer(guidance *GuidanceEngine) *Renderer {
	return &Renderer{guidance: guidance, now: time.Now}
}

// WithClock overrides the timestamp source.
func (r *Renderer) WithClock(now func() time.Time) *Renderer {
	r.now = now
	return r
}

// Render builds the report from ranked tables ordered worst first.
func (r *Renderer) Render(studies, sites []domain.RiskRecord) (string, error) {
	var b strings.Builder

	b.WriteString(heavyRule + "\n")
	b.WriteString("CLINICAL TRIAL DATA QUALITY & OPERATIONAL RISK INTELLIGENCE REPORT\n")
	b.WriteString(heavyRule + "\n")
	fmt.Fprintf(&b, "Generated: %s\n", r.now().Format("2006-01-02 15:04:05.000000"))
	b.WriteString("System: Automated Clinical Data Quality & Operational Risk Intelligence\n\n")

	dist := risk.Distribute(studies)
	b.WriteString("EXECUTIVE SUMMARY\n")
	b.WriteString(lightRule + "\n")
	fmt.Fprintf(&b, "Total Studies Analyzed: %d\n", dist.Total)
	fmt.Fprintf(&b, "High Risk Studies: %d\n", dist.High)
	fmt.Fprintf(&b, "Medium Risk Studies: %d\n", dist.Medium)
	fmt.Fprintf(&b, "Low Risk Studies: %d\n", dist.Low)
	fmt.Fprintf(&b, "Average DQI Across All Studies: %.2f / 100\n\n", risk.AverageDQI(studies))

	b.WriteString("KEY FINDINGS\n")
	b.WriteString(lightRule + "\n")
	if dist.High > 0 {
		fmt.Fprintf(&b, "⚠ %d study(ies) require immediate attention due to critical data quality issues.\n", dist.High)
	}
	if dist.Medium > 0 {
		fmt.Fprintf(&b, "→ %d study(ies) need structured monitoring and corrective actions.\n", dist.Medium)
	}
	if dist.Low > 0 {
		fmt.Fprintf(&b, "✓ %d study(ies) are at low risk; routine monitoring recommended.\n", dist.Low)
	}
	b.WriteString("\n")

	b.WriteString("TOP OPERATIONAL RISK DRIVERS (ACROSS ALL STUDIES)\n")
	b.WriteString(lightRule + "\n")
	writeAggregateDrivers(&b, studies)
	b.WriteString("\n")

	b.WriteString(heavyRule + "\n")
	b.WriteString("STUDY-LEVEL RECOMMENDATIONS\n")
	b.WriteString(heavyRule + "\n")
	for _, rec := range studies {
		if err := r.writeStudy(&b, rec); err != nil {
			return "", err
		}
	}
	b.WriteString("\n\n")

	siteDist := risk.Distribute(sites)
	b.WriteString(heavyRule + "\n")
	b.WriteString("SITE-LEVEL RISK SUMMARY\n")
	b.WriteString(heavyRule + "\n")
	fmt.Fprintf(&b, "Total Sites Analyzed: %d\n", siteDist.Total)
	fmt.Fprintf(&b, "High Risk Sites: %d\n", siteDist.High)
	fmt.Fprintf(&b, "Medium Risk Sites: %d\n", siteDist.Medium)
	fmt.Fprintf(&b, "Low Risk Sites: %d\n\n", siteDist.Low)

	b.WriteString("Top 10 Most At-Risk Sites (Global Ranking):\n")
	b.WriteString(lightRule + "\n")
	for i, rec := range sites {
		if i >= topSites {
			break
		}
		fmt.Fprintf(&b, "  %s - %s: DQI %.1f (%s) | %s\n", rec.StudyID, rec.SiteID, rec.DQIScore, rec.RiskLevel, siteActions[rec.RiskLevel])
	}
	b.WriteString("\n\n")

	b.WriteString(heavyRule + "\n")
	b.WriteString("OPERATIONAL RECOMMENDATIONS FOR CLINICAL TRIAL TEAMS\n")
	b.WriteString(heavyRule + "\n")
	for _, line := range closing {
		b.WriteString(line + "\n")
	}

	b.WriteString("\n" + heavyRule + "\n")
	b.WriteString("END OF REPORT\n")
	b.WriteString(heavyRule + "\n")
	return b.String(), nil
}

// writeAggregateDrivers totals issue counts across studies, largest first.
// Tables without count columns are totalled in penalty points instead.
func writeAggregateDrivers(b *strings.Builder, studies []domain.RiskRecord) {
	withCounts := len(studies) > 0
	for _, rec := range studies {
		withCounts = withCounts && rec.HasCounts
	}

	type total struct {
		signal domain.Signal
		value  float64
	}
	totals := make([]total, 0, domain.NumSignals)
	for _, s := range domain.Signals {
		t := total{signal: s}
		for _, rec := range studies {
			v := rec.Penalties[s]
			if withCounts {
				v = rec.Counts[s]
			}
			if !math.IsNaN(v) {
				t.value += v
			}
		}
		totals = append(totals, t)
	}
	sort.SliceStable(totals, func(i, j int) bool { return totals[i].value > totals[j].value })

	for _, t := range totals {
		if t.value <= 0 {
			continue
		}
		if withCounts {
			fmt.Fprintf(b, "  • %s: %d instances\n", t.signal.DisplayName(), int(t.value))
		} else {
			fmt.Fprintf(b, "  • %s: %.2f penalty points\n", t.signal.DisplayName(), t.value)
		}
	}
}

func (r *Renderer) writeStudy(b *strings.Builder, rec domain.RiskRecord) error {
	drivers := rec.DriversText()

	problem := fmt.Sprintf("%s is %s", rec.StudyID, strings.ToLower(string(rec.RiskLevel)))
	if drivers != "" {
		problem += " due to " + strings.ToLower(drivers)
	} else {
		problem += " — review immediately"
	}

	shown := drivers
	if shown == "" {
		shown = "Multiple issues"
	}

	fmt.Fprintf(b, "\n%s\nSTUDY: %s\n%s", heavyRule, rec.StudyID, heavyRule)
	fmt.Fprintf(b, "\n\nData Quality Index (DQI): %.2f / 100", rec.DQIScore)
	fmt.Fprintf(b, "\nRisk Level: %s", rec.RiskLevel)
	fmt.Fprintf(b, "\nTop Risk Drivers: %s", shown)
	fmt.Fprintf(b, "\n\nProblem Statement:\n  %s.", problem)

	b.WriteString("\n\nRecommended Actions:")
	actions, ok := levelActions[rec.RiskLevel]
	if !ok {
		actions = levelActions[domain.RiskLow]
	}
	for _, a := range actions {
		b.WriteString("\n" + a)
	}

	if r.guidance != nil {
		lines, err := r.guidance.Guidance(rec)
		if err != nil {
			return fmt.Errorf("guidance for %s: %w", rec.StudyID, err)
		}
		if len(lines) > 0 {
			b.WriteString("\n\nSpecific Guidance:")
			for _, l := range lines {
				b.WriteString("\n  → " + l)
			}
		}
	}

	b.WriteString("\n\nSignal Summary:")
	for _, s := range domain.Signals {
		if rec.HasCounts {
			if c := rec.Counts[s]; c > 0 {
				fmt.Fprintf(b, "\n  • %s: %d", s.Label(), int(c))
			}
			continue
		}
		if pct := rec.Signals[s]; pct > 0 {
			fmt.Fprintf(b, "\n  • %s: %.2f%%", s.Label(), pct)
		}
	}
	return nil
}
