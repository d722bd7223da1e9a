package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clinicalops/trialrisk/internal/domain"
	"github.com/clinicalops/trialrisk/internal/report"
	"github.com/clinicalops/trialrisk/internal/tabular"
)

func signal(study, site string, visits, sae float64) domain.SignalRecord {
	rec := domain.SignalRecord{StudyID: study, SiteID: site}
	rec.Signals[domain.SignalVisits] = visits
	rec.Signals[domain.SignalSAE] = sae
	return rec
}

func fixtureSignals() (studies, sites []domain.SignalRecord) {
	for i := range 10 {
		studies = append(studies, signal(fmt.Sprintf("Study_%d", i+1), "", float64(i*3), float64(i)))
	}
	for i := range 30 {
		study := fmt.Sprintf("Study_%d", i%10+1)
		sites = append(sites, signal(study, fmt.Sprintf("Site_%d", i+1), float64(i%7), float64(i%3)))
	}
	return studies, sites
}

func newTestPipeline(t *testing.T, method string) (*Pipeline, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	out := &bytes.Buffer{}
	p, err := New(Options{
		Paths:        Paths{DataDir: filepath.Join(dir, "data"), OutputDir: filepath.Join(dir, "outputs")},
		Anomaly:      domain.AnomalyConfig{Method: method, Strength: 0.2, Seed: 7},
		WriteParquet: true,
		Out:          out,
	})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	p.WithClock(func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) })
	if err := os.MkdirAll(p.Paths().OutputDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return p, out
}

func writeSignals(t *testing.T, p *Pipeline) {
	t.Helper()
	studies, sites := fixtureSignals()
	if err := tabular.WriteSignals(p.Paths().StudySignals(), studies); err != nil {
		t.Fatalf("write study signals: %v", err)
	}
	if err := tabular.WriteSignals(p.Paths().SiteSignals(), sites); err != nil {
		t.Fatalf("write site signals: %v", err)
	}
}

func TestNew(t *testing.T) {
	t.Run("UnknownDetectorFallsBack", func(t *testing.T) {
		p, err := New(Options{Anomaly: domain.AnomalyConfig{Method: "autoencoder"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Detector() != "none" {
			t.Errorf("expected no-op detector, got %s", p.Detector())
		}
		if p.Paths() != DefaultPaths() {
			t.Errorf("expected default paths, got %+v", p.Paths())
		}
	})

	t.Run("InvalidGuidance", func(t *testing.T) {
		_, err := New(Options{Guidance: []report.GuidanceRule{{ID: "bad", Expression: "dqi +"}}})
		if err == nil {
			t.Fatal("expected guidance compile error")
		}
	})
}

func TestNewFromConfigGuidance(t *testing.T) {
	dir := t.TempDir()
	cfg := domain.DefaultConfig()
	cfg.Pipeline.DataDir = filepath.Join(dir, "data")
	cfg.Pipeline.OutputDir = filepath.Join(dir, "outputs")
	cfg.Anomaly.Method = "none"
	cfg.Report.Guidance = []domain.GuidanceRule{
		{ID: "escalate", Expression: `risk_level == "High"`, Text: "Escalate to the study lead"},
	}

	p, err := NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	writeSignals(t, p)

	outcome, err := p.RunAll(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(outcome.Report, "Escalate to the study lead") {
		t.Error("expected configured guidance in the report")
	}
	if strings.Contains(outcome.Report, "Missing Visit Action") {
		t.Error("expected configured guidance to replace the built-in rules")
	}
}

func TestMissingPrerequisites(t *testing.T) {
	p, out := newTestPipeline(t, "none")
	ctx := context.Background()

	if _, err := p.ComputeDQI(ctx); !errors.Is(err, domain.ErrMissingPrerequisite) {
		t.Errorf("ComputeDQI: expected missing prerequisite, got %v", err)
	}
	if _, err := p.RankRisk(ctx); !errors.Is(err, domain.ErrMissingPrerequisite) {
		t.Errorf("RankRisk: expected missing prerequisite, got %v", err)
	}
	if _, err := p.GenerateSummary(ctx); !errors.Is(err, domain.ErrMissingPrerequisite) {
		t.Errorf("GenerateSummary: expected missing prerequisite, got %v", err)
	}
	if _, err := p.DiscoverSchema(ctx); !errors.Is(err, domain.ErrMissingPrerequisite) {
		t.Errorf("DiscoverSchema: expected missing prerequisite, got %v", err)
	}

	text := out.String()
	for _, want := range []string{MsgNoSignals, MsgNoDQI, MsgNoRisk, "❌ ERROR: Directory '"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected output to contain %q", want)
		}
	}

	entries, _ := os.ReadDir(p.Paths().OutputDir)
	if len(entries) != 0 {
		t.Errorf("expected no artifacts, found %d", len(entries))
	}
}

func TestRunAllWithoutDetector(t *testing.T) {
	p, out := newTestPipeline(t, "none")
	writeSignals(t, p)

	outcome, err := p.RunAll(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if outcome.Detector != "none" || outcome.Anomalies != nil {
		t.Errorf("expected no anomaly output, got %s with %d results", outcome.Detector, len(outcome.Anomalies))
	}
	if len(outcome.Studies) != 10 || len(outcome.Sites) != 30 {
		t.Fatalf("expected 10 studies and 30 sites, got %d and %d", len(outcome.Studies), len(outcome.Sites))
	}
	for i, r := range outcome.Studies {
		if r.Rank != i+1 {
			t.Errorf("study %d has rank %d", i, r.Rank)
		}
		if i > 0 && r.DQIScore < outcome.Studies[i-1].DQIScore {
			t.Errorf("studies not ordered worst first at %d", i)
		}
	}
	if outcome.Studies[0].RiskLevel != domain.RiskHigh {
		t.Errorf("expected worst study to be high risk, got %s", outcome.Studies[0].RiskLevel)
	}

	paths := p.Paths()
	if !tabular.Exists(paths.StudyDQI(), paths.SiteDQI(), paths.StudyRisk(), paths.SiteRisk(),
		paths.StudyRiskParquet(), paths.SiteRiskParquet(), paths.Report()) {
		t.Error("expected every artifact to be written")
	}
	if tabular.Exists(paths.Anomalies()) {
		t.Error("expected no anomalies file without a detector")
	}

	saved, err := os.ReadFile(paths.Report())
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if string(saved) != outcome.Report {
		t.Error("expected saved report to match the returned text")
	}
	if !strings.Contains(outcome.Report, "Generated: 2026-03-04 05:06:07.000000") {
		t.Error("expected report to use the pipeline clock")
	}

	text := out.String()
	for _, want := range []string{
		"Loaded signals for 10 studies and 30 sites",
		"⚠ Skipping anomaly detection (module not available)",
		"✓ DQI computation complete.",
		"Risk categorization using: dqi_score\n",
		"Risk categorization using: dqi_score_amplified\n",
		"✓ Risk ranking complete.",
		"✓ Summary generation complete.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected output to contain %q", want)
		}
	}
}

func TestRunAllWithDetector(t *testing.T) {
	p, _ := newTestPipeline(t, "mad")
	writeSignals(t, p)

	outcome, err := p.RunAll(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if outcome.Detector != "mad" {
		t.Errorf("expected mad detector, got %s", outcome.Detector)
	}
	if len(outcome.Anomalies) != 30 {
		t.Errorf("expected a result per site, got %d", len(outcome.Anomalies))
	}
	if !tabular.Exists(p.Paths().Anomalies()) {
		t.Error("expected anomalies file")
	}
	for _, s := range outcome.Sites {
		if !s.HasAmplified || s.Amplified > s.DQIScore {
			t.Errorf("%s/%s: amplified %.2f must not exceed dqi %.2f", s.StudyID, s.SiteID, s.Amplified, s.DQIScore)
		}
	}
	for _, s := range outcome.Studies {
		if !s.HasAnomalySummary {
			t.Errorf("%s: expected anomaly summary columns", s.StudyID)
		}
	}
}

func TestComputeDQIRemovesStaleAnomalies(t *testing.T) {
	p, _ := newTestPipeline(t, "none")
	writeSignals(t, p)
	if err := os.WriteFile(p.Paths().Anomalies(), []byte("study_id,site_id\n"), 0o644); err != nil {
		t.Fatalf("write stale anomalies: %v", err)
	}

	if _, err := p.ComputeDQI(context.Background()); err != nil {
		t.Fatalf("compute DQI: %v", err)
	}
	if tabular.Exists(p.Paths().Anomalies()) {
		t.Error("expected anomalies file from an earlier run to be removed")
	}
	if !tabular.Exists(p.Paths().StudyDQI(), p.Paths().SiteDQI()) {
		t.Error("expected both DQI tables")
	}
}

func TestRankRiskBackfillsLegacyDQI(t *testing.T) {
	p, _ := newTestPipeline(t, "none")

	legacy := "study_id,missing_pages_pct,missing_visits_pct,unresolved_edrr_pct,uncoded_terms_pct,pending_sae_pct,dqi_score\n" +
		"Study_1,0,20,0,0,0,80.52\n" +
		"Study_2,0,0,0,0,0,100.0\n"
	if err := os.WriteFile(p.Paths().StudyDQI(), []byte(legacy), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	siteLegacy := "study_id,site_id,missing_pages_pct,missing_visits_pct,unresolved_edrr_pct,uncoded_terms_pct,pending_sae_pct,dqi_score\n" +
		"Study_1,Site_1,0,20,0,0,0,80.52\n"
	if err := os.WriteFile(p.Paths().SiteDQI(), []byte(siteLegacy), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, err := p.RankRisk(context.Background())
	if err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	top := result.Studies[0]
	if top.StudyID != "Study_1" {
		t.Fatalf("expected Study_1 first, got %s", top.StudyID)
	}
	if top.Penalties[domain.SignalVisits] != 19.48 {
		t.Errorf("expected backfilled visits penalty 19.48, got %.2f", top.Penalties[domain.SignalVisits])
	}
	if top.DriversText() != "Missing Visits" {
		t.Errorf("expected Missing Visits driver, got %q", top.DriversText())
	}
}

func TestDiscoverSchema(t *testing.T) {
	p, out := newTestPipeline(t, "none")
	studyDir := filepath.Join(p.Paths().DataDir, "Study 1")
	if err := os.MkdirAll(studyDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(studyDir, "visits.csv"), []byte("Subject,Visit,Date\n1,2,3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	schema, err := p.DiscoverSchema(context.Background())
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if len(schema.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(schema.Files))
	}

	data, err := os.ReadFile(p.Paths().SchemaMap())
	if err != nil {
		t.Fatalf("read schema map: %v", err)
	}
	var m map[string][]string
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode schema map: %v", err)
	}
	if cols := m[filepath.Join("Study 1", "visits.csv")]; len(cols) != 3 {
		t.Errorf("expected 3 columns, got %v", m)
	}
	if !tabular.Exists(p.Paths().SchemaSummary()) {
		t.Error("expected schema summary")
	}
	if !strings.Contains(out.String(), "✓ Successfully discovered 1 files") {
		t.Error("expected discovery count in output")
	}
}

func TestEvaluate(t *testing.T) {
	p, _ := newTestPipeline(t, "iforest")
	studies, sites := fixtureSignals()

	eval, err := p.Evaluate(context.Background(), studies, sites)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if eval.StudyDistribution.Total != 10 || eval.SiteDistribution.Total != 30 {
		t.Errorf("unexpected totals: %+v %+v", eval.StudyDistribution, eval.SiteDistribution)
	}
	if eval.Detector != "iforest" || len(eval.Anomalies) != 30 {
		t.Errorf("expected iforest results, got %s with %d", eval.Detector, len(eval.Anomalies))
	}

	entries, _ := os.ReadDir(p.Paths().OutputDir)
	if len(entries) != 0 {
		t.Errorf("expected evaluation to write nothing, found %d files", len(entries))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Evaluate(ctx, studies, sites); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation, got %v", err)
	}
}
