package tabular

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/clinicalops/trialrisk/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestReadSignals(t *testing.T) {
	dir := t.TempDir()

	t.Run("SiteLevelWithBOM", func(t *testing.T) {
		path := writeFile(t, dir, "sites.csv", "\ufeffstudy_id,site_id,missing_pages_pct,missing_visits_pct,unresolved_edrr_pct,uncoded_terms_pct,pending_sae_pct\n"+
			"Study_1,Site_7,1.5,20,,nan,abc\n")

		records, err := ReadSignals(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(records))
		}

		r := records[0]
		if r.StudyID != "Study_1" || r.SiteID != "Site_7" {
			t.Errorf("unexpected keys: %s/%s", r.StudyID, r.SiteID)
		}
		if r.Signals[domain.SignalPages] != 1.5 || r.Signals[domain.SignalVisits] != 20 {
			t.Errorf("unexpected signals: %v", r.Signals)
		}
		for _, s := range []domain.Signal{domain.SignalEDRR, domain.SignalCodes, domain.SignalSAE} {
			if !math.IsNaN(r.Signals[s]) {
				t.Errorf("%s: expected NaN, got %v", s.Key(), r.Signals[s])
			}
		}
		if r.HasCounts {
			t.Error("expected no counts")
		}
	})

	t.Run("StudyLevelWithCounts", func(t *testing.T) {
		path := writeFile(t, dir, "studies.csv", "study_id,missing_pages_pct,missing_visits_pct,unresolved_edrr_pct,uncoded_terms_pct,pending_sae_pct,"+
			"missing_pages,missing_visits,unresolved_edrr,uncoded_terms,pending_sae_reviews\n"+
			"Study_2,0,0,0,0,0,3,4,5,6,7\n")

		records, err := ReadSignals(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if records[0].IsSite() {
			t.Error("expected a study record")
		}
		if !records[0].HasCounts || records[0].Counts[domain.SignalSAE] != 7 {
			t.Errorf("expected counts, got %v", records[0].Counts)
		}
	})

	t.Run("MissingColumn", func(t *testing.T) {
		path := writeFile(t, dir, "bad.csv", "study_id,missing_pages_pct\nStudy_1,2\n")
		if _, err := ReadSignals(path); err == nil {
			t.Error("expected error for missing signal columns")
		}
	})
}

func sampleDQI() []domain.DQIRecord {
	a := domain.DQIRecord{DQIScore: 80.52, Amplified: 70.1, HasAmplified: true, AnomalyScore: 0.71, IsAnomalous: true, HasAnomaly: true}
	a.StudyID, a.SiteID = "Study_1", "Site_1"
	a.Signals = domain.SignalValues{0, 20, 0, 0, 0}
	a.Penalties = domain.SignalValues{0, 19.48, 0, 0, 0}

	b := domain.DQIRecord{DQIScore: 100, Amplified: 100, HasAmplified: true, AnomalyScore: 0.4, HasAnomaly: true}
	b.StudyID, b.SiteID = "Study_1", "Site_2"
	b.Signals = domain.SignalValues{1, 2, 3, 4, math.NaN()}
	return []domain.DQIRecord{a, b}
}

func TestDQIRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outputs", "dqi_scores_site_level.csv")
	records := sampleDQI()

	if err := WriteDQI(path, records); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, hasPenalties, err := ReadDQI(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !hasPenalties {
		t.Error("expected penalty columns")
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].DQIScore != 80.52 || got[0].Penalties[domain.SignalVisits] != 19.48 {
		t.Errorf("unexpected scores: %+v", got[0])
	}
	if !got[0].HasAmplified || got[0].Amplified != 70.1 || !got[0].IsAnomalous {
		t.Errorf("expected anomaly columns, got %+v", got[0])
	}
	if !math.IsNaN(got[1].Signals[domain.SignalSAE]) {
		t.Error("expected NaN to survive as an empty cell")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the artifact in the directory, got %d entries", len(entries))
	}
}

func TestReadDQILegacy(t *testing.T) {
	path := writeFile(t, t.TempDir(), "dqi_scores.csv", "study_id,missing_pages_pct,missing_visits_pct,unresolved_edrr_pct,uncoded_terms_pct,pending_sae_pct,dqi_score\n"+
		"Study_1,0,20,0,0,0,80.52\n")

	got, hasPenalties, err := ReadDQI(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if hasPenalties {
		t.Error("expected legacy table without penalties")
	}
	if got[0].HasAmplified || got[0].HasAnomaly {
		t.Error("expected no anomaly columns")
	}
}

func TestRiskRoundTrip(t *testing.T) {
	dir := t.TempDir()

	t.Run("Sites", func(t *testing.T) {
		var records []domain.RiskRecord
		for i, rec := range sampleDQI() {
			records = append(records, domain.RiskRecord{
				DQIRecord:       rec,
				RiskLevel:       domain.RiskHigh,
				TopDrivers:      []string{"Missing Visits", "CRF Pages"},
				Rank:            i + 1,
				WithinStudyRank: i + 1,
				RiskDriver:      domain.DriverAnomaly,
			})
		}
		path := filepath.Join(dir, "risk_rankings_site_level.csv")
		if err := WriteRisk(path, records); err != nil {
			t.Fatalf("write: %v", err)
		}

		raw, _ := os.ReadFile(path)
		header := strings.SplitN(string(raw), "\n", 2)[0]
		if !strings.HasPrefix(header, "study_id,site_id,global_rank,within_study_rank,dqi_score,risk_level,risk_driver,total_signal_pct,top_risk_drivers") {
			t.Errorf("unexpected header: %s", header)
		}

		got, err := ReadRisk(path)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got[1].Rank != 2 || got[1].WithinStudyRank != 2 {
			t.Errorf("unexpected ranks: %d/%d", got[1].Rank, got[1].WithinStudyRank)
		}
		if !reflect.DeepEqual(got[0].TopDrivers, []string{"Missing Visits", "CRF Pages"}) {
			t.Errorf("unexpected drivers: %v", got[0].TopDrivers)
		}
		if got[0].RiskDriver != domain.DriverAnomaly || got[0].RiskLevel != domain.RiskHigh {
			t.Errorf("unexpected tier data: %+v", got[0])
		}
	})

	t.Run("Studies", func(t *testing.T) {
		rec := domain.RiskRecord{RiskLevel: domain.RiskLow, Rank: 1}
		rec.StudyID = "Study_9"
		rec.DQIScore = 100
		path := filepath.Join(dir, "risk_rankings.csv")
		if err := WriteRisk(path, []domain.RiskRecord{rec}); err != nil {
			t.Fatalf("write: %v", err)
		}

		raw, _ := os.ReadFile(path)
		if !strings.HasPrefix(string(raw), "rank,study_id,dqi_score,risk_level,total_signal_pct,top_risk_drivers") {
			t.Errorf("unexpected header: %s", strings.SplitN(string(raw), "\n", 2)[0])
		}

		got, err := ReadRisk(path)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got[0].Rank != 1 || got[0].IsSite() || len(got[0].TopDrivers) != 0 {
			t.Errorf("unexpected record: %+v", got[0])
		}
	})
}

func TestRiskParquet(t *testing.T) {
	rec := domain.RiskRecord{DQIRecord: sampleDQI()[0], RiskLevel: domain.RiskHigh, TopDrivers: []string{"Missing Visits"}, Rank: 1, WithinStudyRank: 1}
	path := filepath.Join(t.TempDir(), "risk_rankings_site_level.parquet")

	if err := WriteRiskParquet(path, []domain.RiskRecord{rec}); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows, err := ReadRiskParquet(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 1 || rows[0].SiteID != "Site_1" || rows[0].PenaltyVisits != 19.48 {
		t.Errorf("unexpected rows: %+v", rows)
	}
}

func TestWriteAnomalies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anomalies_site_level.csv")
	err := WriteAnomalies(path, []domain.AnomalyResult{{StudyID: "Study_1", SiteID: "Site_1", DQIScore: 80.52, AnomalyScore: 0.71, IsAnomalous: true}})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	raw, _ := os.ReadFile(path)
	want := "study_id,site_id,dqi_score,anomaly_score,is_anomalous\nStudy_1,Site_1,80.52,0.71,True\n"
	if string(raw) != want {
		t.Errorf("expected %q, got %q", want, string(raw))
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "x")
	if !Exists(path) {
		t.Error("expected file to exist")
	}
	if Exists(path, filepath.Join(dir, "missing.txt")) {
		t.Error("expected false when any path is missing")
	}
}

func TestBatch(t *testing.T) {
	records := []domain.DQIRecord{{SignalRecord: domain.SignalRecord{StudyID: "Study_1"}, DQIScore: 100}}

	t.Run("CommitWritesAll", func(t *testing.T) {
		dir := t.TempDir()
		study, site := filepath.Join(dir, "study.csv"), filepath.Join(dir, "site.csv")

		b := NewBatch()
		if err := b.WriteDQI(study, records); err != nil {
			t.Fatalf("stage study: %v", err)
		}
		if err := b.WriteDQI(site, records); err != nil {
			t.Fatalf("stage site: %v", err)
		}
		if Exists(study) || Exists(site) {
			t.Fatal("expected nothing in place before commit")
		}
		if err := b.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
		if !Exists(study, site) {
			t.Error("expected both tables after commit")
		}
	})

	t.Run("FailedStageKeepsPrevious", func(t *testing.T) {
		dir := t.TempDir()
		study := writeFile(t, dir, "study.csv", "previous")
		blocker := writeFile(t, dir, "blocked", "not a directory")

		b := NewBatch()
		if err := b.WriteDQI(study, records); err != nil {
			t.Fatalf("stage study: %v", err)
		}
		if err := b.WriteDQI(filepath.Join(blocker, "site.csv"), records); err == nil {
			t.Fatal("expected staging under a regular file to fail")
		}
		b.Abort()

		raw, _ := os.ReadFile(study)
		if string(raw) != "previous" {
			t.Errorf("expected study table untouched, got %q", string(raw))
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 2 {
			t.Errorf("expected temp files removed, found %d entries", len(entries))
		}
	})
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "anomalies.csv", "x")
	if err := Remove(path, filepath.Join(dir, "missing.csv")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Exists(path) {
		t.Error("expected file removed")
	}
}
