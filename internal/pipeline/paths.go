package pipeline

import "path/filepath"

// Paths resolves every pipeline artifact under the data and output directories.
type Paths struct {
	DataDir   string
	OutputDir string
}

// DefaultPaths returns the conventional relative layout.
func DefaultPaths() Paths {
	return Paths{DataDir: "data", OutputDir: "outputs"}
}

func (p Paths) out(name string) string { return filepath.Join(p.OutputDir, name) }

func (p Paths) StudySignals() string { return p.out("signals_study_level.csv") }
func (p Paths) SiteSignals() string { return p.out("signals_site_level.csv") }
func (p Paths) StudyDQI() string { return p.out("dqi_scores.csv") }
func (p Paths) SiteDQI() string { return p.out("dqi_scores_site_level.csv") }
func (p Paths) Anomalies() string { return p.out("anomalies_site_level.csv") }
func (p Paths) StudyRisk() string { return p.out("risk_rankings.csv") }
func (p Paths) SiteRisk() string { return p.out("risk_rankings_site_level.csv") }
func (p Paths) StudyRiskParquet() string { return p.out("risk_rankings.parquet") }
func (p Paths) SiteRiskParquet() string { return p.out("risk_rankings_site_level.parquet") }
func (p Paths) Report() string { return p.out("executive_summary.txt") }
func (p Paths) SchemaSummary() string { return p.out("schema_summary.txt") }
func (p Paths) SchemaMap() string { return p.out("schema_map.json") }
