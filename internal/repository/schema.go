package repository

// Schema definitions for the run history store.
// Compatible with both SQLite and PostgreSQL.

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    run_trigger TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    detector TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    study_count INTEGER NOT NULL DEFAULT 0,
    site_count INTEGER NOT NULL DEFAULT 0,
    high_risk INTEGER NOT NULL DEFAULT 0,
    medium_risk INTEGER NOT NULL DEFAULT 0,
    low_risk INTEGER NOT NULL DEFAULT 0,
    anomalous_sites INTEGER NOT NULL DEFAULT 0,
    average_dqi REAL,
    report TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// Result tables share one layout. Signal vectors are stored as comma-joined
// text so NaN survives the round trip.
const resultColumns = `
    run_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    study_id TEXT NOT NULL,
    site_id TEXT NOT NULL DEFAULT '',
    within_study_rank INTEGER NOT NULL DEFAULT 0,
    dqi_score REAL,
    dqi_amplified REAL,
    risk_level TEXT NOT NULL,
    risk_driver TEXT,
    top_drivers TEXT NOT NULL,
    signals TEXT NOT NULL,
    penalties TEXT NOT NULL,
    counts TEXT,
    anomaly_score REAL,
    is_anomalous INTEGER NOT NULL DEFAULT 0,
    avg_anomaly_score REAL,
    num_anomalous_sites INTEGER NOT NULL DEFAULT 0,
    flags INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, position)`

const schemaStudyResults = `
CREATE TABLE IF NOT EXISTS study_results (` + resultColumns + `
);

CREATE INDEX IF NOT EXISTS idx_study_results_study ON study_results(study_id);
`

const schemaSiteResults = `
CREATE TABLE IF NOT EXISTS site_results (` + resultColumns + `
);

CREATE INDEX IF NOT EXISTS idx_site_results_study ON site_results(run_id, study_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuns,
		schemaStudyResults,
		schemaSiteResults,
	}
}
