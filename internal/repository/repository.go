// Package repository provides run history persistence.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/clinicalops/trialrisk/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores a run and its ranked tables in one transaction.
func (r *SQLRepository) SaveRun(ctx context.Context, run *domain.Run, studies, sites []domain.RiskRecord) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", domain.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO runs (
			id, run_trigger, status, error, detector, started_at, finished_at,
			study_count, site_count, high_risk, medium_risk, low_risk,
			anomalous_sites, average_dqi, report
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, r.rebind(query),
		run.ID, run.Trigger, run.Status, run.Error, run.Detector,
		run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.StudyCount, run.SiteCount, run.HighRisk, run.MediumRisk, run.LowRisk,
		run.AnomalousSites, nullable(run.AverageDQI), run.Report,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if err := r.insertResults(ctx, tx, "study_results", run.ID, studies); err != nil {
		return err
	}
	if err := r.insertResults(ctx, tx, "site_results", run.ID, sites); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *SQLRepository) insertResults(ctx context.Context, tx *sql.Tx, table, runID string, records []domain.RiskRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO ` + table + ` (` + resultFields + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return fmt.Errorf("failed to prepare %s insert: %w", table, err)
	}
	defer stmt.Close()

	for i, rec := range records {
		rank := rec.Rank
		if rank == 0 {
			rank = i + 1
		}
		var counts any
		if rec.HasCounts {
			counts = encodeValues(rec.Counts)
		}
		_, err := stmt.ExecContext(ctx,
			runID, rank, rec.StudyID, rec.SiteID, rec.WithinStudyRank,
			nullable(rec.DQIScore), nullable(rec.Amplified),
			string(rec.RiskLevel), rec.RiskDriver, strings.Join(rec.TopDrivers, driverSep),
			encodeValues(rec.Signals), encodeValues(rec.Penalties), counts,
			nullable(rec.AnomalyScore), boolInt(rec.IsAnomalous),
			nullable(rec.AvgAnomalyScore), rec.NumAnomalousSites, flagsOf(rec),
		)
		if err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}
	return nil
}

const runFields = `id, run_trigger, status, error, detector, started_at, finished_at,
	study_count, site_count, high_risk, medium_risk, low_risk, anomalous_sites, average_dqi`

func scanRun(row interface{ Scan(...any) error }, withReport bool) (*domain.Run, error) {
	var run domain.Run
	var errText, report sql.NullString
	var avg sql.NullFloat64

	dest := []any{
		&run.ID, &run.Trigger, &run.Status, &errText, &run.Detector,
		&run.StartedAt, &run.FinishedAt,
		&run.StudyCount, &run.SiteCount, &run.HighRisk, &run.MediumRisk, &run.LowRisk,
		&run.AnomalousSites, &avg,
	}
	if withReport {
		dest = append(dest, &report)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	run.Error = errText.String
	run.Report = report.String
	run.AverageDQI = avg.Float64
	return &run, nil
}

// GetRun retrieves a run, including its report, by ID.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	query := `SELECT ` + runFields + `, report FROM runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), runID), true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first, without reports.
func (r *SQLRepository) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runFields + ` FROM runs ORDER BY started_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows, false)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recent completed run.
func (r *SQLRepository) LatestRun(ctx context.Context) (*domain.Run, error) {
	query := `SELECT ` + runFields + `, report FROM runs WHERE status = ? ORDER BY started_at DESC LIMIT 1`

	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), domain.RunStatusCompleted), true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListStudyResults returns a run's study table in rank order.
func (r *SQLRepository) ListStudyResults(ctx context.Context, runID string) ([]domain.RiskRecord, error) {
	return r.listResults(ctx, "study_results", runID)
}

// ListSiteResults returns a run's site table in rank order.
func (r *SQLRepository) ListSiteResults(ctx context.Context, runID string) ([]domain.RiskRecord, error) {
	return r.listResults(ctx, "site_results", runID)
}

func (r *SQLRepository) listResults(ctx context.Context, table, runID string) ([]domain.RiskRecord, error) {
	query := `SELECT ` + resultFields + ` FROM ` + table + ` WHERE run_id = ? ORDER BY position`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.RiskRecord
	for rows.Next() {
		rec, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// StudyHistory returns a study's score in every completed run since the
// given time, oldest first. Runs where the study had no score are skipped.
func (r *SQLRepository) StudyHistory(ctx context.Context, studyID string, since time.Time) ([]domain.TrendPoint, error) {
	query := `
		SELECT r.id, s.study_id, s.dqi_score, s.risk_level, s.position, r.started_at
		FROM study_results s
		JOIN runs r ON r.id = s.run_id
		WHERE s.study_id = ? AND r.status = ? AND r.started_at >= ?
		ORDER BY r.started_at ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), studyID, domain.RunStatusCompleted, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []domain.TrendPoint
	for rows.Next() {
		var p domain.TrendPoint
		var dqi sql.NullFloat64
		var level string
		if err := rows.Scan(&p.RunID, &p.StudyID, &dqi, &level, &p.Rank, &p.At); err != nil {
			return nil, err
		}
		if !dqi.Valid {
			continue
		}
		p.RiskLevel = domain.RiskLevel(level)
		p.DQIScore = dqi.Float64
		points = append(points, p)
	}
	return points, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

// nullable maps NaN to SQL NULL.
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
