package domain

import (
	"context"
	"time"
)

// Repository defines the interface for run history persistence.
type Repository interface {
	// Run operations. SaveRun stores the run and its ranked tables atomically.
	SaveRun(ctx context.Context, run *Run, studies, sites []RiskRecord) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	LatestRun(ctx context.Context) (*Run, error)

	// Ranked results of a run, in rank order
	ListStudyResults(ctx context.Context, runID string) ([]RiskRecord, error)
	ListSiteResults(ctx context.Context, runID string) ([]RiskRecord, error)

	// StudyHistory returns a study's score in every completed run, oldest first.
	StudyHistory(ctx context.Context, studyID string, since time.Time) ([]TrendPoint, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"-" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
