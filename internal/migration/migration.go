package migration

import (
	"context"

	"github.com/jmoiron/sqlx"

	"trialcheck/internal/errors"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations. Every statement is
// idempotent and valid on both PostgreSQL and SQLite.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createRunsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create verification_runs table")
	}

	if err := r.createVerdictsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create scenario_verdicts table")
	}

	if err := r.createRecordsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create deviation_records table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

// Timestamps are RFC 3339 text so that SQLite and PostgreSQL sort them alike.
func (r *MigrationRunner) createRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS verification_runs (
			run_id TEXT PRIMARY KEY,
			base_url TEXT NOT NULL,
			seed BIGINT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			pass_count INTEGER NOT NULL,
			fail_count INTEGER NOT NULL,
			error_count INTEGER NOT NULL,
			max_deviation DOUBLE PRECISION NOT NULL,
			worst_scenario_id TEXT,
			overall BOOLEAN NOT NULL,
			report_json TEXT NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) createVerdictsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS scenario_verdicts (
			run_id TEXT NOT NULL REFERENCES verification_runs(run_id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			scenario_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT,
			duration_ms BIGINT NOT NULL,
			PRIMARY KEY (run_id, scenario_id)
		)
	`)
	return err
}

// Non-finite values are stored as NULL.
func (r *MigrationRunner) createRecordsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS deviation_records (
			run_id TEXT NOT NULL REFERENCES verification_runs(run_id) ON DELETE CASCADE,
			scenario_id TEXT NOT NULL,
			metric TEXT NOT NULL,
			element_index INTEGER NOT NULL,
			check_kind TEXT NOT NULL,
			reference_value DOUBLE PRECISION,
			observed_value DOUBLE PRECISION,
			deviation DOUBLE PRECISION,
			threshold DOUBLE PRECISION,
			tolerance_mode TEXT NOT NULL,
			passed BOOLEAN NOT NULL,
			note TEXT
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_verification_runs_started_at ON verification_runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_scenario_verdicts_status ON scenario_verdicts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_deviation_records_run ON deviation_records(run_id, scenario_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deviation_records_failed ON deviation_records(passed, metric)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
