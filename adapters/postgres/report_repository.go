package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"trialcheck/domain/core"
	"trialcheck/domain/scenario"
	"trialcheck/domain/verdict"
	"trialcheck/internal"
	"trialcheck/internal/errors"
	"trialcheck/internal/migration"
	"trialcheck/ports"
)

// Connect opens and pings a database for report persistence. driver is
// "postgres" or "sqlite3".
func Connect(ctx context.Context, driver, url string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, driver, url)
	if err != nil {
		return nil, errors.DatabaseError("failed to connect to "+driver, err)
	}
	if driver == "sqlite3" {
		// One connection keeps in-memory databases alive and serialises writers.
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// ReportRepositoryImpl implements ReportRepository on PostgreSQL or SQLite.
// Queries use ? placeholders and are rebound for the driver.
type ReportRepositoryImpl struct {
	db       *sqlx.DB
	migrator migration.Migrator
	logger   *internal.Logger
}

var _ ports.ReportRepository = (*ReportRepositoryImpl)(nil)

// NewReportRepository creates a report repository
func NewReportRepository(db *sqlx.DB) *ReportRepositoryImpl {
	return &ReportRepositoryImpl{
		db:       db,
		migrator: migration.NewRunner(),
		logger:   internal.DefaultLogger.Component("ReportRepository"),
	}
}

// EnsureSchema creates the tables if they do not exist
func (r *ReportRepositoryImpl) EnsureSchema(ctx context.Context) error {
	if err := r.migrator.Run(ctx, r.db); err != nil {
		return errors.DatabaseError("schema migration failed", err)
	}
	r.logger.Debug("schema version %s ready", r.migrator.Version())
	return nil
}

// SaveReport stores a report with its verdicts and deviation records,
// replacing any earlier copy of the same run.
func (r *ReportRepositoryImpl) SaveReport(ctx context.Context, report *verdict.VerificationReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return errors.DatabaseError("failed to encode report", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, table := range []string{"deviation_records", "scenario_verdicts", "verification_runs"} {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM `+table+` WHERE run_id = ?`), report.RunID); err != nil {
			return errors.DatabaseError("failed to clear previous copy of run", err)
		}
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO verification_runs (
			run_id, base_url, seed, started_at, finished_at,
			pass_count, fail_count, error_count, max_deviation,
			worst_scenario_id, overall, report_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), report.RunID, report.BaseURL, int64(report.Seed), formatTime(report.StartedAt), formatTime(report.FinishedAt),
		report.PassCount, report.FailCount, report.ErrorCount, report.MaxDeviation,
		string(report.WorstScenarioID), report.Overall, string(body))
	if err != nil {
		return errors.DatabaseError("failed to insert run", err)
	}

	insertVerdict := tx.Rebind(`
		INSERT INTO scenario_verdicts (run_id, position, scenario_id, kind, status, error_message, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	insertRecord := tx.Rebind(`
		INSERT INTO deviation_records (
			run_id, scenario_id, metric, element_index, check_kind,
			reference_value, observed_value, deviation, threshold,
			tolerance_mode, passed, note
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for i, v := range report.Scenarios {
		if _, err := tx.ExecContext(ctx, insertVerdict, report.RunID, i, v.ScenarioID, string(v.Kind),
			string(v.Status), v.Error, v.Duration.Milliseconds()); err != nil {
			return errors.DatabaseError("failed to insert verdict "+string(v.ScenarioID), err)
		}
		for _, rec := range v.Records {
			if _, err := tx.ExecContext(ctx, insertRecord, report.RunID, rec.ScenarioID, rec.Metric, rec.Index,
				string(rec.Check), nullable(rec.Reference), nullable(rec.Observed), nullable(rec.Deviation),
				nullable(rec.Threshold), string(rec.Mode), rec.Passed, rec.Note); err != nil {
				return errors.DatabaseError("failed to insert deviation record", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("failed to commit report", err)
	}
	r.logger.Info("saved run %s (%d scenarios, %d records)", report.RunID, len(report.Scenarios), len(report.Records))
	return nil
}

// GetReport loads a stored report by run ID
func (r *ReportRepositoryImpl) GetReport(ctx context.Context, runID core.RunID) (*verdict.VerificationReport, error) {
	var body string
	err := r.db.GetContext(ctx, &body, r.db.Rebind(`SELECT report_json FROM verification_runs WHERE run_id = ?`), runID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("run " + string(runID))
	}
	if err != nil {
		return nil, errors.DatabaseError("failed to load run", err)
	}

	var report verdict.VerificationReport
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, errors.DatabaseError("stored report is corrupt", err)
	}
	return &report, nil
}

type runRow struct {
	ports.RunSummary
	StartedAt string `db:"started_at"`
}

// ListRuns returns the most recent runs first
func (r *ReportRepositoryImpl) ListRuns(ctx context.Context, limit int) ([]ports.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []runRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT run_id, base_url, seed, started_at, pass_count, fail_count, error_count, max_deviation, overall
		FROM verification_runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, errors.DatabaseError("failed to list runs", err)
	}

	out := make([]ports.RunSummary, 0, len(rows))
	for _, row := range rows {
		started, err := time.Parse(timeLayout, row.StartedAt)
		if err != nil {
			return nil, errors.DatabaseError("invalid started_at for run "+string(row.RunID), err)
		}
		s := row.RunSummary
		s.StartedAt = core.NewTimestamp(started)
		out = append(out, s)
	}
	return out, nil
}

// FailedRecords returns the failing deviation records of a run, for audits
// that query across runs without decoding whole reports.
func (r *ReportRepositoryImpl) FailedRecords(ctx context.Context, runID core.RunID) ([]verdict.DeviationRecord, error) {
	var rows []struct {
		ScenarioID string          `db:"scenario_id"`
		Metric     string          `db:"metric"`
		Index      int             `db:"element_index"`
		Check      string          `db:"check_kind"`
		Reference  sql.NullFloat64 `db:"reference_value"`
		Observed   sql.NullFloat64 `db:"observed_value"`
		Deviation  sql.NullFloat64 `db:"deviation"`
		Threshold  sql.NullFloat64 `db:"threshold"`
		Mode       string          `db:"tolerance_mode"`
		Note       sql.NullString  `db:"note"`
	}
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT scenario_id, metric, element_index, check_kind, reference_value, observed_value,
			deviation, threshold, tolerance_mode, note
		FROM deviation_records
		WHERE run_id = ? AND passed = ?
		ORDER BY scenario_id, metric, element_index
	`), runID, false)
	if err != nil {
		return nil, errors.DatabaseError("failed to load deviation records", err)
	}

	out := make([]verdict.DeviationRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, verdict.DeviationRecord{
			ScenarioID: core.ScenarioID(row.ScenarioID),
			Metric:     row.Metric,
			Index:      row.Index,
			Check:      scenario.CheckKind(row.Check),
			Reference:  orNaN(row.Reference),
			Observed:   orNaN(row.Observed),
			Deviation:  orNaN(row.Deviation),
			Threshold:  orNaN(row.Threshold),
			Mode:       scenario.ToleranceMode(row.Mode),
			Note:       row.Note.String,
		})
	}
	return out, nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t core.Timestamp) string {
	return t.Time().UTC().Format(timeLayout)
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
