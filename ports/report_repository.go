package ports

import (
	"context"

	"trialcheck/domain/core"
	"trialcheck/domain/verdict"
)

// ReportRepository persists verification reports for later audit.
type ReportRepository interface {
	EnsureSchema(ctx context.Context) error
	SaveReport(ctx context.Context, report *verdict.VerificationReport) error
	GetReport(ctx context.Context, runID core.RunID) (*verdict.VerificationReport, error)
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
}

// RunSummary is the list view of a stored run.
type RunSummary struct {
	RunID        core.RunID     `db:"run_id" json:"run_id"`
	BaseURL      string         `db:"base_url" json:"base_url"`
	Seed         int64          `db:"seed" json:"seed"`
	StartedAt    core.Timestamp `db:"-" json:"started_at"`
	PassCount    int            `db:"pass_count" json:"pass_count"`
	FailCount    int            `db:"fail_count" json:"fail_count"`
	ErrorCount   int            `db:"error_count" json:"error_count"`
	MaxDeviation float64        `db:"max_deviation" json:"max_deviation"`
	Overall      bool           `db:"overall" json:"overall"`
}
