package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"trialcheck/domain/core"
	"trialcheck/domain/scenario"
	"trialcheck/domain/stats"
	"trialcheck/domain/verdict"
	"trialcheck/internal"
	"trialcheck/internal/aggregate"
	"trialcheck/internal/comparison"
	"trialcheck/internal/config"
	"trialcheck/internal/errors"
	"trialcheck/ports"
)

// OfflineBaseURL labels reports produced without a service.
const OfflineBaseURL = "offline"

// VerificationOptions bounds the load a run puts on the service under test.
type VerificationOptions struct {
	Concurrency    int           // max concurrent service calls
	RequestTimeout time.Duration // per service call
}

// VerificationService runs scenarios against the service under test and
// aggregates their verdicts into a report.
type VerificationService struct {
	adapter    ports.ServiceAdapter
	references *ReferenceService
	engine     *comparison.Engine
	repository ports.ReportRepository
	opts       VerificationOptions
	logger     *internal.Logger
}

// RunRequest defines one verification run
type RunRequest struct {
	BaseURL   string
	Seed      uint64
	Scenarios []scenario.Scenario
}

// NewVerificationService creates a verification service. adapter may be nil
// for offline-only use.
func NewVerificationService(adapter ports.ServiceAdapter, references *ReferenceService, engine *comparison.Engine, opts VerificationOptions) *VerificationService {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &VerificationService{
		adapter:    adapter,
		references: references,
		engine:     engine,
		opts:       opts,
		logger:     internal.DefaultLogger.Component("VerificationService"),
	}
}

// WithRepository persists every finished report. Persistence failures are
// logged and never change the verdict.
func (s *VerificationService) WithRepository(repo ports.ReportRepository) *VerificationService {
	s.repository = repo
	return s
}

// Run verifies every scenario against the service. Per-scenario failures are
// recorded in the report; only configuration errors abort the run.
func (s *VerificationService) Run(ctx context.Context, req RunRequest) (*verdict.VerificationReport, error) {
	if s.adapter == nil {
		return nil, errors.ConfigInvalid("no service adapter configured")
	}
	if err := config.ValidateBaseURL(req.BaseURL); err != nil {
		return nil, err
	}
	if err := checkScenarioSet(req.Scenarios); err != nil {
		return nil, err
	}

	runID := core.NewRunID()
	s.logger.Info("run %s: %d scenarios against %s (seed %d, concurrency %d)",
		runID, len(req.Scenarios), req.BaseURL, req.Seed, s.opts.Concurrency)

	agg := aggregate.New(runID, req.BaseURL, req.Seed)
	gate := semaphore.NewWeighted(int64(s.opts.Concurrency))

	// Scenario goroutines never return an error, so one scenario cannot cancel the others.
	var g errgroup.Group
	g.SetLimit(2 * s.opts.Concurrency)
	for i, sc := range req.Scenarios {
		g.Go(func() error {
			agg.Add(i, s.verify(ctx, gate, sc, req.Seed))
			return nil
		})
	}
	_ = g.Wait()

	report := agg.Report()
	s.logger.Info("run %s finished: %d pass, %d fail, %d error, overall=%t",
		runID, report.PassCount, report.FailCount, report.ErrorCount, report.Overall)
	s.persist(ctx, report)
	return report, ctx.Err()
}

// Offline checks the references against the scenarios' literal expectations
// without a service. Scenarios with nothing to compare are left out.
func (s *VerificationService) Offline(ctx context.Context, scenarios []scenario.Scenario, seed uint64) (*verdict.VerificationReport, error) {
	if err := checkScenarioSet(scenarios); err != nil {
		return nil, err
	}
	runID := core.NewRunID()
	agg := aggregate.New(runID, OfflineBaseURL, seed)

	var g errgroup.Group
	g.SetLimit(2 * s.opts.Concurrency)
	for i, sc := range scenarios {
		g.Go(func() error {
			if v, ok := s.verifyOffline(ctx, sc, seed); ok {
				agg.Add(i, v)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := agg.Report()
	s.logger.Info("offline run %s: %d of %d scenarios compared, overall=%t",
		runID, len(report.Scenarios), len(scenarios), report.Overall)
	s.persist(ctx, report)
	return report, ctx.Err()
}

func checkScenarioSet(scenarios []scenario.Scenario) error {
	if len(scenarios) == 0 {
		return errors.ConfigInvalid("scenario set is empty")
	}
	seen := make(map[core.ScenarioID]bool, len(scenarios))
	for _, sc := range scenarios {
		if seen[sc.ID] {
			return errors.ConfigInvalidf("duplicate scenario ID %q", sc.ID)
		}
		seen[sc.ID] = true
	}
	return nil
}

func (s *VerificationService) persist(ctx context.Context, report *verdict.VerificationReport) {
	if s.repository == nil {
		return
	}
	if err := s.repository.SaveReport(ctx, report); err != nil {
		s.logger.Warn("failed to persist report %s: %v", report.RunID, err)
	}
}

// ============================================================================
// PER-SCENARIO PIPELINE
// ============================================================================

func (s *VerificationService) verify(ctx context.Context, gate *semaphore.Weighted, sc scenario.Scenario, baseSeed uint64) verdict.ScenarioVerdict {
	start := time.Now()
	records, err := s.evaluate(ctx, gate, sc, baseSeed)
	v := verdict.NewScenarioVerdict(sc, records, err, time.Since(start))
	if err != nil {
		s.logger.Warn("%s: %s: %v", sc.ID, v.Status, err)
	} else {
		s.logger.Debug("%s: %s (%d records)", sc.ID, v.Status, len(records))
	}
	return v
}

func (s *VerificationService) evaluate(ctx context.Context, gate *semaphore.Weighted, sc scenario.Scenario, baseSeed uint64) ([]verdict.DeviationRecord, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	seed := core.DeriveSeed(baseSeed, sc.ID.String())

	if sc.Kind.Offline() {
		ref, err := s.references.Independent(ctx, sc, seed)
		if err != nil {
			return nil, err
		}
		return s.engine.CompareOffline(sc, ref)
	}

	// The independent reference runs while the service computes.
	var (
		ref    *stats.ReferenceResult
		refErr error
		refs   errgroup.Group
	)
	if !NeedsObservation(sc.Kind) {
		refs.Go(func() error {
			ref, refErr = s.references.Independent(ctx, sc, seed)
			return nil
		})
	}
	obs, callErr := s.call(ctx, gate, sc)
	_ = refs.Wait()

	if refErr != nil {
		return nil, refErr
	}
	if callErr != nil {
		return nil, callErr
	}
	if NeedsObservation(sc.Kind) {
		if ref, refErr = s.references.Conditioned(ctx, sc, seed, obs); refErr != nil {
			return nil, refErr
		}
	}
	return s.engine.Compare(sc, ApplyExpected(sc, ref), obs)
}

func (s *VerificationService) call(ctx context.Context, gate *semaphore.Weighted, sc scenario.Scenario) (*stats.ObservedResult, error) {
	endpoint := sc.Kind.Endpoint()
	if err := gate.Acquire(ctx, 1); err != nil {
		return nil, &core.InfrastructureError{Endpoint: endpoint, Cause: err}
	}
	defer gate.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	obs, err := s.adapter.Call(callCtx, sc.Kind, sc.Inputs.Clone())
	if err != nil {
		if core.IsInfrastructure(err) || core.IsImplementationError(err) {
			return nil, err
		}
		return nil, &core.InfrastructureError{Endpoint: endpoint, Cause: err}
	}
	if obs == nil {
		return nil, &core.SchemaViolationError{Endpoint: endpoint, Problems: []string{"empty response"}}
	}
	return obs, nil
}

func (s *VerificationService) verifyOffline(ctx context.Context, sc scenario.Scenario, baseSeed uint64) (verdict.ScenarioVerdict, bool) {
	start := time.Now()
	if err := sc.Validate(); err != nil {
		return verdict.NewScenarioVerdict(sc, nil, err, time.Since(start)), true
	}
	if NeedsObservation(sc.Kind) && !sc.Inputs.Has("n") {
		s.logger.Debug("%s: skipped offline, the design size comes from the service", sc.ID)
		return verdict.ScenarioVerdict{}, false
	}
	if len(sc.Expected) == 0 && !hasCalibrationMetric(sc) {
		return verdict.ScenarioVerdict{}, false
	}

	seed := core.DeriveSeed(baseSeed, sc.ID.String())
	ref, err := s.references.Conditioned(ctx, sc, seed, nil)
	if err != nil {
		return verdict.NewScenarioVerdict(sc, nil, fmt.Errorf("reference: %w", err), time.Since(start)), true
	}
	records, err := s.engine.CompareOffline(sc, ref)
	if err == nil && len(records) == 0 {
		return verdict.ScenarioVerdict{}, false
	}
	return verdict.NewScenarioVerdict(sc, records, err, time.Since(start)), true
}

func hasCalibrationMetric(sc scenario.Scenario) bool {
	for _, m := range sc.Metrics {
		switch m.CheckOrDefault() {
		case scenario.CheckUpperBound, scenario.CheckLowerBound:
			return true
		}
	}
	return false
}
