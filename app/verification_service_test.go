package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialcheck/domain/core"
	"trialcheck/domain/scenario"
	"trialcheck/domain/stats"
	"trialcheck/domain/verdict"
	"trialcheck/internal/comparison"
	apperrors "trialcheck/internal/errors"
	"trialcheck/ports"
)

const testBaseURL = "http://service.test"

// echoService answers every calculator with the reference values, shifted by
// bias, as a correct (or uniformly wrong) service would.
func echoService(bias float64) ports.ServiceAdapter {
	refs := newTestReferenceService()
	return ports.ServiceAdapterFunc(func(ctx context.Context, kind scenario.CalculatorKind, params scenario.Params) (*stats.ObservedResult, error) {
		obs := stats.NewObservedResult(kind.Endpoint())
		if NeedsObservation(kind) {
			obs.Scalars["recommended_n"] = 40
			obs.Scalars["recommended_n_per_arm"] = 40
			obs.Scalars["type1_error"] = 0.04
			obs.Scalars["power"] = 0.82
			obs.Scalars["posterior_at_alt_alpha"] = 17
			obs.Scalars["posterior_at_alt_beta"] = 25
			return obs, nil
		}
		sc, err := scenario.New("echo", kind, params, deviation("x", 1))
		if err != nil {
			return nil, err
		}
		ref, err := refs.Independent(ctx, sc, 1)
		if err != nil {
			return nil, err
		}
		for k, v := range ref.Scalars {
			obs.Scalars[k] = v + bias
		}
		for k, v := range ref.Vectors {
			shifted := make([]float64, len(v))
			for i := range v {
				shifted[i] = v[i] + bias
			}
			obs.Vectors[k] = shifted
		}
		return obs, nil
	})
}

func testScenarios(t *testing.T) []scenario.Scenario {
	return []scenario.Scenario{
		mustScenario(t, "continuous", scenario.KindSampleSizeContinuous,
			scenario.Params{"mean1": 100.0, "mean2": 105.0, "sd": 20.0},
			deviation("n1", 0.5), deviation("effect_size", 0.01)),
		mustScenario(t, "gsd-pocock", scenario.KindGSD,
			scenario.Params{"effect_size": 0.3, "k": 3, "spending_function": "Pocock"},
			deviation("efficacy_boundaries", 0.01)),
		mustScenario(t, "single-arm", scenario.KindSingleArm,
			scenario.Params{"null_rate": 0.2, "alternative_rate": 0.4, "n_simulations": 2000},
			deviation("posterior_at_alt_alpha", 0.001),
			scenario.Metric{Name: "type1_error", Check: scenario.CheckUpperBound, Tolerance: scenario.Absolute(0.02)}),
	}
}

func newTestVerification(adapter ports.ServiceAdapter, opts VerificationOptions) *VerificationService {
	return NewVerificationService(adapter, newTestReferenceService(), comparison.NewEngine(), opts)
}

func TestRun_CorrectServicePasses(t *testing.T) {
	svc := newTestVerification(echoService(0), VerificationOptions{Concurrency: 2})

	report, err := svc.Run(context.Background(), RunRequest{BaseURL: testBaseURL, Seed: 42, Scenarios: testScenarios(t)})
	require.NoError(t, err)
	require.Len(t, report.Scenarios, 3)
	assert.True(t, report.Overall, "failures: %+v", report.Failures())
	assert.Equal(t, 0, report.ExitCode())
	assert.Equal(t, core.ScenarioID("continuous"), report.Scenarios[0].ScenarioID)
	assert.Equal(t, core.ScenarioID("single-arm"), report.Scenarios[2].ScenarioID)
}

func TestRun_BiasedServiceFails(t *testing.T) {
	svc := newTestVerification(echoService(0.05), VerificationOptions{Concurrency: 2})

	report, err := svc.Run(context.Background(), RunRequest{BaseURL: testBaseURL, Seed: 42, Scenarios: testScenarios(t)[:2]})
	require.NoError(t, err)
	assert.False(t, report.Overall)
	assert.Equal(t, 1, report.ExitCode())
	for _, v := range report.Scenarios {
		assert.Equal(t, verdict.StatusFail, v.Status, v.ScenarioID)
	}
}

func TestRun_FatalConfigurationErrors(t *testing.T) {
	svc := newTestVerification(echoService(0), VerificationOptions{})
	scenarios := testScenarios(t)

	for name, req := range map[string]RunRequest{
		"empty":     {BaseURL: testBaseURL},
		"duplicate": {BaseURL: testBaseURL, Scenarios: []scenario.Scenario{scenarios[0], scenarios[0]}},
		"bad url":   {BaseURL: "not a url", Scenarios: scenarios},
	} {
		t.Run(name, func(t *testing.T) {
			report, err := svc.Run(context.Background(), req)
			assert.Nil(t, report)
			assert.ErrorIs(t, err, core.ErrConfiguration)
			assert.Equal(t, apperrors.ExitConfig, apperrors.ExitCode(err))
		})
	}
}

func TestRun_ScenarioFailuresAreIsolated(t *testing.T) {
	adapter := ports.ServiceAdapterFunc(func(ctx context.Context, kind scenario.CalculatorKind, params scenario.Params) (*stats.ObservedResult, error) {
		if kind == scenario.KindGSD {
			return nil, &core.InfrastructureError{Endpoint: kind.Endpoint(), StatusCode: 502}
		}
		if kind == scenario.KindSingleArm {
			return nil, errors.New("connection reset")
		}
		return echoService(0).Call(ctx, kind, params)
	})
	svc := newTestVerification(adapter, VerificationOptions{Concurrency: 3})

	report, err := svc.Run(context.Background(), RunRequest{BaseURL: testBaseURL, Scenarios: testScenarios(t)})
	require.NoError(t, err)
	assert.Equal(t, verdict.StatusPass, report.Scenarios[0].Status)
	assert.Equal(t, verdict.StatusInfrastructure, report.Scenarios[1].Status)
	assert.Equal(t, verdict.StatusInfrastructure, report.Scenarios[2].Status)
	assert.False(t, report.Overall)
}

func TestRun_InvalidScenarioIsSkippedBeforeCalling(t *testing.T) {
	var calls atomic.Int32
	adapter := ports.ServiceAdapterFunc(func(ctx context.Context, kind scenario.CalculatorKind, params scenario.Params) (*stats.ObservedResult, error) {
		calls.Add(1)
		return stats.NewObservedResult(kind.Endpoint()), nil
	})
	svc := newTestVerification(adapter, VerificationOptions{})
	bad := scenario.Scenario{ID: "no-metrics", Kind: scenario.KindCUPED}

	report, err := svc.Run(context.Background(), RunRequest{BaseURL: testBaseURL, Scenarios: []scenario.Scenario{bad}})
	require.NoError(t, err)
	assert.Equal(t, verdict.StatusInvalidInput, report.Scenarios[0].Status)
	assert.Zero(t, calls.Load())
}

func TestRun_ConcurrencyGateAndTimeout(t *testing.T) {
	var inFlight, peak atomic.Int32
	adapter := ports.ServiceAdapterFunc(func(ctx context.Context, kind scenario.CalculatorKind, params scenario.Params) (*stats.ObservedResult, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-ctx.Done()
		return nil, &core.InfrastructureError{Endpoint: kind.Endpoint(), Cause: ctx.Err()}
	})
	svc := newTestVerification(adapter, VerificationOptions{Concurrency: 2, RequestTimeout: 20 * time.Millisecond})

	var scenarios []scenario.Scenario
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		scenarios = append(scenarios, mustScenario(t, id, scenario.KindCUPED,
			scenario.Params{"baseline_mean": 10.0, "baseline_std": 2.0, "mde": 0.05, "correlation": 0.5},
			deviation("n_adjusted", 0.5)))
	}

	report, err := svc.Run(context.Background(), RunRequest{BaseURL: testBaseURL, Scenarios: scenarios})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 6, report.StatusCounts[verdict.StatusInfrastructure])
	for _, v := range report.Scenarios {
		assert.Contains(t, v.Error, context.DeadlineExceeded.Error())
	}
}

func TestRun_ReproducibleForSeed(t *testing.T) {
	sc := mustScenario(t, "single-arm-sim", scenario.KindSingleArm,
		scenario.Params{"null_rate": 0.2, "alternative_rate": 0.4, "n_simulations": 2000, "reference_simulations": 400},
		scenario.Metric{Name: "simulated_power", Field: "power", Check: scenario.CheckInterval, Tolerance: scenario.Absolute(0.05)})
	svc := newTestVerification(echoService(0), VerificationOptions{Concurrency: 1})

	run := func() []verdict.DeviationRecord {
		report, err := svc.Run(context.Background(), RunRequest{BaseURL: testBaseURL, Seed: 99, Scenarios: []scenario.Scenario{sc}})
		require.NoError(t, err)
		return report.Records
	}
	first := run()
	require.Len(t, first, 1)
	assert.Equal(t, first, run())
}

func TestOffline_ComparesLiteralsOnly(t *testing.T) {
	withLiteral := mustScenario(t, "pp-literal", scenario.KindPredictiveProbability,
		scenario.Params{"successes": 8, "n": 20, "future_n": 20, "required_successes": 12},
		deviation("predictive_probability", 1e-4)).
		WithExpected("predictive_probability", scenario.ExpectScalar(0.137841))
	wrongLiteral := mustScenario(t, "gsd-wrong", scenario.KindGSD,
		scenario.Params{"effect_size": 0.25, "k": 4},
		deviation("efficacy_boundaries", 0.01)).
		WithExpected("efficacy_boundaries", scenario.ExpectVector(3.5, 2.5, 2.0, 1.9))
	noLiteral := testScenarios(t)[0]
	needsService := testScenarios(t)[2]

	svc := newTestVerification(nil, VerificationOptions{})
	report, err := svc.Offline(context.Background(), []scenario.Scenario{withLiteral, noLiteral, wrongLiteral, needsService}, 1)
	require.NoError(t, err)
	require.Len(t, report.Scenarios, 2)
	assert.Equal(t, core.ScenarioID("pp-literal"), report.Scenarios[0].ScenarioID)
	assert.Equal(t, verdict.StatusPass, report.Scenarios[0].Status)
	assert.Equal(t, verdict.StatusFail, report.Scenarios[1].Status)
	assert.Equal(t, OfflineBaseURL, report.BaseURL)
}

func TestRun_RequiresAdapter(t *testing.T) {
	svc := newTestVerification(nil, VerificationOptions{})
	_, err := svc.Run(context.Background(), RunRequest{BaseURL: testBaseURL, Scenarios: testScenarios(t)})
	assert.ErrorIs(t, err, core.ErrConfiguration)
}
