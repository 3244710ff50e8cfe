package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialcheck/domain/core"
	"trialcheck/domain/scenario"
	"trialcheck/domain/stats"
	"trialcheck/internal/reference"
	"trialcheck/internal/rng"
)

func newTestReferenceService() *ReferenceService {
	return NewReferenceService(rng.New(), 2)
}

func mustScenario(t *testing.T, id string, kind scenario.CalculatorKind, inputs scenario.Params, metrics ...scenario.Metric) scenario.Scenario {
	t.Helper()
	s, err := scenario.New(id, kind, inputs, metrics...)
	require.NoError(t, err)
	return s
}

func deviation(name string, tol float64) scenario.Metric {
	return scenario.Metric{Name: name, Tolerance: scenario.Absolute(tol)}
}

func TestReference_SampleSizeContinuousMatchesLibrary(t *testing.T) {
	svc := newTestReferenceService()
	sc := mustScenario(t, "ss-cont", scenario.KindSampleSizeContinuous,
		scenario.Params{"mean1": 0.0, "mean2": 0.5, "sd": 1.0}, deviation("n1", 0.5))

	ref, err := svc.Independent(context.Background(), sc, 1)
	require.NoError(t, err)

	want, err := reference.SampleSizeContinuous(0, 0.5, 1, 0.05, 0.8, 1, true)
	require.NoError(t, err)
	assert.Equal(t, float64(want.N1), ref.Scalars["n1"])
	assert.Equal(t, float64(want.NTotal), ref.Scalars["n_total"])
	assert.InDelta(t, 1.959964, ref.Scalars["z_alpha"], 1e-6)
}

func TestReference_GSDOBrienFleming(t *testing.T) {
	svc := newTestReferenceService()
	sc := mustScenario(t, "gsd-of", scenario.KindGSD,
		scenario.Params{"effect_size": 0.25, "alpha": 0.025, "power": 0.9, "k": 4, "spending_function": "OBrienFleming"},
		deviation("efficacy_boundaries", 0.01))

	ref, err := svc.Independent(context.Background(), sc, 1)
	require.NoError(t, err)

	z := ref.Vectors["efficacy_boundaries"]
	require.Len(t, z, 4)
	for i, want := range []float64{4.04859, 2.86279, 2.33746, 2.02430} {
		assert.InDelta(t, want, z[i], 1e-3, "look %d", i+1)
	}
	assert.Equal(t, []float64{0.25, 0.5, 0.75, 1}, ref.Vectors["information_fractions"])
	assert.Greater(t, ref.Scalars["inflation_factor"], 1.0)
	assert.InDelta(t, ref.Scalars["n_fixed"]*ref.Scalars["inflation_factor"], ref.Scalars["n_max"], 1e-9)
}

func TestReference_GSDUnknownSpendingIsInvalidInput(t *testing.T) {
	svc := newTestReferenceService()
	sc := mustScenario(t, "gsd-bad", scenario.KindGSD,
		scenario.Params{"effect_size": 0.25, "spending_function": "Fibonacci"}, deviation("n_max", 1))

	_, err := svc.Independent(context.Background(), sc, 1)
	require.Error(t, err)
	assert.True(t, core.IsInvalidInput(err))
}

func TestReference_PredictiveProbabilityExact(t *testing.T) {
	svc := newTestReferenceService()
	sc := mustScenario(t, "pp-beta-binomial", scenario.KindPredictiveProbability,
		scenario.Params{"prior_alpha": 1, "prior_beta": 1, "successes": 8, "n": 20, "future_n": 20, "required_successes": 12},
		deviation("predictive_probability", 1e-4))

	ref, err := svc.Independent(context.Background(), sc, 1)
	require.NoError(t, err)
	assert.Equal(t, 9.0, ref.Scalars["posterior_alpha"])
	assert.Equal(t, 13.0, ref.Scalars["posterior_beta"])
	assert.InDelta(t, 0.137841, ref.Scalars["predictive_probability"], 1e-5)
}

func TestReference_BayesianBinaryPosteriors(t *testing.T) {
	svc := newTestReferenceService()
	sc := mustScenario(t, "bb", scenario.KindBayesianBinary,
		scenario.Params{"control_successes": 10, "control_n": 40, "treatment_successes": 18, "treatment_n": 40, "prior_alpha": 1, "prior_beta": 1},
		scenario.Metric{Name: "posterior_control_alpha", Check: scenario.CheckExact, Tolerance: scenario.Absolute(1e-9)})

	ref, err := svc.Independent(context.Background(), sc, 1)
	require.NoError(t, err)
	assert.Equal(t, 11.0, ref.Scalars["posterior_control_alpha"])
	assert.Equal(t, 31.0, ref.Scalars["posterior_control_beta"])
	assert.Equal(t, 19.0, ref.Scalars["posterior_treatment_alpha"])
	assert.Equal(t, 23.0, ref.Scalars["posterior_treatment_beta"])
	assert.InDelta(t, 19.0/42.0, ref.Scalars["posterior_treatment_mean"], 1e-12)
}

func TestReference_PowerPriorBorrowing(t *testing.T) {
	svc := newTestReferenceService()
	sc := mustScenario(t, "borrow-pp", scenario.KindBorrowing,
		scenario.Params{"method": "power_prior", "historical_events": 25, "historical_n": 45, "discount_factor": 0.5},
		deviation("effective_alpha", 0.01))

	ref, err := svc.Independent(context.Background(), sc, 1)
	require.NoError(t, err)
	assert.InDelta(t, 13.5, ref.Scalars["effective_alpha"], 1e-12)
	assert.InDelta(t, 11.0, ref.Scalars["effective_beta"], 1e-12)
	assert.InDelta(t, 24.5, ref.Scalars["ess_total"], 1e-12)
	assert.InDelta(t, 22.5, ref.Scalars["ess_from_historical"], 1e-12)
	assert.InDelta(t, 13.5/24.5, ref.Scalars["prior_mean"], 1e-12)
}

func TestReference_ElicitationQuantileTargets(t *testing.T) {
	svc := newTestReferenceService()
	sc := mustScenario(t, "elicit-q", scenario.KindPriorElicitation,
		scenario.Params{"method": "quantile_matching", "quantiles": []float64{0.05, 0.5, 0.95}, "quantile_values": []float64{0.10, 0.25, 0.40}},
		deviation("quantiles.q50", 0.02))

	ref, err := svc.Independent(context.Background(), sc, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.10, ref.Scalars["quantiles.q05"])
	assert.Equal(t, 0.25, ref.Scalars["quantiles.q50"])
	assert.Equal(t, 0.40, ref.Scalars["quantiles.q95"])
	assert.Equal(t, "q05", QuantileKey(0.05))
}

func TestReference_UnknownMethodsAreInvalidInput(t *testing.T) {
	svc := newTestReferenceService()
	for _, tc := range []struct {
		kind   scenario.CalculatorKind
		inputs scenario.Params
	}{
		{scenario.KindPriorElicitation, scenario.Params{"method": "telepathy"}},
		{scenario.KindBorrowing, scenario.Params{"method": "commensurate"}},
		{scenario.KindSequential, scenario.Params{"endpoint_type": "binary", "n_per_look": []float64{10}, "prior_variance": 1.0, "data_variance": 1.0}},
	} {
		sc := mustScenario(t, "bad-"+string(tc.kind), tc.kind, tc.inputs, deviation("x", 1))
		_, err := svc.Independent(context.Background(), sc, 1)
		assert.True(t, core.IsInvalidInput(err), "%s: %v", tc.kind, err)
	}
}

func TestReference_SequentialVaguePriorApproachesFixedBoundary(t *testing.T) {
	svc := newTestReferenceService()
	sc := mustScenario(t, "seq-vague", scenario.KindSequential,
		scenario.Params{"n_per_look": []float64{25, 50, 75, 100}, "prior_mean": 0.0, "prior_variance": 100.0, "data_variance": 1.0, "efficacy_threshold": 0.975},
		deviation("efficacy_boundaries", 0.01))

	ref, err := svc.Independent(context.Background(), sc, 1)
	require.NoError(t, err)
	for _, c := range ref.Vectors["efficacy_boundaries"] {
		assert.InDelta(t, 1.96, c, 0.05)
	}
	_, hasFutility := ref.Vectors["futility_boundaries"]
	assert.False(t, hasFutility)
}

func TestReference_SingleArmNeedsObservation(t *testing.T) {
	svc := newTestReferenceService()
	sc := mustScenario(t, "single-arm", scenario.KindSingleArm,
		scenario.Params{"null_rate": 0.2, "alternative_rate": 0.4, "n_simulations": 2000},
		deviation("posterior_at_alt_alpha", 0.001))

	assert.True(t, NeedsObservation(sc.Kind))
	_, err := svc.Independent(context.Background(), sc, 1)
	assert.True(t, core.IsInvalidInput(err))
}

func TestReference_SingleArmConditionedOnRecommendedN(t *testing.T) {
	svc := newTestReferenceService()
	sc := mustScenario(t, "single-arm", scenario.KindSingleArm,
		scenario.Params{
			"prior_alpha": 1.0, "prior_beta": 1.0, "null_rate": 0.2, "alternative_rate": 0.4,
			"decision_threshold": 0.95, "target_power": 0.8, "target_type1_error": 0.05,
			"n_simulations": 2000, "reference_simulations": 500,
		},
		deviation("posterior_at_alt_alpha", 0.001),
		scenario.Metric{Name: "type1_error", Check: scenario.CheckUpperBound, Tolerance: scenario.Absolute(0.02)},
		scenario.Metric{Name: "power", Check: scenario.CheckLowerBound, Tolerance: scenario.Absolute(0.05)},
		scenario.Metric{Name: "simulated_power", Field: "power", Check: scenario.CheckInterval, Tolerance: scenario.Absolute(0.05)},
	)
	obs := stats.NewObservedResult("/bayesian/sample-size-single-arm")
	obs.Scalars["recommended_n"] = 40
	obs.Scalars["type1_error"] = 0.04
	obs.Scalars["power"] = 0.82

	ref, err := svc.Conditioned(context.Background(), sc, 7, obs)
	require.NoError(t, err)

	assert.Equal(t, 17.0, ref.Scalars["posterior_at_alt_alpha"])
	assert.Equal(t, 25.0, ref.Scalars["posterior_at_alt_beta"])

	t1 := ref.Calibrations["type1_error"]
	assert.True(t, t1.Reconstructed)
	assert.Equal(t, 80, t1.Successes)
	assert.Equal(t, 0.05, t1.Target)
	assert.Less(t, t1.CIUpper, 0.06)

	sim, ok := ref.Calibrations["simulated_power"]
	require.True(t, ok)
	assert.False(t, sim.Reconstructed)
	assert.Equal(t, 500, sim.NSims)
	_, simulatedNull := ref.Calibrations["simulated_type1_error"]
	assert.False(t, simulatedNull, "only requested simulations run")

	again, err := svc.Conditioned(context.Background(), sc, 7, obs)
	require.NoError(t, err)
	assert.Equal(t, sim, again.Calibrations["simulated_power"])
}

func TestReference_ConditionedRejectsNonIntegerN(t *testing.T) {
	svc := newTestReferenceService()
	sc := mustScenario(t, "two-arm", scenario.KindTwoArm,
		scenario.Params{"control_rate": 0.3, "treatment_rate": 0.5},
		deviation("n_total", 0.5))
	obs := stats.NewObservedResult("/bayesian/two-arm")
	obs.Scalars["recommended_n_per_arm"] = 40.5

	_, err := svc.Conditioned(context.Background(), sc, 1, obs)
	assert.ErrorIs(t, err, core.ErrSchemaViolation)

	delete(obs.Scalars, "recommended_n_per_arm")
	_, err = svc.Conditioned(context.Background(), sc, 1, obs)
	assert.ErrorIs(t, err, core.ErrSchemaViolation)
}

func TestReference_TwoArmTotals(t *testing.T) {
	svc := newTestReferenceService()
	sc := mustScenario(t, "two-arm", scenario.KindTwoArm,
		scenario.Params{"control_rate": 0.3, "treatment_rate": 0.5},
		deviation("n_total", 0.5))
	obs := stats.NewObservedResult("/bayesian/two-arm")
	obs.Scalars["recommended_n_per_arm"] = 80

	ref, err := svc.Conditioned(context.Background(), sc, 1, obs)
	require.NoError(t, err)
	assert.Equal(t, 160.0, ref.Scalars["n_total"])
	assert.Empty(t, ref.Calibrations)
}

func TestReference_OperatingCharacteristicsZTest(t *testing.T) {
	svc := newTestReferenceService()
	sc := mustScenario(t, "oc-z", scenario.KindOperatingChars,
		scenario.Params{"design": "z_test", "effect": 0.5, "n": 64, "alpha": 0.05, "two_sided": true, "n_simulations": 4000, "target_power": 0.8},
		scenario.Metric{Name: "type1_error", Check: scenario.CheckUpperBound, Tolerance: scenario.Absolute(0.02)},
		scenario.Metric{Name: "power", Check: scenario.CheckLowerBound, Tolerance: scenario.Absolute(0.05)},
	)

	ref, err := svc.Independent(context.Background(), sc, 11)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, ref.Calibrations["type1_error"].ObservedRate, 0.02)
	assert.InDelta(t, 0.8, ref.Calibrations["power"].ObservedRate, 0.04)
}

func TestApplyExpected_LiteralsOverrideComputedValues(t *testing.T) {
	sc := mustScenario(t, "gsd-literal", scenario.KindGSD, scenario.Params{"effect_size": 0.25},
		deviation("efficacy_boundaries", 0.01),
		scenario.Metric{Name: "type1_error", Check: scenario.CheckUpperBound, Tolerance: scenario.Absolute(0.02)},
	).WithExpected("efficacy_boundaries", scenario.ExpectVector(4.049, 2.863, 2.337, 2.024)).
		WithExpected("type1_error", scenario.ExpectScalar(0.05))

	ref := stats.NewReferenceResult("computed").SetVector("efficacy_boundaries", []float64{3.7, 2.5, 2.0})
	out := ApplyExpected(sc, ref)

	assert.Equal(t, []float64{4.049, 2.863, 2.337, 2.024}, out.Vectors["efficacy_boundaries"])
	_, ok := out.Scalars["type1_error"]
	assert.False(t, ok, "calibration metrics keep their computed runs")
}
