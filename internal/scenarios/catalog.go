// Package scenarios holds the built-in scenario catalog and the YAML
// scenario-file loader.
package scenarios

import (
	"fmt"

	"trialcheck/domain/scenario"
)

// Tolerances shared by the catalog.
var (
	sampleSizeTol = scenario.Relative(0.01)
	boundaryTol   = scenario.Absolute(0.05)
	posteriorTol  = scenario.Absolute(0.01)
	predictiveTol = scenario.Absolute(0.04)
	exactTol      = scenario.Absolute(1e-9)
)

func metric(name string, tol scenario.ToleranceThreshold) scenario.Metric {
	return scenario.Metric{Name: name, Tolerance: tol}
}

func exact(name string) scenario.Metric {
	return scenario.Metric{Name: name, Check: scenario.CheckExact, Tolerance: exactTol}
}

func property(name string) scenario.Metric {
	return scenario.Metric{Name: name, Check: scenario.CheckProperty, Tolerance: exactTol}
}

func upperBound(name string, tol float64) scenario.Metric {
	return scenario.Metric{Name: name, Check: scenario.CheckUpperBound, Tolerance: scenario.Absolute(tol)}
}

func lowerBound(name string, tol float64) scenario.Metric {
	return scenario.Metric{Name: name, Check: scenario.CheckLowerBound, Tolerance: scenario.Absolute(tol)}
}

func consistent(name, field string, tol float64) scenario.Metric {
	return scenario.Metric{Name: name, Field: field, Check: scenario.CheckInterval, Tolerance: scenario.Absolute(tol)}
}

// builder accumulates catalog entries and remembers the first construction error.
type builder struct {
	out []scenario.Scenario
	err error
}

func (b *builder) add(id string, kind scenario.CalculatorKind, source string, inputs scenario.Params, metrics ...scenario.Metric) {
	s, err := scenario.New(id, kind, inputs, metrics...)
	if err != nil {
		if b.err == nil {
			b.err = fmt.Errorf("catalog scenario %s: %w", id, err)
		}
		return
	}
	b.out = append(b.out, s.Describe("", source))
}

// expect attaches a literal expectation to a scenario added earlier.
func (b *builder) expect(id, metric string, e scenario.Expected) {
	for i := range b.out {
		if b.out[i].ID.String() == id {
			b.out[i] = b.out[i].WithExpected(metric, e)
			return
		}
	}
	if b.err == nil {
		b.err = fmt.Errorf("catalog expectation for unknown scenario %s", id)
	}
}

// Catalog returns the built-in scenarios in a stable order.
func Catalog() ([]scenario.Scenario, error) {
	b := &builder{}
	sampleSize(b)
	cuped(b)
	groupSequential(b)
	bayesian(b)
	sequential(b)
	elicitation(b)
	borrowing(b)
	designs(b)
	if b.err != nil {
		return nil, b.err
	}
	return b.out, nil
}

// MustCatalog is Catalog for callers that treat a broken catalog as a programming error.
func MustCatalog() []scenario.Scenario {
	out, err := Catalog()
	if err != nil {
		panic(err)
	}
	return out
}

// ============================================================================
// FREQUENTIST SAMPLE SIZE AND CUPED
// ============================================================================

func sampleSize(b *builder) {
	const src = "normal-approximation sample size grid"
	for i, p := range []scenario.Params{
		{"mean1": 100.0, "mean2": 105.0, "sd": 20.0, "alpha": 0.05, "power": 0.80},
		{"mean1": 100.0, "mean2": 110.0, "sd": 25.0, "alpha": 0.05, "power": 0.90},
		{"mean1": 50.0, "mean2": 55.0, "sd": 15.0, "alpha": 0.01, "power": 0.80},
		{"mean1": 100.0, "mean2": 105.0, "sd": 20.0, "alpha": 0.05, "power": 0.80, "ratio": 2.0},
		{"mean1": 100.0, "mean2": 103.0, "sd": 20.0, "alpha": 0.025, "power": 0.90, "two_sided": false},
	} {
		b.add(fmt.Sprintf("ss-continuous-%d", i+1), scenario.KindSampleSizeContinuous, src, p,
			metric("n_total", sampleSizeTol), metric("effect_size", sampleSizeTol))
	}
	// Two-sample t-test, d = 0.25 at 80% power: 252 per arm.
	b.expect("ss-continuous-1", "n_total", scenario.ExpectScalar(504))

	for i, p := range []scenario.Params{
		{"p1": 0.10, "p2": 0.15, "alpha": 0.05, "power": 0.80},
		{"p1": 0.20, "p2": 0.30, "alpha": 0.05, "power": 0.90},
		{"p1": 0.50, "p2": 0.60, "alpha": 0.01, "power": 0.80},
		{"p1": 0.10, "p2": 0.15, "alpha": 0.05, "power": 0.80, "ratio": 2.0},
		{"p1": 0.30, "p2": 0.40, "alpha": 0.025, "power": 0.90, "two_sided": false},
	} {
		b.add(fmt.Sprintf("ss-binary-%d", i+1), scenario.KindSampleSizeBinary, src, p,
			metric("n_total", sampleSizeTol), metric("effect_size_h", sampleSizeTol))
	}

	for i, p := range []scenario.Params{
		{"hazard_ratio": 0.7, "median_control": 12.0, "accrual_time": 24.0, "follow_up_time": 12.0, "alpha": 0.05, "power": 0.80},
		{"hazard_ratio": 0.75, "median_control": 18.0, "accrual_time": 18.0, "follow_up_time": 24.0, "alpha": 0.05, "power": 0.90, "dropout_rate": 0.05},
		{"hazard_ratio": 0.6, "median_control": 6.0, "accrual_time": 12.0, "follow_up_time": 6.0, "alpha": 0.05, "power": 0.80, "allocation_ratio": 2.0},
	} {
		b.add(fmt.Sprintf("ss-survival-%d", i+1), scenario.KindSampleSizeSurvival, "Schoenfeld event count", p,
			metric("events_required", sampleSizeTol), metric("n_total", sampleSizeTol), metric("log_hr", posteriorTol))
	}
}

func cuped(b *builder) {
	for _, rho := range []float64{0, 0.3, 0.5, 0.7, 0.9, -0.7} {
		b.add(fmt.Sprintf("cuped-rho-%+.1f", rho), scenario.KindCUPED, "CUPED variance reduction grid",
			scenario.Params{"baseline_mean": 100.0, "baseline_std": 20.0, "mde": 0.05, "correlation": rho},
			metric("n_original", sampleSizeTol),
			metric("n_adjusted", sampleSizeTol),
			metric("variance_reduction_factor", scenario.Absolute(0.001)))
	}
}

// ============================================================================
// GROUP SEQUENTIAL DESIGN
// ============================================================================

func groupSequential(b *builder) {
	b.add("gsd-hptn083", scenario.KindGSD, "HPTN 083, gsDesign(k=4, alpha=0.025, sfu=OF)",
		scenario.Params{"effect_size": 0.3, "alpha": 0.025, "power": 0.80, "k": 4,
			"timing": []float64{0.25, 0.5, 0.75, 1}, "spending_function": "OBrienFleming"},
		metric("efficacy_boundaries", boundaryTol),
		metric("information_fractions", posteriorTol),
		property("efficacy_non_increasing"))
	b.expect("gsd-hptn083", "efficacy_boundaries", scenario.ExpectVector(4.049, 2.863, 2.337, 2.024))

	b.add("gsd-heartmate-ii", scenario.KindGSD, "HeartMate II, 3-look OF with unequal spacing",
		scenario.Params{"effect_size": 0.3, "alpha": 0.025, "power": 0.80, "k": 3,
			"timing": []float64{0.27, 0.67, 1}, "spending_function": "OBrienFleming"},
		metric("efficacy_boundaries", boundaryTol),
		metric("information_fractions", posteriorTol),
		property("efficacy_non_increasing"))

	b.add("gsd-pocock-k3", scenario.KindGSD, "Pocock constant boundary, k=3",
		scenario.Params{"effect_size": 0.3, "alpha": 0.025, "power": 0.90, "k": 3, "spending_function": "Pocock"},
		metric("efficacy_boundaries", boundaryTol),
		metric("inflation_factor", scenario.Relative(0.02)))
	b.expect("gsd-pocock-k3", "efficacy_boundaries", scenario.ExpectVector(2.289, 2.289, 2.289))

	b.add("gsd-ldof-k4", scenario.KindGSD, "Lan-DeMets O'Brien-Fleming spending, k=4",
		scenario.Params{"effect_size": 0.25, "alpha": 0.025, "power": 0.90, "k": 4, "spending_function": "LanDeMetsOBrienFleming"},
		metric("efficacy_boundaries", boundaryTol),
		metric("alpha_spent", scenario.Absolute(0.001)),
		metric("n_max", scenario.Relative(0.02)))
	b.expect("gsd-ldof-k4", "efficacy_boundaries", scenario.ExpectVector(4.333, 2.963, 2.359, 2.014))
}

// ============================================================================
// BAYESIAN CONJUGATE
// ============================================================================

func bayesian(b *builder) {
	for i, p := range []scenario.Params{
		{"prior_mean": 0.0, "prior_var": 1.0, "interim_effect": 0.3, "interim_var": 0.1, "interim_n": 100, "final_n": 200},
		{"prior_mean": 0.5, "prior_var": 0.5, "interim_effect": 0.4, "interim_var": 0.05, "interim_n": 150, "final_n": 200},
		{"prior_mean": 0.0, "prior_var": 2.0, "interim_effect": 0.6, "interim_var": 0.2, "interim_n": 50, "final_n": 100},
		{"prior_mean": 0.0, "prior_var": 1.0, "interim_effect": 0.0, "interim_var": 0.1, "interim_n": 100, "final_n": 200},
		{"prior_mean": -0.2, "prior_var": 0.5, "interim_effect": 0.2, "interim_var": 0.08, "interim_n": 80, "final_n": 160},
		{"prior_mean": 0.0, "prior_var": 0.25, "interim_effect": 0.5, "interim_var": 0.04, "interim_n": 200, "final_n": 300},
	} {
		b.add(fmt.Sprintf("bayes-continuous-%d", i+1), scenario.KindBayesianContinuous, "normal-normal conjugate update", p,
			metric("posterior_mean", posteriorTol),
			metric("posterior_var", posteriorTol),
			metric("credible_interval_lower", posteriorTol),
			metric("credible_interval_upper", posteriorTol),
			metric("predictive_probability", predictiveTol))
	}

	for i, p := range []scenario.Params{
		{"prior_alpha": 1, "prior_beta": 1, "control_successes": 30, "control_n": 100, "treatment_successes": 45, "treatment_n": 100, "final_n": 200},
		{"prior_alpha": 2, "prior_beta": 2, "control_successes": 50, "control_n": 200, "treatment_successes": 70, "treatment_n": 200, "final_n": 400},
		{"prior_alpha": 1, "prior_beta": 1, "control_successes": 10, "control_n": 50, "treatment_successes": 20, "treatment_n": 50, "final_n": 100},
		{"prior_alpha": 0.5, "prior_beta": 0.5, "control_successes": 25, "control_n": 100, "treatment_successes": 35, "treatment_n": 100, "final_n": 200},
		{"prior_alpha": 2, "prior_beta": 8, "control_successes": 15, "control_n": 75, "treatment_successes": 25, "treatment_n": 75, "final_n": 150},
		{"prior_alpha": 1, "prior_beta": 1, "control_successes": 40, "control_n": 100, "treatment_successes": 40, "treatment_n": 100, "final_n": 200},
	} {
		b.add(fmt.Sprintf("bayes-binary-%d", i+1), scenario.KindBayesianBinary, "beta-binomial conjugate update", p,
			exact("posterior_control_alpha"),
			exact("posterior_control_beta"),
			exact("posterior_treatment_alpha"),
			exact("posterior_treatment_beta"),
			metric("posterior_control_mean", scenario.Absolute(0.001)),
			metric("posterior_treatment_mean", scenario.Absolute(0.001)))
	}

	// Beta(1,1) prior, 8 of 20: P(at least 12 of the next 20 respond).
	b.add("predictive-beta-binomial", scenario.KindPredictiveProbability, "beta-binomial predictive tail",
		scenario.Params{"prior_alpha": 1, "prior_beta": 1, "successes": 8, "n": 20, "future_n": 20, "required_successes": 12},
		exact("posterior_alpha"), exact("posterior_beta"),
		metric("predictive_probability", scenario.Absolute(1e-4)))
	b.expect("predictive-beta-binomial", "posterior_alpha", scenario.ExpectScalar(9))
	b.expect("predictive-beta-binomial", "posterior_beta", scenario.ExpectScalar(13))
	b.expect("predictive-beta-binomial", "predictive_probability", scenario.ExpectScalar(0.137841))
}

func sequential(b *builder) {
	const src = "Zhou & Ji (2024) posterior boundary"
	b.add("sequential-zhou-ji", scenario.KindSequential, src,
		scenario.Params{"endpoint_type": "continuous", "n_per_look": []float64{30, 60, 90},
			"prior_mean": 0.0, "prior_variance": 1.0, "data_variance": 1.0,
			"efficacy_threshold": 0.975, "futility_threshold": 0.10},
		metric("efficacy_boundaries", posteriorTol),
		metric("futility_boundaries", posteriorTol),
		property("futility_below_efficacy"))

	b.add("sequential-informative", scenario.KindSequential, src,
		scenario.Params{"endpoint_type": "continuous", "n_per_look": []float64{50, 100},
			"prior_mean": 0.3, "prior_variance": 0.5, "data_variance": 1.0,
			"efficacy_threshold": 0.95, "futility_threshold": 0.10},
		metric("efficacy_boundaries", posteriorTol),
		metric("futility_boundaries", posteriorTol),
		property("futility_below_efficacy"))

	// A vague prior reduces the boundary to the frequentist critical value.
	b.add("sequential-vague-prior", scenario.KindSequential, src,
		scenario.Params{"endpoint_type": "continuous", "n_per_look": []float64{25, 50, 75, 100},
			"prior_mean": 0.0, "prior_variance": 100.0, "data_variance": 1.0, "efficacy_threshold": 0.975},
		metric("efficacy_boundaries", posteriorTol),
		scenario.Metric{Name: "efficacy_vs_fixed", Field: "efficacy_boundaries", Tolerance: boundaryTol})
	b.expect("sequential-vague-prior", "efficacy_vs_fixed", scenario.ExpectVector(1.96, 1.96, 1.96, 1.96))
}

// ============================================================================
// PRIOR ELICITATION AND BORROWING
// ============================================================================

func elicitation(b *builder) {
	const src = "Berry et al. (2010), Morita, Thall & Muller (2008)"
	summary := []scenario.Metric{
		metric("alpha", posteriorTol), metric("beta", posteriorTol),
		metric("mean", posteriorTol), metric("ess", posteriorTol),
	}
	for i, p := range []scenario.Params{
		{"mean": 0.30, "ess": 2.0},
		{"mean": 0.25, "ess": 10.0},
		{"mean": 0.50, "ess": 2.0},
		{"mean": 0.15, "ess": 20.0},
	} {
		p["method"] = "ess_based"
		b.add(fmt.Sprintf("elicit-ess-%d", i+1), scenario.KindPriorElicitation, src, p, summary...)
	}
	b.expect("elicit-ess-4", "alpha", scenario.ExpectScalar(3))

	for _, delta := range []float64{0.5, 1.0, 0.1, 0.0} {
		b.add(fmt.Sprintf("elicit-rebyota-delta-%.1f", delta), scenario.KindPriorElicitation,
			"REBYOTA PUNCH CD2, 25/45 responders",
			scenario.Params{"method": "historical", "n_events": 25, "n_total": 45, "discount_factor": delta},
			metric("alpha", posteriorTol), metric("beta", posteriorTol), metric("mean", posteriorTol))
	}

	quantiles := []scenario.Metric{
		metric("quantiles.q05", scenario.Absolute(0.02)),
		metric("quantiles.q50", scenario.Absolute(0.02)),
		metric("quantiles.q95", scenario.Absolute(0.02)),
	}
	b.add("elicit-quantile-berry", scenario.KindPriorElicitation, src,
		scenario.Params{"method": "quantile_matching", "quantiles": []float64{0.05, 0.5, 0.95}, "quantile_values": []float64{0.10, 0.25, 0.40}},
		quantiles...)
	b.add("elicit-quantile-tight", scenario.KindPriorElicitation, src,
		scenario.Params{"method": "quantile_matching", "quantiles": []float64{0.05, 0.5, 0.95}, "quantile_values": []float64{0.40, 0.50, 0.60}},
		quantiles...)
}

func borrowing(b *builder) {
	for _, delta := range []float64{0.5, 1.0, 0.0} {
		b.add(fmt.Sprintf("borrow-power-prior-%.1f", delta), scenario.KindBorrowing, "power prior on REBYOTA PUNCH CD2",
			scenario.Params{"method": "power_prior", "historical_events": 25, "historical_n": 45, "discount_factor": delta},
			metric("effective_alpha", posteriorTol),
			metric("effective_beta", posteriorTol),
			metric("prior_mean", posteriorTol),
			metric("ess_total", scenario.Absolute(0.1)),
			metric("ess_from_historical", scenario.Absolute(0.1)))
	}

	study := func(events, n int) map[string]interface{} {
		return map[string]interface{}{"n_events": events, "n_total": n}
	}
	for _, c := range []struct {
		id      string
		studies []interface{}
		// Pooled-rate estimators differ most under heterogeneity (I² >= 50%).
		pooledTol float64
	}{
		{"borrow-map-homogeneous", []interface{}{study(8, 40), study(10, 45), study(9, 42)}, 0.03},
		{"borrow-map-heterogeneous", []interface{}{study(5, 50), study(20, 50), study(35, 50)}, 0.15},
		{"borrow-map-two-similar", []interface{}{study(15, 50), study(16, 55)}, 0.03},
		{"borrow-map-punch", []interface{}{study(25, 45), study(126, 177)}, 0.15},
	} {
		b.add(c.id, scenario.KindBorrowing, "meta-analytic predictive prior",
			scenario.Params{"method": "map_prior", "studies": c.studies, "robust_weight": 0.1},
			metric("i_squared", scenario.Absolute(5)),
			metric("pooled_rate", scenario.Absolute(c.pooledTol)))
	}
}

// ============================================================================
// SIMULATION-BASED DESIGNS
// ============================================================================

func designs(b *builder) {
	singleArm := []scenario.Metric{
		exact("recommended_n"),
		metric("posterior_at_alt_alpha", scenario.Absolute(0.001)),
		metric("posterior_at_alt_beta", scenario.Absolute(0.001)),
		upperBound("type1_error", 0.02),
		lowerBound("power", 0.05),
		consistent("simulated_power", "power", 0.05),
	}
	for _, c := range []struct {
		id     string
		source string
		params scenario.Params
	}{
		{"single-arm-berry", "Berry phase II, null 0.10 vs 0.25",
			scenario.Params{"prior_alpha": 1.0, "prior_beta": 1.0, "null_rate": 0.10, "alternative_rate": 0.25,
				"n_min": 10, "n_max": 120, "n_step": 5}},
		{"single-arm-rebyota", "REBYOTA-informed prior, null 0.45 vs 0.65",
			scenario.Params{"prior_alpha": 13.5, "prior_beta": 11.0, "null_rate": 0.45, "alternative_rate": 0.65,
				"n_min": 20, "n_max": 150, "n_step": 5}},
	} {
		p := c.params
		p["decision_threshold"] = 0.95
		p["target_power"] = 0.80
		p["target_type1_error"] = 0.05
		p["n_simulations"] = 5000
		p["seed"] = 42
		b.add(c.id, scenario.KindSingleArm, c.source, p, singleArm...)
	}

	twoArm := []scenario.Metric{
		exact("n_total"),
		upperBound("type1_error", 0.03),
		lowerBound("power", 0.10),
		consistent("simulated_type1_error", "type1_error", 0.03),
	}
	for _, c := range []struct {
		id                 string
		control, treatment float64
		nMin, nMax, nStep  int
	}{
		{"two-arm-superiority", 0.30, 0.50, 20, 200, 20},
		{"two-arm-punch-cd3", 0.624, 0.712, 50, 500, 25},
		{"two-arm-large-effect", 0.20, 0.50, 20, 120, 10},
	} {
		b.add(c.id, scenario.KindTwoArm, "two-arm beta-binomial design",
			scenario.Params{
				"control_rate": c.control, "treatment_rate": c.treatment,
				"control_prior_alpha": 1.0, "control_prior_beta": 1.0,
				"treatment_prior_alpha": 1.0, "treatment_prior_beta": 1.0,
				"decision_threshold": 0.95, "target_power": 0.80, "target_type1_error": 0.05,
				"n_simulations": 2000, "reference_simulations": 2000,
				"n_min": c.nMin, "n_max": c.nMax, "n_step": c.nStep,
			}, twoArm...)
	}

	// Fixed designs whose operating characteristics are checked without a service.
	b.add("oc-z-test", scenario.KindOperatingChars, "two-sample z-test, d=0.5, 64 per arm",
		scenario.Params{"design": "z_test", "effect": 0.5, "n": 64, "alpha": 0.05, "two_sided": true,
			"target_power": 0.80, "n_simulations": 4000},
		upperBound("type1_error", 0.02), lowerBound("power", 0.05))
	// First success at 10 of 50: exact type-I 0.0245, power 0.836.
	b.add("oc-single-arm-n50", scenario.KindOperatingChars, "single-arm Beta(1,1), n=50, null 0.10 vs 0.25",
		scenario.Params{"design": "single_arm", "prior_alpha": 1.0, "prior_beta": 1.0, "null_rate": 0.10,
			"alternative_rate": 0.25, "n": 50, "decision_threshold": 0.975,
			"target_type1_error": 0.05, "target_power": 0.80, "n_simulations": 4000},
		upperBound("type1_error", 0.02), lowerBound("power", 0.05))
}
