package app

import (
	"context"
	"fmt"
	"math"

	"trialcheck/domain/core"
	"trialcheck/domain/scenario"
	"trialcheck/domain/stats"
	"trialcheck/internal"
	"trialcheck/internal/boundary"
	"trialcheck/internal/calibration"
	"trialcheck/internal/reference"
	"trialcheck/ports"
)

// DefaultConfidence of the Clopper-Pearson intervals built around
// service-reported Monte-Carlo rates and around the reference's own simulations.
const DefaultConfidence = 0.99

// CredibleLevel is the level of reported posterior credible intervals.
const CredibleLevel = 0.95

// ReferenceService derives the expected outputs of every calculator kind
// from the reference library and the calibrator.
type ReferenceService struct {
	rng        ports.RNGPort
	workers    int
	confidence float64
	logger     *internal.Logger
}

// NewReferenceService creates a reference service. workers bounds the
// replication workers of each local calibration.
func NewReferenceService(rng ports.RNGPort, workers int) *ReferenceService {
	if workers < 1 {
		workers = 1
	}
	return &ReferenceService{
		rng:        rng,
		workers:    workers,
		confidence: DefaultConfidence,
		logger:     internal.DefaultLogger.Component("Reference"),
	}
}

// WithConfidence sets the Clopper-Pearson confidence of calibration runs.
func (s *ReferenceService) WithConfidence(confidence float64) *ReferenceService {
	if confidence > 0 && confidence < 1 {
		s.confidence = confidence
	}
	return s
}

// NeedsObservation reports whether the reference of kind depends on values
// the service reports, such as its recommended sample size.
func NeedsObservation(kind scenario.CalculatorKind) bool {
	return kind == scenario.KindSingleArm || kind == scenario.KindTwoArm
}

// Independent computes the reference of a kind that does not depend on the
// observed response. seed is the scenario's derived seed.
func (s *ReferenceService) Independent(ctx context.Context, sc scenario.Scenario, seed uint64) (*stats.ReferenceResult, error) {
	if NeedsObservation(sc.Kind) {
		return nil, core.NewInvalidInputError(string(sc.ID), "kind %s needs an observed response", sc.Kind)
	}
	p := sc.Inputs
	switch sc.Kind {
	case scenario.KindSampleSizeContinuous:
		return continuousReference(p)
	case scenario.KindSampleSizeBinary:
		return binaryReference(p)
	case scenario.KindSampleSizeSurvival:
		return survivalReference(p)
	case scenario.KindCUPED:
		return cupedReference(p)
	case scenario.KindGSD:
		return gsdReference(p)
	case scenario.KindBayesianContinuous:
		return bayesContinuousReference(p)
	case scenario.KindBayesianBinary:
		return bayesBinaryReference(p)
	case scenario.KindPriorElicitation:
		return elicitationReference(p)
	case scenario.KindBorrowing:
		return borrowingReference(p)
	case scenario.KindSequential:
		return sequentialReference(p)
	case scenario.KindPredictiveProbability:
		return predictiveReference(p)
	case scenario.KindOperatingChars:
		return s.operatingReference(ctx, sc, seed)
	default:
		return nil, core.NewUnsupportedCalculatorError(string(sc.Kind))
	}
}

// Conditioned computes the reference of a simulation-based design at the
// sample size the service recommended. With a nil observation the design
// size is read from the "n" input.
func (s *ReferenceService) Conditioned(ctx context.Context, sc scenario.Scenario, seed uint64, obs *stats.ObservedResult) (*stats.ReferenceResult, error) {
	switch sc.Kind {
	case scenario.KindSingleArm:
		return s.singleArmReference(ctx, sc, seed, obs)
	case scenario.KindTwoArm:
		return s.twoArmReference(ctx, sc, seed, obs)
	default:
		return s.Independent(ctx, sc, seed)
	}
}

// ApplyExpected overrides computed values with the scenario's literal
// expectations. Calibration-checked metrics keep their computed runs.
func ApplyExpected(sc scenario.Scenario, ref *stats.ReferenceResult) *stats.ReferenceResult {
	if ref == nil {
		ref = stats.NewReferenceResult("literal")
	}
	for _, m := range sc.Metrics {
		e, ok := sc.Expected[m.Name]
		if !ok || m.IsCalibration() {
			continue
		}
		if e.Scalar != nil {
			delete(ref.Vectors, m.Name)
			ref.SetScalar(m.Name, *e.Scalar)
		} else if len(e.Vector) > 0 {
			delete(ref.Scalars, m.Name)
			ref.SetVector(m.Name, e.Vector)
		}
	}
	return ref
}

// ============================================================================
// FREQUENTIST SAMPLE SIZE
// ============================================================================

func testLevels(p scenario.Params, alpha, power float64) (float64, float64, error) {
	a, err := p.FloatOr("alpha", alpha)
	if err != nil {
		return 0, 0, err
	}
	pw, err := p.FloatOr("power", power)
	if err != nil {
		return 0, 0, err
	}
	return a, pw, nil
}

func setGroupSizes(r *stats.ReferenceResult, g reference.GroupSizes) {
	r.SetScalar("n1", float64(g.N1)).
		SetScalar("n2", float64(g.N2)).
		SetScalar("n_total", float64(g.NTotal))
}

func continuousReference(p scenario.Params) (*stats.ReferenceResult, error) {
	m1, err := p.Float("mean1")
	if err != nil {
		return nil, err
	}
	m2, err := p.Float("mean2")
	if err != nil {
		return nil, err
	}
	sd, err := p.Float("sd")
	if err != nil {
		return nil, err
	}
	alpha, power, err := testLevels(p, 0.05, 0.8)
	if err != nil {
		return nil, err
	}
	ratio, err := p.FloatOr("ratio", 1)
	if err != nil {
		return nil, err
	}
	twoSided, err := p.BoolOr("two_sided", true)
	if err != nil {
		return nil, err
	}
	size, err := reference.SampleSizeContinuous(m1, m2, sd, alpha, power, ratio, twoSided)
	if err != nil {
		return nil, err
	}
	r := stats.NewReferenceResult("normal approximation, two-sample means")
	setGroupSizes(r, size.GroupSizes)
	r.SetScalar("effect_size", size.EffectSize).
		SetScalar("z_alpha", reference.CriticalValue(alpha, twoSided)).
		SetScalar("z_beta", reference.NormalQuantile(power))
	return r, nil
}

func binaryReference(p scenario.Params) (*stats.ReferenceResult, error) {
	p1, err := p.Float("p1")
	if err != nil {
		return nil, err
	}
	p2, err := p.Float("p2")
	if err != nil {
		return nil, err
	}
	alpha, power, err := testLevels(p, 0.05, 0.8)
	if err != nil {
		return nil, err
	}
	ratio, err := p.FloatOr("ratio", 1)
	if err != nil {
		return nil, err
	}
	twoSided, err := p.BoolOr("two_sided", true)
	if err != nil {
		return nil, err
	}
	size, err := reference.SampleSizeBinary(p1, p2, alpha, power, ratio, twoSided)
	if err != nil {
		return nil, err
	}
	r := stats.NewReferenceResult("two-proportion z-test, pooled null variance")
	setGroupSizes(r, size.GroupSizes)
	r.SetScalar("effect_size_h", size.EffectSizeH).
		SetScalar("pooled_p", (p1+ratio*p2)/(1+ratio))
	return r, nil
}

func survivalReference(p scenario.Params) (*stats.ReferenceResult, error) {
	var d reference.SurvivalDesign
	var err error
	if d.HazardRatio, err = p.Float("hazard_ratio"); err != nil {
		return nil, err
	}
	if d.MedianControl, err = p.Float("median_control"); err != nil {
		return nil, err
	}
	if d.AccrualTime, err = p.Float("accrual_time"); err != nil {
		return nil, err
	}
	if d.FollowUpTime, err = p.Float("follow_up_time"); err != nil {
		return nil, err
	}
	if d.Alpha, d.Power, err = testLevels(p, 0.05, 0.8); err != nil {
		return nil, err
	}
	if d.DropoutRate, err = p.FloatOr("dropout_rate", 0); err != nil {
		return nil, err
	}
	if d.AllocationRatio, err = p.FloatOr("allocation_ratio", 1); err != nil {
		return nil, err
	}
	if d.TwoSided, err = p.BoolOr("two_sided", true); err != nil {
		return nil, err
	}
	size, err := reference.SampleSizeSurvival(d)
	if err != nil {
		return nil, err
	}
	r := stats.NewReferenceResult("Schoenfeld events, exponential survival")
	setGroupSizes(r, size.GroupSizes)
	r.SetScalar("events_required", float64(size.EventsRequired)).
		SetScalar("log_hr", size.LogHR).
		SetScalar("z_alpha", size.ZAlpha).
		SetScalar("z_beta", size.ZBeta)
	return r, nil
}

func cupedReference(p scenario.Params) (*stats.ReferenceResult, error) {
	mean, err := p.Float("baseline_mean")
	if err != nil {
		return nil, err
	}
	sd, err := p.Float("baseline_std")
	if err != nil {
		return nil, err
	}
	mde, err := p.Float("mde")
	if err != nil {
		return nil, err
	}
	rho, err := p.Float("correlation")
	if err != nil {
		return nil, err
	}
	alpha, power, err := testLevels(p, 0.05, 0.8)
	if err != nil {
		return nil, err
	}
	res, err := reference.CUPEDDesign(mean, sd, mde, rho, alpha, power)
	if err != nil {
		return nil, err
	}
	return stats.NewReferenceResult("CUPED variance reduction 1-rho^2").
		SetScalar("variance_reduction_factor", res.VarianceReductionFactor).
		SetScalar("variance_reduction_pct", res.VarianceReductionPct).
		SetScalar("r_squared", res.RSquared).
		SetScalar("n_original", float64(res.NOriginal)).
		SetScalar("n_adjusted", float64(res.NAdjusted)), nil
}

// ============================================================================
// GROUP SEQUENTIAL DESIGN
// ============================================================================

func gsdReference(p scenario.Params) (*stats.ReferenceResult, error) {
	effect, err := p.Float("effect_size")
	if err != nil {
		return nil, err
	}
	alpha, power, err := testLevels(p, 0.025, 0.9)
	if err != nil {
		return nil, err
	}
	k, err := p.IntOr("k", 3)
	if err != nil {
		return nil, err
	}
	timing, err := p.Floats("timing")
	if err != nil {
		return nil, err
	}
	name, err := p.StringOr("spending_function", "OBrienFleming")
	if err != nil {
		return nil, err
	}
	var param *float64
	if p.Has("spending_param") {
		v, err := p.Float("spending_param")
		if err != nil {
			return nil, err
		}
		param = &v
	}
	family, err := boundary.ParseFamily(name, param)
	if err != nil {
		return nil, err
	}
	twoSided, err := p.BoolOr("two_sided", false)
	if err != nil {
		return nil, err
	}

	size, err := boundary.Size(boundary.Design{
		K:        k,
		Timing:   timing,
		Alpha:    alpha,
		TwoSided: twoSided,
		Family:   family,
	}, effect, power)
	if err != nil {
		return nil, err
	}
	return stats.NewReferenceResult("recursive numerical integration, "+family.Name).
		SetVector("efficacy_boundaries", size.Z).
		SetVector("information_fractions", size.Timing).
		SetVector("alpha_spent", size.AlphaSpent).
		SetVector("cumulative_alpha", size.CumulativeAlpha).
		SetScalar("n_fixed", size.NFixed).
		SetScalar("n_max", size.NMax).
		SetScalar("inflation_factor", size.Inflation), nil
}

// ============================================================================
// BAYESIAN CONJUGATE AND SEQUENTIAL
// ============================================================================

func bayesContinuousReference(p scenario.Params) (*stats.ReferenceResult, error) {
	var in reference.NormalPredictiveInput
	var err error
	if in.InterimEffect, err = p.Float("interim_effect"); err != nil {
		return nil, err
	}
	if in.InterimVar, err = p.Float("interim_var"); err != nil {
		return nil, err
	}
	if in.InterimN, err = p.Int("interim_n"); err != nil {
		return nil, err
	}
	if in.FinalN, err = p.Int("final_n"); err != nil {
		return nil, err
	}
	if in.PriorMean, err = p.FloatOr("prior_mean", 0); err != nil {
		return nil, err
	}
	if in.PriorVar, err = p.FloatOr("prior_var", 1); err != nil {
		return nil, err
	}
	if in.SuccessThreshold, err = p.FloatOr("success_threshold", 0.95); err != nil {
		return nil, err
	}
	post, err := reference.NormalNormalPosterior(in.PriorMean, in.PriorVar, in.InterimEffect, in.InterimVar)
	if err != nil {
		return nil, err
	}
	pp, err := reference.NormalPredictiveProbability(in)
	if err != nil {
		return nil, err
	}
	lo, hi := post.CredibleInterval(CredibleLevel)
	return stats.NewReferenceResult("normal-normal conjugate update").
		SetScalar("posterior_mean", post.Mean).
		SetScalar("posterior_var", post.Var).
		SetScalar("credible_interval_lower", lo).
		SetScalar("credible_interval_upper", hi).
		SetScalar("predictive_probability", pp), nil
}

func bayesBinaryReference(p scenario.Params) (*stats.ReferenceResult, error) {
	a0, err := p.FloatOr("prior_alpha", 1)
	if err != nil {
		return nil, err
	}
	b0, err := p.FloatOr("prior_beta", 1)
	if err != nil {
		return nil, err
	}
	r := stats.NewReferenceResult("beta-binomial conjugate update")
	for _, arm := range []string{"control", "treatment"} {
		k, err := p.Int(arm + "_successes")
		if err != nil {
			return nil, err
		}
		n, err := p.Int(arm + "_n")
		if err != nil {
			return nil, err
		}
		post, err := reference.BetaBinomialPosterior(a0, b0, k, n)
		if err != nil {
			return nil, err
		}
		r.SetScalar("posterior_"+arm+"_alpha", post.Alpha).
			SetScalar("posterior_"+arm+"_beta", post.Beta).
			SetScalar("posterior_"+arm+"_mean", post.Mean())
	}
	return r, nil
}

func predictiveReference(p scenario.Params) (*stats.ReferenceResult, error) {
	a0, err := p.FloatOr("prior_alpha", 1)
	if err != nil {
		return nil, err
	}
	b0, err := p.FloatOr("prior_beta", 1)
	if err != nil {
		return nil, err
	}
	k, err := p.Int("successes")
	if err != nil {
		return nil, err
	}
	n, err := p.Int("n")
	if err != nil {
		return nil, err
	}
	futureN, err := p.Int("future_n")
	if err != nil {
		return nil, err
	}
	required, err := p.Int("required_successes")
	if err != nil {
		return nil, err
	}
	post, err := reference.BetaBinomialPosterior(a0, b0, k, n)
	if err != nil {
		return nil, err
	}
	pp, err := reference.BetaBinomialPredictive(post.Alpha, post.Beta, futureN, required)
	if err != nil {
		return nil, err
	}
	return stats.NewReferenceResult("beta-binomial predictive tail").
		SetScalar("posterior_alpha", post.Alpha).
		SetScalar("posterior_beta", post.Beta).
		SetScalar("predictive_probability", pp), nil
}

func sequentialReference(p scenario.Params) (*stats.ReferenceResult, error) {
	endpoint, err := p.StringOr("endpoint_type", "continuous")
	if err != nil {
		return nil, err
	}
	if endpoint != "continuous" {
		return nil, core.NewInvalidInputError("endpoint_type", "only continuous endpoints have a closed-form boundary, got %q", endpoint)
	}
	looks, err := p.Floats("n_per_look")
	if err != nil {
		return nil, err
	}
	var d reference.SequentialDesign
	for i, n := range looks {
		if n != math.Trunc(n) {
			return nil, core.NewInvalidInputError(fmt.Sprintf("n_per_look[%d]", i), "must be an integer, got %v", n)
		}
		d.NPerLook = append(d.NPerLook, int(n))
	}
	if d.PriorMean, err = p.FloatOr("prior_mean", 0); err != nil {
		return nil, err
	}
	if d.PriorVariance, err = p.Float("prior_variance"); err != nil {
		return nil, err
	}
	if d.DataVariance, err = p.Float("data_variance"); err != nil {
		return nil, err
	}
	if d.Efficacy, err = p.FloatOr("efficacy_threshold", 0.975); err != nil {
		return nil, err
	}
	if d.Futility, err = p.FloatOr("futility_threshold", 0); err != nil {
		return nil, err
	}
	b, err := reference.SequentialBoundariesZhouJi(d)
	if err != nil {
		return nil, err
	}
	r := stats.NewReferenceResult("Zhou-Ji posterior boundary").
		SetVector("efficacy_boundaries", b.Efficacy).
		SetScalar("n_looks", float64(len(b.Efficacy)))
	if b.Futility != nil {
		r.SetVector("futility_boundaries", b.Futility)
	}
	return r, nil
}

// ============================================================================
// PRIOR ELICITATION AND BORROWING
// ============================================================================

func setBetaSummary(r *stats.ReferenceResult, b reference.BetaSummary) {
	r.SetScalar("alpha", b.Alpha).
		SetScalar("beta", b.Beta).
		SetScalar("mean", b.Mean).
		SetScalar("variance", b.Variance).
		SetScalar("ess", b.ESS)
}

// QuantileKey names a fitted quantile the way the service reports it, e.g. "q05".
func QuantileKey(prob float64) string {
	return fmt.Sprintf("q%02d", int(math.Round(prob*100)))
}

func elicitationReference(p scenario.Params) (*stats.ReferenceResult, error) {
	method, err := p.StringOr("method", "ess_based")
	if err != nil {
		return nil, err
	}
	switch method {
	case "ess_based":
		mean, err := p.Float("mean")
		if err != nil {
			return nil, err
		}
		ess, err := p.Float("ess")
		if err != nil {
			return nil, err
		}
		b, err := reference.ESSPrior(mean, ess)
		if err != nil {
			return nil, err
		}
		r := stats.NewReferenceResult("ESS-based Beta prior")
		setBetaSummary(r, b)
		return r, nil

	case "historical":
		events, err := p.Int("n_events")
		if err != nil {
			return nil, err
		}
		n, err := p.Int("n_total")
		if err != nil {
			return nil, err
		}
		discount, err := p.Float("discount_factor")
		if err != nil {
			return nil, err
		}
		b, err := reference.HistoricalPrior(events, n, discount)
		if err != nil {
			return nil, err
		}
		r := stats.NewReferenceResult("discounted historical data on Beta(1,1)")
		setBetaSummary(r, b)
		return r, nil

	case "quantile_matching":
		probs, err := p.Floats("quantiles")
		if err != nil {
			return nil, err
		}
		values, err := p.Floats("quantile_values")
		if err != nil {
			return nil, err
		}
		b, err := reference.QuantileMatchedBeta(probs, values)
		if err != nil {
			return nil, err
		}
		r := stats.NewReferenceResult("Nelder-Mead quantile matching")
		setBetaSummary(r, b)
		// The fit is judged on the quantiles it reproduces, not on its parameters.
		for i, q := range probs {
			r.SetScalar("quantiles."+QuantileKey(q), values[i])
		}
		return r, nil

	default:
		return nil, core.NewInvalidInputError("method", "unknown elicitation method %q", method)
	}
}

func borrowingReference(p scenario.Params) (*stats.ReferenceResult, error) {
	method, err := p.StringOr("method", "power_prior")
	if err != nil {
		return nil, err
	}
	switch method {
	case "power_prior":
		events, err := p.Int("historical_events")
		if err != nil {
			return nil, err
		}
		n, err := p.Int("historical_n")
		if err != nil {
			return nil, err
		}
		discount, err := p.Float("discount_factor")
		if err != nil {
			return nil, err
		}
		a0, err := p.FloatOr("base_alpha", 1)
		if err != nil {
			return nil, err
		}
		b0, err := p.FloatOr("base_beta", 1)
		if err != nil {
			return nil, err
		}
		b, err := reference.PowerPrior(events, n, discount, a0, b0)
		if err != nil {
			return nil, err
		}
		return stats.NewReferenceResult("power prior").
			SetScalar("effective_alpha", b.Alpha).
			SetScalar("effective_beta", b.Beta).
			SetScalar("ess_total", b.ESS).
			SetScalar("ess_from_historical", discount*float64(n)).
			SetScalar("prior_mean", b.Mean), nil

	case "map_prior":
		records, err := p.Records("studies")
		if err != nil {
			return nil, err
		}
		studies := make([]reference.Study, len(records))
		for i, rec := range records {
			if studies[i].Events, err = rec.Int("n_events"); err != nil {
				return nil, fmt.Errorf("studies[%d]: %w", i, err)
			}
			if studies[i].N, err = rec.Int("n_total"); err != nil {
				return nil, fmt.Errorf("studies[%d]: %w", i, err)
			}
		}
		h, err := reference.Heterogeneity(studies)
		if err != nil {
			return nil, err
		}
		return stats.NewReferenceResult("fixed-effect pooling with Cochran's Q").
			SetScalar("i_squared", h.ISquared).
			SetScalar("pooled_rate", h.PooledRate), nil

	default:
		return nil, core.NewInvalidInputError("method", "unknown borrowing method %q", method)
	}
}

// ============================================================================
// SIMULATION-BASED DESIGNS
// ============================================================================

// designSize is the recommended sample size reported by the service, or the
// "n" input when there is no observation.
func designSize(p scenario.Params, obs *stats.ObservedResult, field string) (int, error) {
	if v, ok := obs.Scalar(field); ok {
		if v != math.Trunc(v) || v < 1 {
			return 0, &core.SchemaViolationError{
				Endpoint: obs.Endpoint,
				Problems: []string{fmt.Sprintf("%s must be a positive integer, got %v", field, v)},
			}
		}
		return int(v), nil
	}
	if obs != nil {
		return 0, &core.SchemaViolationError{Endpoint: obs.Endpoint, Problems: []string{"missing scalar " + field}}
	}
	return p.Int("n")
}

// reportedRuns rebuilds calibration runs from the service's own Monte-Carlo
// type-I error and power estimates.
func reportedRuns(r *stats.ReferenceResult, sc scenario.Scenario, obs *stats.ObservedResult, nSims int, confidence, type1Target, powerTarget float64) error {
	if obs == nil {
		return nil
	}
	for _, c := range []struct {
		name   string
		target float64
	}{{"type1_error", type1Target}, {"power", powerTarget}} {
		if _, ok := sc.Metric(c.name); !ok {
			continue
		}
		rate, ok := obs.Scalar(c.name)
		if !ok {
			return &core.SchemaViolationError{Endpoint: obs.Endpoint, Problems: []string{"missing scalar " + c.name}}
		}
		run, err := calibration.RunFromRate(rate, nSims, confidence, c.target)
		if err != nil {
			return &core.SchemaViolationError{Endpoint: obs.Endpoint, Problems: []string{fmt.Sprintf("%s: %v", c.name, err)}}
		}
		r.SetCalibration(c.name, run)
	}
	return nil
}

// simulate runs one local calibration when the scenario asks for it.
func (s *ReferenceService) simulate(ctx context.Context, r *stats.ReferenceResult, sc scenario.Scenario, seed uint64, name string, nSims int, target float64,
	run func(context.Context, calibration.Options) (stats.CalibrationRun, error)) error {
	if _, ok := sc.Metric(name); !ok {
		return nil
	}
	res, err := run(ctx, calibration.Options{
		NSims:      nSims,
		Seed:       core.DeriveSeed(seed, name),
		Confidence: s.confidence,
		Target:     target,
		Workers:    s.workers,
		RNG:        s.rng,
	})
	if err != nil {
		return err
	}
	s.logger.Debug("%s %s: %d/%d successes, CI [%.4f, %.4f]", sc.ID, name, res.Successes, res.NSims, res.CILower, res.CIUpper)
	r.SetCalibration(name, res)
	return nil
}

type operatingInputs struct {
	threshold   float64
	type1Target float64
	powerTarget float64
	nSims       int
	ownSims     int
}

func readOperatingInputs(p scenario.Params) (operatingInputs, error) {
	var in operatingInputs
	var err error
	if in.threshold, err = p.FloatOr("decision_threshold", 0.95); err != nil {
		return in, err
	}
	if in.type1Target, err = p.FloatOr("target_type1_error", 0.05); err != nil {
		return in, err
	}
	if in.powerTarget, err = p.FloatOr("target_power", 0.8); err != nil {
		return in, err
	}
	if in.nSims, err = p.IntOr("n_simulations", 1000); err != nil {
		return in, err
	}
	if in.ownSims, err = p.IntOr("reference_simulations", in.nSims); err != nil {
		return in, err
	}
	return in, nil
}

// singleArmDesign reads a single-arm design without its sample size, and the
// alternative response rate it is powered for.
func singleArmDesign(p scenario.Params, in operatingInputs) (calibration.SingleArmBinary, float64, error) {
	d := calibration.SingleArmBinary{Threshold: in.threshold}
	var err error
	if d.PriorAlpha, err = p.FloatOr("prior_alpha", 1); err != nil {
		return d, 0, err
	}
	if d.PriorBeta, err = p.FloatOr("prior_beta", 1); err != nil {
		return d, 0, err
	}
	if d.NullRate, err = p.Float("null_rate"); err != nil {
		return d, 0, err
	}
	alt, err := p.Float("alternative_rate")
	if err != nil {
		return d, 0, err
	}
	return d, alt, nil
}

// simulateSingleArm calibrates d under the null and the alternative rate.
func (s *ReferenceService) simulateSingleArm(ctx context.Context, r *stats.ReferenceResult, sc scenario.Scenario, seed uint64,
	d calibration.SingleArmBinary, alt float64, type1Name, powerName string, nSims int, in operatingInputs) error {
	null, power := d, d
	null.TrueRate, power.TrueRate = d.NullRate, alt
	if err := s.simulate(ctx, r, sc, seed, type1Name, nSims, in.type1Target, null.Calibrate); err != nil {
		return err
	}
	return s.simulate(ctx, r, sc, seed, powerName, nSims, in.powerTarget, power.Calibrate)
}

func (s *ReferenceService) singleArmReference(ctx context.Context, sc scenario.Scenario, seed uint64, obs *stats.ObservedResult) (*stats.ReferenceResult, error) {
	p := sc.Inputs
	in, err := readOperatingInputs(p)
	if err != nil {
		return nil, err
	}
	d, alt, err := singleArmDesign(p, in)
	if err != nil {
		return nil, err
	}
	if d.N, err = designSize(p, obs, "recommended_n"); err != nil {
		return nil, err
	}

	r := stats.NewReferenceResult(fmt.Sprintf("single-arm beta-binomial design at n=%d", d.N))
	k := int(math.Round(alt * float64(d.N)))
	r.SetScalar("recommended_n", float64(d.N)).
		SetScalar("posterior_at_alt_alpha", d.PriorAlpha+float64(k)).
		SetScalar("posterior_at_alt_beta", d.PriorBeta+float64(d.N-k))

	if err := reportedRuns(r, sc, obs, in.nSims, s.confidence, in.type1Target, in.powerTarget); err != nil {
		return nil, err
	}
	if err := s.simulateSingleArm(ctx, r, sc, seed, d, alt, "simulated_type1_error", "simulated_power", in.ownSims, in); err != nil {
		return nil, err
	}
	return r, nil
}

// twoArmDesign reads a two-arm design without its sample size, and the
// treatment response rate it is powered for.
func twoArmDesign(p scenario.Params, in operatingInputs) (calibration.TwoArmBinary, float64, error) {
	d := calibration.TwoArmBinary{Threshold: in.threshold}
	var err error
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"control_prior_alpha", &d.ControlPriorAlpha},
		{"control_prior_beta", &d.ControlPriorBeta},
		{"treatment_prior_alpha", &d.TreatmentPriorAlpha},
		{"treatment_prior_beta", &d.TreatmentPriorBeta},
	} {
		if *f.dst, err = p.FloatOr(f.key, 1); err != nil {
			return d, 0, err
		}
	}
	if d.ControlRate, err = p.Float("control_rate"); err != nil {
		return d, 0, err
	}
	treatment, err := p.Float("treatment_rate")
	if err != nil {
		return d, 0, err
	}
	return d, treatment, nil
}

func (s *ReferenceService) twoArmReference(ctx context.Context, sc scenario.Scenario, seed uint64, obs *stats.ObservedResult) (*stats.ReferenceResult, error) {
	p := sc.Inputs
	in, err := readOperatingInputs(p)
	if err != nil {
		return nil, err
	}
	d, treatment, err := twoArmDesign(p, in)
	if err != nil {
		return nil, err
	}
	if d.N, err = designSize(p, obs, "recommended_n_per_arm"); err != nil {
		return nil, err
	}

	r := stats.NewReferenceResult(fmt.Sprintf("two-arm beta-binomial design at n=%d per arm", d.N))
	r.SetScalar("recommended_n_per_arm", float64(d.N)).
		SetScalar("n_total", float64(2*d.N))

	if err := reportedRuns(r, sc, obs, in.nSims, s.confidence, in.type1Target, in.powerTarget); err != nil {
		return nil, err
	}
	null, power := d, d
	null.TreatmentRate, power.TreatmentRate = d.ControlRate, treatment
	if err := s.simulate(ctx, r, sc, seed, "simulated_type1_error", in.ownSims, in.type1Target, null.Calibrate); err != nil {
		return nil, err
	}
	if err := s.simulate(ctx, r, sc, seed, "simulated_power", in.ownSims, in.powerTarget, power.Calibrate); err != nil {
		return nil, err
	}
	return r, nil
}

// OperatingPoint simulates the type-I error and power of a single-arm or
// two-arm design at sample size n (per arm for two-arm designs).
func (s *ReferenceService) OperatingPoint(ctx context.Context, kind scenario.CalculatorKind, p scenario.Params, n int, seed uint64) (type1, power stats.CalibrationRun, err error) {
	in, err := readOperatingInputs(p)
	if err != nil {
		return type1, power, err
	}
	opts := func(name string, target float64) calibration.Options {
		return calibration.Options{
			NSims:      in.nSims,
			Seed:       core.DeriveSeed(seed, name),
			Confidence: s.confidence,
			Target:     target,
			Workers:    s.workers,
			RNG:        s.rng,
		}
	}

	switch kind {
	case scenario.KindSingleArm:
		d, alt, err := singleArmDesign(p, in)
		if err != nil {
			return type1, power, err
		}
		d.N = n
		null, alternative := d, d
		null.TrueRate, alternative.TrueRate = d.NullRate, alt
		if type1, err = null.Calibrate(ctx, opts("type1_error", in.type1Target)); err != nil {
			return type1, power, err
		}
		power, err = alternative.Calibrate(ctx, opts("power", in.powerTarget))
		return type1, power, err
	case scenario.KindTwoArm:
		d, treatment, err := twoArmDesign(p, in)
		if err != nil {
			return type1, power, err
		}
		d.N = n
		null, alternative := d, d
		null.TreatmentRate, alternative.TreatmentRate = d.ControlRate, treatment
		if type1, err = null.Calibrate(ctx, opts("type1_error", in.type1Target)); err != nil {
			return type1, power, err
		}
		power, err = alternative.Calibrate(ctx, opts("power", in.powerTarget))
		return type1, power, err
	default:
		return type1, power, core.NewUnsupportedCalculatorError(string(kind))
	}
}

// OperatingTargets returns the type-I error and power targets of a design.
func OperatingTargets(p scenario.Params) (type1Target, powerTarget float64, err error) {
	in, err := readOperatingInputs(p)
	return in.type1Target, in.powerTarget, err
}

// operatingReference estimates operating characteristics of a fixed design
// without a service: a single-arm Bayesian design or a z-test.
func (s *ReferenceService) operatingReference(ctx context.Context, sc scenario.Scenario, seed uint64) (*stats.ReferenceResult, error) {
	p := sc.Inputs
	design, err := p.StringOr("design", "single_arm")
	if err != nil {
		return nil, err
	}
	in, err := readOperatingInputs(p)
	if err != nil {
		return nil, err
	}
	r := stats.NewReferenceResult("Monte-Carlo operating characteristics, " + design)

	switch design {
	case "single_arm":
		d, alt, err := singleArmDesign(p, in)
		if err != nil {
			return nil, err
		}
		if d.N, err = p.Int("n"); err != nil {
			return nil, err
		}
		if err := s.simulateSingleArm(ctx, r, sc, seed, d, alt, "type1_error", "power", in.nSims, in); err != nil {
			return nil, err
		}
	case "z_test":
		effect, err := p.Float("effect")
		if err != nil {
			return nil, err
		}
		n, err := p.Int("n")
		if err != nil {
			return nil, err
		}
		alpha, err := p.FloatOr("alpha", 0.05)
		if err != nil {
			return nil, err
		}
		twoSided, err := p.BoolOr("two_sided", true)
		if err != nil {
			return nil, err
		}
		null := calibration.ZTest{N: n, Alpha: alpha, TwoSided: twoSided}
		alt := null
		alt.Effect = effect
		if err := s.simulate(ctx, r, sc, seed, "type1_error", in.nSims, alpha, null.Calibrate); err != nil {
			return nil, err
		}
		if err := s.simulate(ctx, r, sc, seed, "power", in.nSims, in.powerTarget, alt.Calibrate); err != nil {
			return nil, err
		}
	default:
		return nil, core.NewInvalidInputError("design", "unknown design %q", design)
	}
	return r, nil
}
