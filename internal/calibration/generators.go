package calibration

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"trialcheck/domain/core"
	"trialcheck/domain/stats"
	"trialcheck/internal/reference"
)

// ============================================================================
// SINGLE-ARM BINARY
// ============================================================================

// SingleArmBinary simulates a single-arm trial with N patients and declares
// success when P(p > NullRate | data) ≥ Threshold under a Beta prior.
type SingleArmBinary struct {
	PriorAlpha float64
	PriorBeta  float64
	NullRate   float64
	TrueRate   float64
	N          int
	Threshold  float64
}

func (d SingleArmBinary) validate() error {
	if d.N < 1 {
		return core.NewInvalidInputError("n", "must be >= 1, got %d", d.N)
	}
	for _, p := range []struct {
		name string
		v    float64
	}{{"null_rate", d.NullRate}, {"true_rate", d.TrueRate}, {"decision_threshold", d.Threshold}} {
		if !(p.v > 0 && p.v < 1) {
			return core.NewInvalidInputError(p.name, "must be in (0, 1), got %v", p.v)
		}
	}
	if !(d.PriorAlpha > 0) || !(d.PriorBeta > 0) {
		return core.NewInvalidInputError("prior", "Beta parameters must be positive, got (%v, %v)", d.PriorAlpha, d.PriorBeta)
	}
	return nil
}

// Generator draws the number of responders.
func (d SingleArmBinary) Generator() Generator[int] {
	return func(r *rand.Rand) (int, error) {
		return int(distuv.Binomial{N: float64(d.N), P: d.TrueRate, Src: r}.Rand()), nil
	}
}

// Rule evaluates the posterior tail for a responder count.
func (d SingleArmBinary) Rule() DecisionRule[int] {
	win := d.successTable()
	return func(x int) (bool, error) {
		if x < 0 || x > d.N {
			return false, core.NewInvalidInputError("successes", "must be in [0, %d], got %d", d.N, x)
		}
		return win[x], nil
	}
}

// successTable precomputes the decision for every possible responder count.
func (d SingleArmBinary) successTable() []bool {
	win := make([]bool, d.N+1)
	for x := range win {
		post := distuv.Beta{Alpha: d.PriorAlpha + float64(x), Beta: d.PriorBeta + float64(d.N-x)}
		win[x] = 1-post.CDF(d.NullRate) >= d.Threshold
	}
	return win
}

// ExactRate is the probability of declaring success under TrueRate, summed
// over the binomial distribution of the responder count.
func (d SingleArmBinary) ExactRate() (float64, error) {
	if err := d.validate(); err != nil {
		return 0, err
	}
	dist := distuv.Binomial{N: float64(d.N), P: d.TrueRate}
	var rate float64
	for x, win := range d.successTable() {
		if win {
			rate += dist.Prob(float64(x))
		}
	}
	return rate, nil
}

// Calibrate simulates the design under TrueRate.
func (d SingleArmBinary) Calibrate(ctx context.Context, opts Options) (stats.CalibrationRun, error) {
	if err := d.validate(); err != nil {
		return stats.CalibrationRun{}, err
	}
	return Calibrate(ctx, d.Generator(), d.Rule(), opts)
}

// ============================================================================
// TWO-ARM BINARY
// ============================================================================

// TwoArmOutcome is the responder count in each arm.
type TwoArmOutcome struct {
	Control   int
	Treatment int
}

// TwoArmBinary simulates N patients per arm and declares success when
// P(p_t > p_c | data) ≥ Threshold under independent Beta priors.
type TwoArmBinary struct {
	ControlPriorAlpha   float64
	ControlPriorBeta    float64
	TreatmentPriorAlpha float64
	TreatmentPriorBeta  float64
	ControlRate         float64
	TreatmentRate       float64
	N                   int
	Threshold           float64
}

func (d TwoArmBinary) validate() error {
	if d.N < 1 {
		return core.NewInvalidInputError("n", "must be >= 1, got %d", d.N)
	}
	for _, p := range []struct {
		name string
		v    float64
	}{{"control_rate", d.ControlRate}, {"treatment_rate", d.TreatmentRate}, {"decision_threshold", d.Threshold}} {
		if !(p.v > 0 && p.v < 1) {
			return core.NewInvalidInputError(p.name, "must be in (0, 1), got %v", p.v)
		}
	}
	for _, v := range []float64{d.ControlPriorAlpha, d.ControlPriorBeta, d.TreatmentPriorAlpha, d.TreatmentPriorBeta} {
		if !(v > 0) {
			return core.NewInvalidInputError("prior", "Beta parameters must be positive, got %v", v)
		}
	}
	return nil
}

// Generator draws both arms from the same stream, control first.
func (d TwoArmBinary) Generator() Generator[TwoArmOutcome] {
	return func(r *rand.Rand) (TwoArmOutcome, error) {
		n := float64(d.N)
		return TwoArmOutcome{
			Control:   int(distuv.Binomial{N: n, P: d.ControlRate, Src: r}.Rand()),
			Treatment: int(distuv.Binomial{N: n, P: d.TreatmentRate, Src: r}.Rand()),
		}, nil
	}
}

// Rule evaluates P(p_t > p_c). Decisions are cached per outcome, which is
// safe because the probability depends only on the outcome.
func (d TwoArmBinary) Rule() DecisionRule[TwoArmOutcome] {
	var cache sync.Map
	return func(o TwoArmOutcome) (bool, error) {
		if o.Control < 0 || o.Control > d.N || o.Treatment < 0 || o.Treatment > d.N {
			return false, core.NewInvalidInputError("successes", "outcome (%d, %d) outside [0, %d]", o.Control, o.Treatment, d.N)
		}
		if v, ok := cache.Load(o); ok {
			return v.(bool), nil
		}
		control, err := reference.BetaBinomialPosterior(d.ControlPriorAlpha, d.ControlPriorBeta, o.Control, d.N)
		if err != nil {
			return false, err
		}
		treatment, err := reference.BetaBinomialPosterior(d.TreatmentPriorAlpha, d.TreatmentPriorBeta, o.Treatment, d.N)
		if err != nil {
			return false, err
		}
		win := reference.ProbabilityGreater(treatment, control) >= d.Threshold
		cache.Store(o, win)
		return win, nil
	}
}

// Calibrate simulates the design under the configured true rates.
func (d TwoArmBinary) Calibrate(ctx context.Context, opts Options) (stats.CalibrationRun, error) {
	if err := d.validate(); err != nil {
		return stats.CalibrationRun{}, err
	}
	return Calibrate(ctx, d.Generator(), d.Rule(), opts)
}

// ============================================================================
// FIXED-SAMPLE Z-TEST
// ============================================================================

// ZTest simulates the z statistic of a two-arm comparison with N per arm and
// a true standardized effect Effect, rejecting at level Alpha.
type ZTest struct {
	Effect   float64
	N        int
	Alpha    float64
	TwoSided bool
}

// Generator draws the z statistic, N(Effect·√(N/2), 1).
func (d ZTest) Generator() Generator[float64] {
	mu := d.Effect * math.Sqrt(float64(d.N)/2)
	return func(r *rand.Rand) (float64, error) {
		return distuv.Normal{Mu: mu, Sigma: 1, Src: r}.Rand(), nil
	}
}

// Rule rejects beyond the fixed-design critical value.
func (d ZTest) Rule() DecisionRule[float64] {
	crit := reference.CriticalValue(d.Alpha, d.TwoSided)
	return func(z float64) (bool, error) {
		if d.TwoSided {
			return math.Abs(z) > crit, nil
		}
		return z > crit, nil
	}
}

// ExactRate is the rejection probability under Effect.
func (d ZTest) ExactRate() float64 {
	mu := d.Effect * math.Sqrt(float64(d.N)/2)
	crit := reference.CriticalValue(d.Alpha, d.TwoSided)
	rate := 1 - reference.NormalCDF(crit-mu)
	if d.TwoSided {
		rate += reference.NormalCDF(-crit - mu)
	}
	return rate
}

// Calibrate simulates the test under Effect.
func (d ZTest) Calibrate(ctx context.Context, opts Options) (stats.CalibrationRun, error) {
	if d.N < 1 {
		return stats.CalibrationRun{}, core.NewInvalidInputError("n", "must be >= 1, got %d", d.N)
	}
	if !(d.Alpha > 0 && d.Alpha < 1) {
		return stats.CalibrationRun{}, core.NewInvalidInputError("alpha", "must be in (0, 1), got %v", d.Alpha)
	}
	return Calibrate(ctx, d.Generator(), d.Rule(), opts)
}
