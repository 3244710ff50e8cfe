// Package boundary solves group-sequential efficacy boundaries for a given
// information timing and spending family, and computes the drift and sample
// size inflation needed for a target power.
package boundary

import (
	"fmt"
	"math"

	"trialcheck/domain/core"
	"trialcheck/internal/reference"
)

// Design describes one group-sequential efficacy boundary problem.
type Design struct {
	K        int
	Timing   []float64 // information fractions; nil means equally spaced k/K
	Alpha    float64   // one-sided level, or total two-sided level when TwoSided
	TwoSided bool
	Family   Family
}

// Options tunes the root finders and the integration grid.
type Options struct {
	MaxIterations int
	Tolerance     float64
	GridPoints    int
}

// DefaultOptions returns the settings used by Solve.
func DefaultOptions() Options {
	return Options{MaxIterations: 100, Tolerance: 1e-9, GridPoints: 121}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if !(o.Tolerance > 0) {
		o.Tolerance = d.Tolerance
	}
	if o.GridPoints < 3 {
		o.GridPoints = d.GridPoints
	}
	return o
}

// Boundaries is a solved design.
type Boundaries struct {
	Family           string    `json:"family"`
	Timing           []float64 `json:"information_fractions"`
	Z                []float64 `json:"efficacy_boundaries"`
	IncrementalAlpha []float64 `json:"incremental_alpha"`
	CumulativeAlpha  []float64 `json:"cumulative_alpha"`
	TwoSided         bool      `json:"two_sided"`
}

// zCap is the boundary reported for a look that spends no alpha.
const zCap = 15.0

// Solve computes efficacy boundaries with DefaultOptions.
func Solve(d Design) (Boundaries, error) {
	return SolveWithOptions(d, DefaultOptions())
}

// SolveWithOptions computes efficacy boundaries such that, under H0, the
// total crossing probability equals Alpha (shape families) or the cumulative
// crossing probability at each look equals the spending function (spending
// families).
func SolveWithOptions(d Design, opts Options) (Boundaries, error) {
	opts = opts.withDefaults()
	timing, err := d.validate()
	if err != nil {
		return Boundaries{}, err
	}

	var z []float64
	switch {
	case d.K == 1:
		z = []float64{reference.CriticalValue(d.Alpha, d.TwoSided)}
	case d.Family.IsShape():
		z, err = solveShape(d, timing, opts)
	default:
		z, err = solveSpending(d, timing, opts)
	}
	if err != nil {
		return Boundaries{}, err
	}

	if d.Family.IsShape() {
		if err := checkStructure(d.Family, z, timing); err != nil {
			return Boundaries{}, err
		}
	}

	inc := newRecursion(d.TwoSided, 0, opts.GridPoints).probabilities(z, timing)
	cum := make([]float64, len(inc))
	total := 0.0
	for k, p := range inc {
		total += p
		cum[k] = total
	}
	return Boundaries{
		Family:           d.Family.Name,
		Timing:           timing,
		Z:                z,
		IncrementalAlpha: inc,
		CumulativeAlpha:  cum,
		TwoSided:         d.TwoSided,
	}, nil
}

// CrossingProbabilities returns the per-look probability of first crossing
// the boundaries z when Z_k has mean drift·√t_k.
func CrossingProbabilities(z, timing []float64, twoSided bool, drift float64) ([]float64, error) {
	if len(z) == 0 || len(z) != len(timing) {
		return nil, core.NewInvalidInputError("boundaries", "need one boundary per look, got %d for %d looks", len(z), len(timing))
	}
	if err := validateTiming(timing, len(timing)); err != nil {
		return nil, err
	}
	return newRecursion(twoSided, drift, DefaultOptions().GridPoints).probabilities(z, timing), nil
}

// EqualTiming returns k/K for k = 1..K.
func EqualTiming(k int) []float64 {
	t := make([]float64, k)
	for i := range t {
		t[i] = float64(i+1) / float64(k)
	}
	t[k-1] = 1
	return t
}

func (d Design) validate() ([]float64, error) {
	if d.K < 1 {
		return nil, core.NewInvalidInputError("k", "must be at least 1, got %d", d.K)
	}
	hi := 0.5
	if d.TwoSided {
		hi = 1
	}
	if !(d.Alpha > 0 && d.Alpha < hi) {
		return nil, core.NewInvalidInputError("alpha", "must be in (0, %g), got %v", hi, d.Alpha)
	}
	timing := d.Timing
	if timing == nil {
		timing = EqualTiming(d.K)
	} else {
		timing = append([]float64(nil), timing...)
	}
	if err := validateTiming(timing, d.K); err != nil {
		return nil, err
	}
	if d.Family.Name == "" {
		return nil, core.NewSpendingFunctionError("", "family is required")
	}
	if !d.Family.IsShape() {
		if err := validateSpending(d.Family.Spending, d.Alpha, timing); err != nil {
			return nil, err
		}
	}
	return timing, nil
}

func validateTiming(t []float64, k int) error {
	if len(t) != k {
		return core.NewInvalidInputError("timing", "need %d information fractions, got %d", k, len(t))
	}
	prev := 0.0
	for i, v := range t {
		if math.IsNaN(v) || v <= prev || v > 1 {
			return core.NewInvalidInputError("timing", "must be strictly increasing in (0, 1], got %v at look %d", v, i+1)
		}
		prev = v
	}
	if math.Abs(t[k-1]-1) > 1e-12 {
		return core.NewInvalidInputError("timing", "final information fraction must be 1, got %v", t[k-1])
	}
	t[k-1] = 1
	return nil
}

func validateSpending(fn reference.SpendingFunction, alpha float64, t []float64) error {
	prev := 0.0
	for k, tk := range t {
		v := fn.Spend(alpha, tk)
		switch {
		case math.IsNaN(v) || v < -1e-15 || v > alpha*(1+1e-12):
			return core.NewSpendingFunctionError(fn.Name(), fmt.Sprintf("α*(%g) = %v lies outside [0, %g]", tk, v, alpha))
		case v < prev-1e-15:
			return core.NewSpendingFunctionError(fn.Name(), fmt.Sprintf("decreases at look %d", k+1))
		}
		prev = v
	}
	return nil
}

// bisect finds the root of a decreasing function on [lo, hi].
func bisect(look int, f func(float64) float64, lo, hi float64, opts Options) (float64, error) {
	flo, fhi := f(lo), f(hi)
	if math.IsNaN(flo) || math.IsNaN(fhi) {
		return 0, core.NewBoundaryConvergenceError(look, "objective is not finite")
	}
	if flo < 0 || fhi > 0 {
		return 0, core.NewBoundaryConvergenceError(look, fmt.Sprintf("root not bracketed in [%g, %g]", lo, hi))
	}
	for i := 0; i < opts.MaxIterations; i++ {
		mid := 0.5 * (lo + hi)
		if hi-lo < 2*opts.Tolerance {
			return mid, nil
		}
		if f(mid) > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0, core.NewBoundaryConvergenceError(look, fmt.Sprintf("no convergence within %d iterations", opts.MaxIterations))
}

func shapeBoundaries(c, delta float64, t []float64) []float64 {
	z := make([]float64, len(t))
	for k, tk := range t {
		z[k] = c * math.Pow(tk, delta-0.5)
	}
	return z
}

func solveShape(d Design, t []float64, opts Options) ([]float64, error) {
	rec := newRecursion(d.TwoSided, 0, opts.GridPoints)
	excess := func(c float64) float64 {
		total := 0.0
		for _, p := range rec.probabilities(shapeBoundaries(c, d.Family.Delta, t), t) {
			total += p
		}
		return total - d.Alpha
	}
	c, err := bisect(d.K, excess, 0, zCap, opts)
	if err != nil {
		return nil, err
	}
	return shapeBoundaries(c, d.Family.Delta, t), nil
}

func solveSpending(d Design, t []float64, opts Options) ([]float64, error) {
	rec := newRecursion(d.TwoSided, 0, opts.GridPoints)
	fn := d.Family.Spending
	z := make([]float64, d.K)

	spent := 0.0
	var s stage
	for k := range t {
		cum := math.Min(fn.Spend(d.Alpha, t[k]), d.Alpha)
		target := cum - spent
		spent = math.Max(spent, cum)

		switch {
		case target <= 1e-15:
			z[k] = zCap
		case k == 0:
			z[k] = reference.CriticalValue(target, d.TwoSided)
		default:
			lo := -truncation
			if d.TwoSided {
				lo = 0
			}
			prev := s
			excess := func(b float64) float64 { return rec.cross(prev, b, t[k]) - target }
			b, err := bisect(k+1, excess, lo, zCap, opts)
			if err != nil {
				return nil, err
			}
			z[k] = b
		}

		if k == 0 {
			_, s = rec.first(z[0], t[0])
		} else if k < d.K-1 {
			s = rec.advance(s, z[k], t[k])
		}
	}
	return z, nil
}

// checkStructure enforces the monotonicity of a shape family. Shape families
// hold it by construction, so a violation means the constant C was not found
// and is reported as a convergence failure.
func checkStructure(f Family, z, t []float64) error {
	if len(z) < 2 {
		return nil
	}
	switch f.Monotone {
	case MonotoneDecreasing:
		for k := 1; k < len(z); k++ {
			if z[k] >= z[k-1] && z[k] < zCap {
				return core.NewBoundaryConvergenceError(k+1, fmt.Sprintf("%s boundaries must decrease, got %.6f after %.6f", f.Name, z[k], z[k-1]))
			}
		}
	case MonotoneFlat:
		if !equallySpaced(t) {
			return nil
		}
		lo, hi := z[0], z[0]
		for _, v := range z[1:] {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
		if hi-lo > FlatTolerance {
			return core.NewBoundaryConvergenceError(len(z), fmt.Sprintf("%s boundaries spread %.4f exceeds %.2f", f.Name, hi-lo, FlatTolerance))
		}
	}
	return nil
}

func equallySpaced(t []float64) bool {
	step := t[0]
	for k := 1; k < len(t); k++ {
		if math.Abs(t[k]-t[k-1]-step) > 1e-9 {
			return false
		}
	}
	return true
}
