package reference

import (
	"math"

	"trialcheck/domain/core"
)

// SequentialBoundaryZhouJi returns the z-scale boundary for a normal endpoint
// with prior N(μ, ν²) and per-patient variance σ² at cumulative size n_k:
//
//	c_k = Φ⁻¹(γ)·√(1 + σ²/(n_k·ν²)) − μ·√σ²/(√n_k·ν²)
//
// As ν² → ∞ the boundary tends to Φ⁻¹(γ).
func SequentialBoundaryZhouJi(gamma float64, nk int, mu, nu2, sigma2 float64) (float64, error) {
	if err := requireOpenUnit("threshold", gamma); err != nil {
		return 0, err
	}
	if nk < 1 {
		return 0, core.NewInvalidInputError("n_per_look", "must be >= 1, got %d", nk)
	}
	if !(nu2 > 0) {
		return 0, core.NewInvalidInputError("prior_variance", "must be positive, got %v", nu2)
	}
	if err := requirePositive("data_variance", sigma2); err != nil {
		return 0, err
	}
	n := float64(nk)
	if math.IsInf(nu2, 1) {
		return NormalQuantile(gamma), nil
	}
	return NormalQuantile(gamma)*math.Sqrt(1+sigma2/(n*nu2)) - mu*math.Sqrt(sigma2)/(math.Sqrt(n)*nu2), nil
}

// SequentialDesign are the inputs of the Bayesian sequential monitoring calculator.
type SequentialDesign struct {
	NPerLook      []int
	PriorMean     float64
	PriorVariance float64
	DataVariance  float64
	Efficacy      float64
	// Futility is optional; zero disables futility boundaries.
	Futility float64
}

// SequentialBoundaries holds per-look z-scale boundaries.
type SequentialBoundaries struct {
	Efficacy []float64 `json:"efficacy_boundaries"`
	Futility []float64 `json:"futility_boundaries"`
}

// SequentialBoundariesZhouJi evaluates the boundary formula at every look.
// Cumulative sizes must be strictly increasing.
func SequentialBoundariesZhouJi(d SequentialDesign) (SequentialBoundaries, error) {
	if len(d.NPerLook) == 0 {
		return SequentialBoundaries{}, core.NewInvalidInputError("n_per_look", "must name at least one look")
	}
	for i := 1; i < len(d.NPerLook); i++ {
		if d.NPerLook[i] <= d.NPerLook[i-1] {
			return SequentialBoundaries{}, core.NewInvalidInputError("n_per_look", "must be strictly increasing, got %v", d.NPerLook)
		}
	}

	out := SequentialBoundaries{Efficacy: make([]float64, len(d.NPerLook))}
	if d.Futility != 0 {
		out.Futility = make([]float64, len(d.NPerLook))
	}
	for i, n := range d.NPerLook {
		c, err := SequentialBoundaryZhouJi(d.Efficacy, n, d.PriorMean, d.PriorVariance, d.DataVariance)
		if err != nil {
			return SequentialBoundaries{}, err
		}
		out.Efficacy[i] = c
		if out.Futility != nil {
			f, err := SequentialBoundaryZhouJi(d.Futility, n, d.PriorMean, d.PriorVariance, d.DataVariance)
			if err != nil {
				return SequentialBoundaries{}, err
			}
			out.Futility[i] = f
		}
	}
	return out, nil
}
