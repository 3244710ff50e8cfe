// Package reference holds the independent closed-form formulas every
// calculator of the service under test is checked against. All functions are
// pure and deterministic.
package reference

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"trialcheck/domain/core"
)

// NormalQuantile returns Φ⁻¹(p).
func NormalQuantile(p float64) float64 {
	return distuv.UnitNormal.Quantile(p)
}

// NormalCDF returns Φ(x).
func NormalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// NormalPDF returns φ(x).
func NormalPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}

// NormalSurvival returns 1-Φ(x) without cancellation in the upper tail.
func NormalSurvival(x float64) float64 {
	return 0.5 * math.Erfc(x/math.Sqrt2)
}

// CriticalValue returns z_{1-α/2} for two-sided tests and z_{1-α} otherwise.
func CriticalValue(alpha float64, twoSided bool) float64 {
	if twoSided {
		return NormalQuantile(1 - alpha/2)
	}
	return NormalQuantile(1 - alpha)
}

func requireOpenUnit(field string, v float64) error {
	if !(v > 0 && v < 1) {
		return core.NewInvalidInputError(field, "must be in (0, 1), got %v", v)
	}
	return nil
}

func requirePositive(field string, v float64) error {
	if !(v > 0) || math.IsInf(v, 1) {
		return core.NewInvalidInputError(field, "must be positive, got %v", v)
	}
	return nil
}

func requireNonNegative(field string, v float64) error {
	if !(v >= 0) || math.IsInf(v, 1) {
		return core.NewInvalidInputError(field, "must not be negative, got %v", v)
	}
	return nil
}

func requireTestLevels(alpha, power float64) error {
	if err := requireOpenUnit("alpha", alpha); err != nil {
		return err
	}
	return requireOpenUnit("power", power)
}
