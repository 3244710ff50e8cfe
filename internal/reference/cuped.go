package reference

import (
	"math"

	"trialcheck/domain/core"
)

// CUPEDVarianceReduction returns the variance reduction factor VRF = 1 − ρ².
func CUPEDVarianceReduction(rho float64) (float64, error) {
	if !(rho >= -1 && rho <= 1) {
		return 0, core.NewInvalidInputError("correlation", "must be in [-1, 1], got %v", rho)
	}
	return 1 - rho*rho, nil
}

// CUPEDAdjustedN returns ⌈n_original · (1 − ρ²)⌉.
func CUPEDAdjustedN(nOriginal int, rho float64) (int, error) {
	if nOriginal < 1 {
		return 0, core.NewInvalidInputError("n_original", "must be >= 1, got %d", nOriginal)
	}
	vrf, err := CUPEDVarianceReduction(rho)
	if err != nil {
		return 0, err
	}
	// Products such as 252·0.75 are exact in binary; nudge away from
	// representation noise so integral products do not round up by one.
	return int(math.Ceil(float64(nOriginal)*vrf - 1e-9)), nil
}

// CUPEDResult is the reference for the /cuped calculator.
type CUPEDResult struct {
	VarianceReductionFactor float64 `json:"variance_reduction_factor"`
	VarianceReductionPct    float64 `json:"variance_reduction_pct"`
	RSquared                float64 `json:"r_squared"`
	NOriginal               int     `json:"n_original"`
	NAdjusted               int     `json:"n_adjusted"`
}

// CUPEDDesign sizes a two-arm test on relative lift mde of baselineMean,
// before and after covariate adjustment (per arm, two-sided alpha).
func CUPEDDesign(baselineMean, baselineSD, mde, rho, alpha, power float64) (CUPEDResult, error) {
	if err := requirePositive("baseline_mean", math.Abs(baselineMean)); err != nil {
		return CUPEDResult{}, err
	}
	if err := requirePositive("baseline_std", baselineSD); err != nil {
		return CUPEDResult{}, err
	}
	if err := requirePositive("mde", mde); err != nil {
		return CUPEDResult{}, err
	}
	if err := requireTestLevels(alpha, power); err != nil {
		return CUPEDResult{}, err
	}
	vrf, err := CUPEDVarianceReduction(rho)
	if err != nil {
		return CUPEDResult{}, err
	}

	delta := math.Abs(baselineMean) * mde
	z := CriticalValue(alpha, true) + NormalQuantile(power)
	nOriginal := 2 * math.Pow(z*baselineSD/delta, 2)
	adjustedSD := baselineSD * math.Sqrt(vrf)
	nAdjusted := 2 * math.Pow(z*adjustedSD/delta, 2)

	return CUPEDResult{
		VarianceReductionFactor: vrf,
		VarianceReductionPct:    (1 - vrf) * 100,
		RSquared:                rho * rho,
		NOriginal:               int(math.Ceil(nOriginal)),
		NAdjusted:               int(math.Ceil(nAdjusted)),
	}, nil
}
