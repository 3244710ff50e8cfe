package boundary

import (
	"math"

	"trialcheck/domain/core"
	"trialcheck/internal/reference"
)

// maxDrift bounds the drift search; power 1−1e-12 is reached well below it.
const maxDrift = 20.0

// DriftForPower returns the drift η such that the probability of crossing b
// at some look equals power when Z_k has mean η·√t_k.
func DriftForPower(b Boundaries, power float64) (float64, error) {
	if !(power > 0 && power < 1) {
		return 0, core.NewInvalidInputError("power", "must be in (0, 1), got %v", power)
	}
	if len(b.Z) == 0 || len(b.Z) != len(b.Timing) {
		return 0, core.NewInvalidInputError("boundaries", "need one boundary per look")
	}
	opts := DefaultOptions()
	shortfall := func(eta float64) float64 {
		total := 0.0
		for _, p := range newRecursion(b.TwoSided, eta, opts.GridPoints).probabilities(b.Z, b.Timing) {
			total += p
		}
		return power - total
	}
	return bisect(len(b.Z), shortfall, 0, maxDrift, opts)
}

// InflationFactor returns R = (η/(z_α + z_β))², the ratio of the maximum
// information of the sequential design to that of the fixed design with the
// same alpha and power.
func InflationFactor(b Boundaries, alpha, power float64) (float64, error) {
	if !(alpha > 0 && alpha < 1) {
		return 0, core.NewInvalidInputError("alpha", "must be in (0, 1), got %v", alpha)
	}
	eta, err := DriftForPower(b, power)
	if err != nil {
		return 0, err
	}
	fixed := reference.CriticalValue(alpha, b.TwoSided) + reference.NormalQuantile(power)
	return math.Pow(eta/fixed, 2), nil
}

// SampleSize is the group-sequential sizing of a standardized effect.
type SampleSize struct {
	Boundaries
	EffectSize float64 `json:"effect_size"`
	Alpha      float64 `json:"alpha"`
	Power      float64 `json:"power"`
	NFixed     float64 `json:"n_fixed"`
	NMax       float64 `json:"n_max"`
	Inflation  float64 `json:"inflation_factor"`
	// AlphaSpent is the nominal cumulative alpha at each look under the
	// family's spending function.
	AlphaSpent []float64 `json:"alpha_spent"`
}

// Size solves the boundaries of d and scales the fixed-design per-arm sample
// size 2·((z_α + z_β)/δ)² by the inflation factor. Neither n is rounded.
func Size(d Design, effectSize, power float64) (SampleSize, error) {
	if !(effectSize > 0) || math.IsInf(effectSize, 1) {
		return SampleSize{}, core.NewInvalidInputError("effect_size", "must be positive, got %v", effectSize)
	}
	b, err := Solve(d)
	if err != nil {
		return SampleSize{}, err
	}
	r, err := InflationFactor(b, d.Alpha, power)
	if err != nil {
		return SampleSize{}, err
	}
	z := reference.CriticalValue(d.Alpha, d.TwoSided) + reference.NormalQuantile(power)
	nFixed := 2 * math.Pow(z/effectSize, 2)

	fn := d.Family.LanDeMetsAnalogue()
	spent := make([]float64, len(b.Timing))
	for k, t := range b.Timing {
		spent[k] = fn.Spend(d.Alpha, t)
	}
	return SampleSize{
		Boundaries: b,
		EffectSize: effectSize,
		Alpha:      d.Alpha,
		Power:      power,
		NFixed:     nFixed,
		NMax:       nFixed * r,
		Inflation:  r,
		AlphaSpent: spent,
	}, nil
}
