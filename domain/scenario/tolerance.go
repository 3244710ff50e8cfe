package scenario

import (
	"fmt"
	"math"

	"trialcheck/domain/core"
)

// ToleranceMode selects how a deviation is measured.
type ToleranceMode string

const (
	ToleranceAbsolute ToleranceMode = "absolute"
	ToleranceRelative ToleranceMode = "relative"
)

// nearZero is the reference magnitude below which a relative tolerance
// falls back to an absolute comparison.
const nearZero = 1e-12

// ToleranceThreshold is the explicit pass/fail policy for one metric.
// Value must be strictly positive.
type ToleranceThreshold struct {
	Mode  ToleranceMode `yaml:"mode" json:"mode"`
	Value float64       `yaml:"value" json:"value"`
	// ZeroFallback is the absolute threshold used when a relative tolerance
	// meets a reference of (near) zero magnitude. Zero means "use Value".
	ZeroFallback float64 `yaml:"zero_fallback,omitempty" json:"zero_fallback,omitempty"`
}

// Absolute builds a fixed-delta tolerance.
func Absolute(v float64) ToleranceThreshold {
	return ToleranceThreshold{Mode: ToleranceAbsolute, Value: v}
}

// Relative builds a tolerance expressed as a fraction of the reference magnitude.
func Relative(v float64) ToleranceThreshold {
	return ToleranceThreshold{Mode: ToleranceRelative, Value: v}
}

// Validate checks the threshold > 0 invariant.
func (t ToleranceThreshold) Validate() error {
	switch t.Mode {
	case ToleranceAbsolute, ToleranceRelative:
	default:
		return core.NewInvalidInputError("tolerance.mode", "unknown mode %q", t.Mode)
	}
	if !(t.Value > 0) || math.IsInf(t.Value, 0) {
		return core.NewInvalidInputError("tolerance.value", "must be a positive finite number, got %v", t.Value)
	}
	if t.ZeroFallback < 0 || math.IsNaN(t.ZeroFallback) {
		return core.NewInvalidInputError("tolerance.zero_fallback", "must not be negative, got %v", t.ZeroFallback)
	}
	return nil
}

// Measure returns the deviation between reference and observed, the threshold
// it must not exceed, and the mode actually applied.
func (t ToleranceThreshold) Measure(reference, observed float64) (deviation, threshold float64, mode ToleranceMode) {
	diff := math.Abs(reference - observed)
	if t.Mode == ToleranceRelative {
		if math.Abs(reference) > nearZero {
			return diff / math.Abs(reference), t.Value, ToleranceRelative
		}
		fallback := t.ZeroFallback
		if fallback == 0 {
			fallback = t.Value
		}
		return diff, fallback, ToleranceAbsolute
	}
	return diff, t.Value, ToleranceAbsolute
}

// Passes applies the inclusive comparison deviation <= threshold.
func (t ToleranceThreshold) Passes(reference, observed float64) bool {
	if math.IsNaN(reference) || math.IsNaN(observed) {
		return false
	}
	dev, thr, _ := t.Measure(reference, observed)
	return dev <= thr
}

func (t ToleranceThreshold) String() string {
	if t.Mode == ToleranceRelative {
		return fmt.Sprintf("rel %.4g", t.Value)
	}
	return fmt.Sprintf("abs %.4g", t.Value)
}
