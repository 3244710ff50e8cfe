package calibration

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"trialcheck/domain/core"
)

// ClopperPearson returns the exact two-sided interval for a binomial
// proportion after k successes in n trials:
//
//	lower = BetaInv(a/2; k, n−k+1),  upper = BetaInv(1−a/2; k+1, n−k)
//
// with a = 1 − confidence, lower = 0 at k = 0 and upper = 1 at k = n.
func ClopperPearson(k, n int, confidence float64) (lower, upper float64, err error) {
	if n < 1 {
		return 0, 0, core.NewInvalidInputError("n_sims", "must be >= 1, got %d", n)
	}
	if k < 0 || k > n {
		return 0, 0, core.NewInvalidInputError("successes", "must be in [0, %d], got %d", n, k)
	}
	if !(confidence > 0 && confidence < 1) {
		return 0, 0, core.NewInvalidInputError("confidence", "must be in (0, 1), got %v", confidence)
	}
	a := 1 - confidence
	rate := float64(k) / float64(n)

	lower, upper = 0, 1
	if k > 0 {
		lower = distuv.Beta{Alpha: float64(k), Beta: float64(n - k + 1)}.Quantile(a / 2)
	}
	if k < n {
		upper = distuv.Beta{Alpha: float64(k + 1), Beta: float64(n - k)}.Quantile(1 - a/2)
	}
	// Inverse incomplete beta can miss the rate by an ulp at extreme k.
	return math.Min(lower, rate), math.Max(upper, rate), nil
}
