package reference

import (
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"trialcheck/domain/core"
)

// BetaSummary describes a Beta(α, β) prior.
type BetaSummary struct {
	Alpha    float64 `json:"alpha"`
	Beta     float64 `json:"beta"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	Mode     float64 `json:"mode"`
	ESS      float64 `json:"ess"`
}

// SummarizeBeta computes mean, variance αβ/((α+β)²(α+β+1)), mode and ESS = α+β.
// The mode is NaN when either parameter is ≤ 1.
func SummarizeBeta(a, b float64) BetaSummary {
	s := a + b
	mode := math.NaN()
	if a > 1 && b > 1 {
		mode = (a - 1) / (s - 2)
	}
	return BetaSummary{
		Alpha:    a,
		Beta:     b,
		Mean:     a / s,
		Variance: a * b / (s * s * (s + 1)),
		Mode:     mode,
		ESS:      s,
	}
}

// ESSPrior builds Beta(mean·ess, (1−mean)·ess).
func ESSPrior(mean, ess float64) (BetaSummary, error) {
	if err := requireOpenUnit("mean", mean); err != nil {
		return BetaSummary{}, err
	}
	if err := requirePositive("ess", ess); err != nil {
		return BetaSummary{}, err
	}
	return SummarizeBeta(mean*ess, (1-mean)*ess), nil
}

// HistoricalPrior discounts historical data onto a uniform prior:
// Beta(1 + δ·events, 1 + δ·(n − events)).
func HistoricalPrior(events, n int, discount float64) (BetaSummary, error) {
	return PowerPrior(events, n, discount, 1, 1)
}

// PowerPrior builds Beta(a0 + δ·events, b0 + δ·(n − events)).
func PowerPrior(events, n int, discount, a0, b0 float64) (BetaSummary, error) {
	if n < 1 {
		return BetaSummary{}, core.NewInvalidInputError("historical_n", "must be >= 1, got %d", n)
	}
	if events < 0 || events > n {
		return BetaSummary{}, core.NewInvalidInputError("historical_events", "must be in [0, %d], got %d", n, events)
	}
	if !(discount >= 0 && discount <= 1) {
		return BetaSummary{}, core.NewInvalidInputError("discount_factor", "must be in [0, 1], got %v", discount)
	}
	if err := requirePositive("base_alpha", a0); err != nil {
		return BetaSummary{}, err
	}
	if err := requirePositive("base_beta", b0); err != nil {
		return BetaSummary{}, err
	}
	return SummarizeBeta(a0+discount*float64(events), b0+discount*float64(n-events)), nil
}

// QuantileMatchedBeta fits Beta(α, β) minimising Σ(F⁻¹(q_i) − v_i)² with Nelder-Mead from (2, 2).
func QuantileMatchedBeta(probs, values []float64) (BetaSummary, error) {
	if len(probs) < 2 || len(probs) != len(values) {
		return BetaSummary{}, core.NewInvalidInputError("quantiles", "need at least two (probability, value) pairs of equal length")
	}
	for i := range probs {
		if err := requireOpenUnit("quantiles", probs[i]); err != nil {
			return BetaSummary{}, err
		}
		if err := requireOpenUnit("quantile_values", values[i]); err != nil {
			return BetaSummary{}, err
		}
		if i > 0 && (probs[i] <= probs[i-1] || values[i] <= values[i-1]) {
			return BetaSummary{}, core.NewInvalidInputError("quantiles", "probabilities and values must be strictly increasing")
		}
	}

	loss := func(x []float64) float64 {
		if x[0] <= 0 || x[1] <= 0 {
			return 1e12
		}
		dist := distuv.Beta{Alpha: x[0], Beta: x[1]}
		var sum float64
		for i, q := range probs {
			d := dist.Quantile(q) - values[i]
			sum += d * d
		}
		return sum
	}
	res, err := optimize.Minimize(optimize.Problem{Func: loss}, []float64{2, 2}, &optimize.Settings{
		MajorIterations: 10000,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-14, Iterations: 200},
	}, &optimize.NelderMead{})
	if err != nil {
		return BetaSummary{}, core.NewInvalidInputError("quantiles", "no Beta prior matches: %v", err)
	}
	return SummarizeBeta(res.X[0], res.X[1]), nil
}

// Study is one historical study for heterogeneity assessment.
type Study struct {
	Events int
	N      int
}

// HeterogeneityResult summarises between-study variation.
type HeterogeneityResult struct {
	PooledRate float64 `json:"pooled_rate"`
	Q          float64 `json:"cochran_q"`
	ISquared   float64 `json:"i_squared"` // percent
	DF         int     `json:"df"`
}

// Heterogeneity computes the fixed-effect pooled rate, Cochran's Q and I² (in
// percent) with binomial inverse-variance weights. Studies with a 0% or 100%
// rate use the conservative variance 0.25/n.
func Heterogeneity(studies []Study) (HeterogeneityResult, error) {
	if len(studies) < 2 {
		return HeterogeneityResult{}, core.NewInvalidInputError("studies", "need at least two studies, got %d", len(studies))
	}
	rates := make([]float64, len(studies))
	weights := make([]float64, len(studies))
	var totalW, weighted float64
	for i, s := range studies {
		if s.N < 1 || s.Events < 0 || s.Events > s.N {
			return HeterogeneityResult{}, core.NewInvalidInputError("studies", "study %d has %d events of %d", i, s.Events, s.N)
		}
		r := float64(s.Events) / float64(s.N)
		v := r * (1 - r) / float64(s.N)
		if r <= 0 || r >= 1 {
			v = 0.25 / float64(s.N)
		}
		rates[i] = r
		weights[i] = 1 / v
		totalW += weights[i]
		weighted += weights[i] * r
	}
	pooled := weighted / totalW

	var q float64
	for i := range rates {
		q += weights[i] * (rates[i] - pooled) * (rates[i] - pooled)
	}
	df := len(studies) - 1
	i2 := 0.0
	if q > 0 {
		i2 = math.Max(0, (q-float64(df))/q*100)
	}
	return HeterogeneityResult{PooledRate: pooled, Q: q, ISquared: i2, DF: df}, nil
}
