package reference

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat/combin"
	"gonum.org/v1/gonum/stat/distuv"

	"trialcheck/domain/core"
)

// BetaPosterior is a Beta(Alpha, Beta) posterior.
type BetaPosterior struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// Mean returns α/(α+β).
func (b BetaPosterior) Mean() float64 { return b.Alpha / (b.Alpha + b.Beta) }

// BetaBinomialPosterior applies the conjugate update Beta(α0+k, β0+n−k).
func BetaBinomialPosterior(alpha0, beta0 float64, successes, n int) (BetaPosterior, error) {
	if err := requirePositive("prior_alpha", alpha0); err != nil {
		return BetaPosterior{}, err
	}
	if err := requirePositive("prior_beta", beta0); err != nil {
		return BetaPosterior{}, err
	}
	if n < 0 {
		return BetaPosterior{}, core.NewInvalidInputError("n", "must not be negative, got %d", n)
	}
	if successes < 0 || successes > n {
		return BetaPosterior{}, core.NewInvalidInputError("successes", "must be in [0, %d], got %d", n, successes)
	}
	return BetaPosterior{Alpha: alpha0 + float64(successes), Beta: beta0 + float64(n-successes)}, nil
}

// NormalPosterior is a N(Mean, Var) posterior.
type NormalPosterior struct {
	Mean float64 `json:"posterior_mean"`
	Var  float64 `json:"posterior_var"`
}

// CredibleInterval returns the equal-tailed interval at the given level.
func (p NormalPosterior) CredibleInterval(level float64) (lo, hi float64) {
	z := NormalQuantile(1 - (1-level)/2)
	sd := math.Sqrt(p.Var)
	return p.Mean - z*sd, p.Mean + z*sd
}

// NormalNormalPosterior combines prior and data by precision weighting.
func NormalNormalPosterior(priorMean, priorVar, dataMean, dataVar float64) (NormalPosterior, error) {
	if err := requirePositive("prior_var", priorVar); err != nil {
		return NormalPosterior{}, err
	}
	if err := requirePositive("interim_var", dataVar); err != nil {
		return NormalPosterior{}, err
	}
	postVar := 1 / (1/priorVar + 1/dataVar)
	return NormalPosterior{
		Mean: postVar * (priorMean/priorVar + dataMean/dataVar),
		Var:  postVar,
	}, nil
}

// BetaBinomialPredictive returns P(X ≥ threshold) for X ~ BetaBinomial(futureN, a, b),
// i.e. Σ_{k≥threshold} C(m,k)·B(a+k, b+m−k)/B(a,b).
func BetaBinomialPredictive(a, b float64, futureN, threshold int) (float64, error) {
	if err := requirePositive("alpha", a); err != nil {
		return 0, err
	}
	if err := requirePositive("beta", b); err != nil {
		return 0, err
	}
	if futureN < 0 {
		return 0, core.NewInvalidInputError("future_n", "must not be negative, got %d", futureN)
	}
	if threshold <= 0 {
		return 1, nil
	}
	if threshold > futureN {
		return 0, nil
	}
	m := float64(futureN)
	lbeta := mathext.Lbeta(a, b)
	var pp float64
	for k := threshold; k <= futureN; k++ {
		kf := float64(k)
		pp += math.Exp(combin.LogGeneralizedBinomial(m, kf) + mathext.Lbeta(a+kf, b+m-kf) - lbeta)
	}
	return math.Min(pp, 1), nil
}

// NormalPredictiveInput describes an interim look of a normal-endpoint trial.
type NormalPredictiveInput struct {
	PriorMean     float64
	PriorVar      float64
	InterimEffect float64
	InterimVar    float64 // variance of the interim effect estimate
	InterimN      int
	FinalN        int
	// SuccessThreshold is the final posterior probability P(θ > 0 | data) required to declare success.
	SuccessThreshold float64
}

// NormalPredictiveProbability is the probability, under the interim posterior,
// that the final analysis declares P(θ > 0 | all data) > SuccessThreshold.
//
// The per-patient variance is σ² = InterimVar·InterimN. With m = FinalN−InterimN
// remaining patients the future mean is predictively N(μ₁, v₁ + σ²/m) and
// success reduces to that mean exceeding a closed-form cut-off.
func NormalPredictiveProbability(in NormalPredictiveInput) (float64, error) {
	post, err := NormalNormalPosterior(in.PriorMean, in.PriorVar, in.InterimEffect, in.InterimVar)
	if err != nil {
		return 0, err
	}
	if in.InterimN < 1 {
		return 0, core.NewInvalidInputError("interim_n", "must be >= 1, got %d", in.InterimN)
	}
	if in.FinalN < in.InterimN {
		return 0, core.NewInvalidInputError("final_n", "must be >= interim_n (%d), got %d", in.InterimN, in.FinalN)
	}
	if err := requireOpenUnit("success_threshold", in.SuccessThreshold); err != nil {
		return 0, err
	}

	sigma2 := in.InterimVar * float64(in.InterimN)
	zThr := NormalQuantile(in.SuccessThreshold)
	if in.FinalN == in.InterimN {
		if post.Mean/math.Sqrt(post.Var) > zThr {
			return 1, nil
		}
		return 0, nil
	}

	m := float64(in.FinalN - in.InterimN)
	finalVar := 1 / (1/in.PriorVar + float64(in.FinalN)/sigma2)
	// Required final posterior mean is zThr·√finalVar; solve for the future sample mean.
	cut := (zThr*math.Sqrt(finalVar)/finalVar - in.PriorMean/in.PriorVar -
		float64(in.InterimN)*in.InterimEffect/sigma2) * sigma2 / m
	predSD := math.Sqrt(post.Var + sigma2/m)
	return NormalSurvival((cut - post.Mean) / predSD), nil
}

// ProbabilityGreater returns P(p_t > p_c) for independent Beta posteriors,
// ∫ f_t(x)·F_c(x) dx, by Gauss-Legendre quadrature on [0, 1].
func ProbabilityGreater(treatment, control BetaPosterior) float64 {
	ft := distuv.Beta{Alpha: treatment.Alpha, Beta: treatment.Beta}
	fc := distuv.Beta{Alpha: control.Alpha, Beta: control.Beta}
	p := quad.Fixed(func(x float64) float64 {
		return ft.Prob(x) * fc.CDF(x)
	}, 0, 1, 200, quad.Legendre{}, 0)
	return math.Max(0, math.Min(1, p))
}
