package reference

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"trialcheck/domain/core"
)

func TestSampleSizeContinuous(t *testing.T) {
	got, err := SampleSizeContinuous(100, 105, 20, 0.05, 0.80, 1, true)
	require.NoError(t, err)
	assert.Equal(t, 252, got.N1)
	assert.Equal(t, 252, got.N2)
	assert.Equal(t, 504, got.NTotal)
	assert.InDelta(t, 0.25, got.EffectSize, 1e-12)

	unequal, err := SampleSizeContinuous(100, 105, 20, 0.05, 0.80, 2, true)
	require.NoError(t, err)
	assert.Equal(t, int(math.Ceil(2*unequal.Raw)), unequal.N2)
	assert.Less(t, unequal.N1, got.N1)

	oneSided, err := SampleSizeContinuous(100, 105, 20, 0.05, 0.80, 1, false)
	require.NoError(t, err)
	assert.Less(t, oneSided.NTotal, got.NTotal)
}

func TestSampleSizeContinuousRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name                            string
		m1, m2, sd, alpha, power, ratio float64
	}{
		{"zero sd", 100, 105, 0, 0.05, 0.8, 1},
		{"negative sd", 100, 105, -2, 0.05, 0.8, 1},
		{"alpha one", 100, 105, 20, 1, 0.8, 1},
		{"power zero", 100, 105, 20, 0.05, 0, 1},
		{"equal means", 100, 100, 20, 0.05, 0.8, 1},
		{"zero ratio", 100, 105, 20, 0.05, 0.8, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SampleSizeContinuous(tc.m1, tc.m2, tc.sd, tc.alpha, tc.power, tc.ratio, true)
			assert.True(t, core.IsInvalidInput(err), "got %v", err)
		})
	}
}

func TestSampleSizeBinary(t *testing.T) {
	tests := []struct {
		p1, p2, alpha, power, ratio float64
		n1, n2                      int
	}{
		{0.10, 0.15, 0.05, 0.80, 1, 686, 686},
		{0.20, 0.30, 0.05, 0.90, 1, 392, 392},
		{0.10, 0.15, 0.05, 0.80, 2, 526, 1051},
	}
	for _, tt := range tests {
		got, err := SampleSizeBinary(tt.p1, tt.p2, tt.alpha, tt.power, tt.ratio, true)
		require.NoError(t, err)
		assert.Equal(t, tt.n1, got.N1, "p1=%v p2=%v", tt.p1, tt.p2)
		assert.Equal(t, tt.n2, got.N2, "p1=%v p2=%v", tt.p1, tt.p2)
		assert.InDelta(t, CohensH(tt.p1, tt.p2), got.EffectSizeH, 1e-15)
	}

	_, err := SampleSizeBinary(0, 0.2, 0.05, 0.8, 1, true)
	assert.True(t, core.IsInvalidInput(err))
	_, err = SampleSizeBinary(0.2, 1.2, 0.05, 0.8, 1, true)
	assert.True(t, core.IsInvalidInput(err))
}

func TestSampleSizeSurvival(t *testing.T) {
	got, err := SampleSizeSurvival(SurvivalDesign{
		HazardRatio: 0.7, MedianControl: 12, AccrualTime: 24, FollowUpTime: 12,
		Alpha: 0.05, Power: 0.80, AllocationRatio: 1, TwoSided: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 247, got.EventsRequired)
	assert.InDelta(t, 0.66776, got.EventProb, 1e-4)
	assert.Equal(t, 185, got.N1)
	assert.Equal(t, 185, got.N2)
	assert.InDelta(t, math.Log(0.7), got.LogHR, 1e-12)

	withDropout, err := SampleSizeSurvival(SurvivalDesign{
		HazardRatio: 0.7, MedianControl: 12, AccrualTime: 24, FollowUpTime: 12,
		Alpha: 0.05, Power: 0.80, DropoutRate: 0.1, TwoSided: true,
	})
	require.NoError(t, err)
	assert.Greater(t, withDropout.NTotal, got.NTotal)
	assert.Equal(t, got.EventsRequired, withDropout.EventsRequired)

	_, err = SampleSizeSurvival(SurvivalDesign{HazardRatio: 1, MedianControl: 12, FollowUpTime: 1, Alpha: 0.05, Power: 0.8})
	assert.True(t, core.IsInvalidInput(err))
}

func TestCUPED(t *testing.T) {
	vrf, err := CUPEDVarianceReduction(0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.75, vrf)

	n, err := CUPEDAdjustedN(252, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 189, n)

	same, err := CUPEDAdjustedN(252, 0)
	require.NoError(t, err)
	assert.Equal(t, 252, same)

	_, err = CUPEDVarianceReduction(1.01)
	assert.True(t, core.IsInvalidInput(err))

	design, err := CUPEDDesign(100, 20, 0.05, 0.5, 0.05, 0.80)
	require.NoError(t, err)
	assert.Equal(t, 252, design.NOriginal)
	assert.Equal(t, 189, design.NAdjusted)
	assert.InDelta(t, 25.0, design.VarianceReductionPct, 1e-12)

	zero, err := CUPEDDesign(100, 20, 0.05, 0, 0.05, 0.80)
	require.NoError(t, err)
	assert.Equal(t, zero.NOriginal, zero.NAdjusted)
}

func TestCUPEDSymmetryProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rho := rapid.Float64Range(-1, 1).Draw(t, "rho")
		pos, err := CUPEDVarianceReduction(rho)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		neg, err := CUPEDVarianceReduction(-rho)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if pos != neg {
			t.Fatalf("VRF(%v)=%v differs from VRF(%v)=%v", rho, pos, -rho, neg)
		}
		if pos != 1-rho*rho {
			t.Fatalf("VRF(%v)=%v, want %v", rho, pos, 1-rho*rho)
		}
		n := rapid.IntRange(1, 100000).Draw(t, "n")
		adj, err := CUPEDAdjustedN(n, rho)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if adj > n {
			t.Fatalf("adjusted n %d exceeds original %d", adj, n)
		}
	})
}

func TestConjugatePosteriors(t *testing.T) {
	post, err := BetaBinomialPosterior(1, 1, 8, 20)
	require.NoError(t, err)
	assert.Equal(t, BetaPosterior{Alpha: 9, Beta: 13}, post)
	assert.InDelta(t, 9.0/22.0, post.Mean(), 1e-15)

	_, err = BetaBinomialPosterior(1, 1, 21, 20)
	assert.True(t, core.IsInvalidInput(err))
	_, err = BetaBinomialPosterior(1, 1, -1, 20)
	assert.True(t, core.IsInvalidInput(err))

	normal, err := NormalNormalPosterior(0, 0.5, 0.8, 0.05)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/22.0, normal.Var, 1e-15)
	assert.InDelta(t, 16.0/22.0, normal.Mean, 1e-15)
	lo, hi := normal.CredibleInterval(0.95)
	assert.InDelta(t, normal.Mean, (lo+hi)/2, 1e-12)
	assert.InDelta(t, 2*1.959964*math.Sqrt(normal.Var), hi-lo, 1e-5)
}

func TestBetaBinomialPredictive(t *testing.T) {
	pp, err := BetaBinomialPredictive(9, 13, 20, 12)
	require.NoError(t, err)
	assert.InDelta(t, 0.137841, pp, 1e-6)

	all, err := BetaBinomialPredictive(9, 13, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, all)

	none, err := BetaBinomialPredictive(9, 13, 20, 21)
	require.NoError(t, err)
	assert.Equal(t, 0.0, none)

	p0, err := BetaBinomialPredictive(0.5, 0.5, 30, 1)
	require.NoError(t, err)
	assert.Greater(t, p0, 0.0)
	assert.LessOrEqual(t, p0, 1.0)
}

func TestNormalPredictiveProbability(t *testing.T) {
	strong, err := NormalPredictiveProbability(NormalPredictiveInput{
		PriorMean: 0, PriorVar: 0.5, InterimEffect: 0.8, InterimVar: 0.05,
		InterimN: 200, FinalN: 300, SuccessThreshold: 0.95,
	})
	require.NoError(t, err)
	assert.Greater(t, strong, 0.7)

	null, err := NormalPredictiveProbability(NormalPredictiveInput{
		PriorMean: 0, PriorVar: 0.5, InterimEffect: 0, InterimVar: 0.1,
		InterimN: 100, FinalN: 200, SuccessThreshold: 0.95,
	})
	require.NoError(t, err)
	assert.Less(t, null, 0.3)
	assert.InDelta(t, 0.035785, null, 1e-5)

	optimistic, err := NormalPredictiveProbability(NormalPredictiveInput{
		PriorMean: 0.3, PriorVar: 0.5, InterimEffect: 0.3, InterimVar: 0.1,
		InterimN: 100, FinalN: 200, SuccessThreshold: 0.975,
	})
	require.NoError(t, err)
	skeptical, err := NormalPredictiveProbability(NormalPredictiveInput{
		PriorMean: 0, PriorVar: 0.5, InterimEffect: 0.3, InterimVar: 0.1,
		InterimN: 100, FinalN: 200, SuccessThreshold: 0.975,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, optimistic, skeptical)

	_, err = NormalPredictiveProbability(NormalPredictiveInput{PriorVar: 1, InterimVar: 1, InterimN: 10, FinalN: 5, SuccessThreshold: 0.95})
	assert.True(t, core.IsInvalidInput(err))
}

func TestProbabilityGreater(t *testing.T) {
	p := ProbabilityGreater(BetaPosterior{Alpha: 2, Beta: 1}, BetaPosterior{Alpha: 1, Beta: 2})
	assert.InDelta(t, 5.0/6.0, p, 1e-6)

	equal := ProbabilityGreater(BetaPosterior{Alpha: 7, Beta: 5}, BetaPosterior{Alpha: 7, Beta: 5})
	assert.InDelta(t, 0.5, equal, 1e-6)
}

func TestSequentialBoundaryZhouJi(t *testing.T) {
	want := []float64{1.992362, 1.976230, 1.970823}
	for i, n := range []int{30, 60, 90} {
		c, err := SequentialBoundaryZhouJi(0.975, n, 0, 1, 1)
		require.NoError(t, err)
		assert.InDelta(t, want[i], c, 1e-5)
	}

	informative, err := SequentialBoundariesZhouJi(SequentialDesign{
		NPerLook: []int{50, 100}, PriorMean: 0.3, PriorVariance: 0.5, DataVariance: 1,
		Efficacy: 0.95, Futility: 0.10,
	})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1.592575, 1.601221}, informative.Efficacy, 1e-5)
	assert.Len(t, informative.Futility, 2)

	_, err = SequentialBoundariesZhouJi(SequentialDesign{NPerLook: []int{50, 50}, PriorVariance: 1, DataVariance: 1, Efficacy: 0.95})
	assert.True(t, core.IsInvalidInput(err))
}

func TestSequentialBoundaryVaguePriorLimit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 5000).Draw(t, "n")
		mu := rapid.Float64Range(-5, 5).Draw(t, "mu")
		sigma2 := rapid.Float64Range(0.01, 10).Draw(t, "sigma2")
		target := NormalQuantile(0.975)

		for _, nu2 := range []float64{1e6, 1e8} {
			c, err := SequentialBoundaryZhouJi(0.975, n, mu, nu2, sigma2)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			bound := target*sigma2/(2*float64(n)*nu2) + math.Abs(mu)*math.Sqrt(sigma2)/(math.Sqrt(float64(n))*nu2) + 1e-12
			if gap := math.Abs(c - target); gap > bound {
				t.Fatalf("nu2=%v: |c - z| = %v exceeds %v", nu2, gap, bound)
			}
		}
		limit, err := SequentialBoundaryZhouJi(0.975, n, mu, math.Inf(1), sigma2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if limit != target {
			t.Fatalf("limit %v != %v", limit, target)
		}
	})
}

func TestPriorElicitation(t *testing.T) {
	ess, err := ESSPrior(0.25, 10)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, ess.Alpha, 1e-12)
	assert.InDelta(t, 7.5, ess.Beta, 1e-12)
	assert.InDelta(t, 10, ess.ESS, 1e-12)
	assert.InDelta(t, 2.5*7.5/(100*11), ess.Variance, 1e-12)

	hist, err := HistoricalPrior(30, 100, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 16, hist.Alpha, 1e-12)
	assert.InDelta(t, 36, hist.Beta, 1e-12)

	power, err := PowerPrior(0, 50, 0.5, 1, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1, power.Alpha, 1e-12)
	assert.InDelta(t, 26, power.Beta, 1e-12)

	_, err = PowerPrior(10, 50, 1.5, 1, 1)
	assert.True(t, core.IsInvalidInput(err))
	_, err = ESSPrior(1.2, 10)
	assert.True(t, core.IsInvalidInput(err))
}

func TestQuantileMatchedBeta(t *testing.T) {
	// Quantiles of Beta(4, 12) should recover parameters close to (4, 12).
	probs := []float64{0.05, 0.5, 0.95}
	values := make([]float64, len(probs))
	target := SummarizeBeta(4, 12)
	for i, p := range probs {
		values[i] = betaQuantile(target.Alpha, target.Beta, p)
	}
	fit, err := QuantileMatchedBeta(probs, values)
	require.NoError(t, err)
	assert.InDelta(t, 4, fit.Alpha, 0.5)
	assert.InDelta(t, 12, fit.Beta, 0.5)

	_, err = QuantileMatchedBeta([]float64{0.5}, []float64{0.3})
	assert.True(t, core.IsInvalidInput(err))
}

func TestHeterogeneity(t *testing.T) {
	got, err := Heterogeneity([]Study{{12, 40}, {15, 50}, {30, 60}})
	require.NoError(t, err)
	assert.InDelta(t, 0.371795, got.PooledRate, 1e-6)
	assert.InDelta(t, 6.153846, got.Q, 1e-6)
	assert.InDelta(t, 67.5, got.ISquared, 1e-6)
	assert.Equal(t, 2, got.DF)

	homogeneous, err := Heterogeneity([]Study{{10, 50}, {20, 100}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, homogeneous.ISquared)

	zeroRate, err := Heterogeneity([]Study{{0, 40}, {5, 40}})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(zeroRate.Q))
}

func TestSpendingFunctions(t *testing.T) {
	const alpha = 0.025
	fns := []SpendingFunction{
		LanDeMetsOBrienFleming{}, LanDeMetsPocock{}, HwangShihDeCani{Gamma: -4},
		HwangShihDeCani{Gamma: 0}, PowerFamily{Rho: 3},
	}
	for _, fn := range fns {
		t.Run(fn.Name(), func(t *testing.T) {
			assert.Equal(t, 0.0, fn.Spend(alpha, 0))
			assert.InDelta(t, alpha, fn.Spend(alpha, 1), 1e-12)
			prev := 0.0
			for _, tt := range []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1} {
				v := fn.Spend(alpha, tt)
				assert.GreaterOrEqual(t, v, prev)
				prev = v
			}
		})
	}
	assert.InDelta(t, 0.5*alpha, HwangShihDeCani{}.Spend(alpha, 0.5), 1e-15)
}
