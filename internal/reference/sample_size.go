package reference

import (
	"math"

	"trialcheck/domain/core"
)

// GroupSizes is a two-arm sample size with group 2 allocated ratio:1 to group 1.
type GroupSizes struct {
	N1     int     `json:"n1"`
	N2     int     `json:"n2"`
	NTotal int     `json:"n_total"`
	Raw    float64 `json:"n1_unrounded"`
}

func newGroupSizes(n1, ratio float64) GroupSizes {
	g := GroupSizes{
		N1:  int(math.Ceil(n1)),
		N2:  int(math.Ceil(ratio * n1)),
		Raw: n1,
	}
	g.NTotal = g.N1 + g.N2
	return g
}

// ContinuousSize is the result of SampleSizeContinuous.
type ContinuousSize struct {
	GroupSizes
	EffectSize float64 `json:"effect_size"` // Cohen's d = (mean2-mean1)/sd
}

// SampleSizeContinuous sizes a two-sample comparison of means with the normal
// approximation n1 = (1+1/r)·((z_α + z_β)·sd/|Δ|)², n2 = r·n1, each rounded up.
func SampleSizeContinuous(mean1, mean2, sd, alpha, power, ratio float64, twoSided bool) (ContinuousSize, error) {
	if err := requirePositive("sd", sd); err != nil {
		return ContinuousSize{}, err
	}
	if err := requireTestLevels(alpha, power); err != nil {
		return ContinuousSize{}, err
	}
	if err := requirePositive("ratio", ratio); err != nil {
		return ContinuousSize{}, err
	}
	delta := mean2 - mean1
	if delta == 0 {
		return ContinuousSize{}, core.NewInvalidInputError("mean2", "must differ from mean1")
	}

	z := CriticalValue(alpha, twoSided) + NormalQuantile(power)
	n1 := (1 + 1/ratio) * math.Pow(z*sd/math.Abs(delta), 2)
	return ContinuousSize{GroupSizes: newGroupSizes(n1, ratio), EffectSize: delta / sd}, nil
}

// BinarySize is the result of SampleSizeBinary.
type BinarySize struct {
	GroupSizes
	EffectSizeH float64 `json:"effect_size_h"` // Cohen's h = 2·asin√p2 − 2·asin√p1
}

// CohensH is the arcsine-transformed difference between two proportions.
func CohensH(p1, p2 float64) float64 {
	return 2*math.Asin(math.Sqrt(p2)) - 2*math.Asin(math.Sqrt(p1))
}

// SampleSizeBinary sizes a two-proportion z-test. The numerator uses the pooled
// variance under H0 and the unpooled variance under H1:
//
//	n1 = ((z_α·√((1+1/r)·p̄(1−p̄)) + z_β·√(p1(1−p1) + p2(1−p2)/r)) / |p2−p1|)²,  p̄ = (p1 + r·p2)/(1+r)
//
// Cohen's h is reported alongside as the effect size.
func SampleSizeBinary(p1, p2, alpha, power, ratio float64, twoSided bool) (BinarySize, error) {
	if err := requireOpenUnit("p1", p1); err != nil {
		return BinarySize{}, err
	}
	if err := requireOpenUnit("p2", p2); err != nil {
		return BinarySize{}, err
	}
	if err := requireTestLevels(alpha, power); err != nil {
		return BinarySize{}, err
	}
	if err := requirePositive("ratio", ratio); err != nil {
		return BinarySize{}, err
	}
	if p1 == p2 {
		return BinarySize{}, core.NewInvalidInputError("p2", "must differ from p1")
	}

	pooled := (p1 + ratio*p2) / (1 + ratio)
	numerator := CriticalValue(alpha, twoSided)*math.Sqrt((1+1/ratio)*pooled*(1-pooled)) +
		NormalQuantile(power)*math.Sqrt(p1*(1-p1)+p2*(1-p2)/ratio)
	n1 := math.Pow(numerator/math.Abs(p2-p1), 2)
	return BinarySize{GroupSizes: newGroupSizes(n1, ratio), EffectSizeH: CohensH(p1, p2)}, nil
}

// SurvivalDesign are the inputs of a log-rank sample size.
type SurvivalDesign struct {
	HazardRatio     float64
	MedianControl   float64
	AccrualTime     float64
	FollowUpTime    float64
	Alpha           float64
	Power           float64
	DropoutRate     float64
	AllocationRatio float64
	TwoSided        bool
}

// SurvivalSize is the result of SampleSizeSurvival.
type SurvivalSize struct {
	GroupSizes
	EventsRequired int     `json:"events_required"`
	LogHR          float64 `json:"log_hr"`
	ZAlpha         float64 `json:"z_alpha"`
	ZBeta          float64 `json:"z_beta"`
	EventProb      float64 `json:"event_probability"`
}

// SampleSizeSurvival uses the Schoenfeld event count
//
//	d = (z_α + z_β)²·(1+r)² / (r·ln(HR)²)
//
// and converts events to patients under exponential survival with uniform
// accrual over [0, a] and minimum follow-up f, inflating for dropout.
func SampleSizeSurvival(d SurvivalDesign) (SurvivalSize, error) {
	if err := requirePositive("hazard_ratio", d.HazardRatio); err != nil {
		return SurvivalSize{}, err
	}
	if d.HazardRatio == 1 {
		return SurvivalSize{}, core.NewInvalidInputError("hazard_ratio", "must differ from 1")
	}
	if err := requirePositive("median_control", d.MedianControl); err != nil {
		return SurvivalSize{}, err
	}
	if err := requireNonNegative("accrual_time", d.AccrualTime); err != nil {
		return SurvivalSize{}, err
	}
	if err := requirePositive("follow_up_time", d.FollowUpTime); err != nil {
		return SurvivalSize{}, err
	}
	if err := requireTestLevels(d.Alpha, d.Power); err != nil {
		return SurvivalSize{}, err
	}
	if !(d.DropoutRate >= 0 && d.DropoutRate < 1) {
		return SurvivalSize{}, core.NewInvalidInputError("dropout_rate", "must be in [0, 1), got %v", d.DropoutRate)
	}
	r := d.AllocationRatio
	if r == 0 {
		r = 1
	}
	if err := requirePositive("allocation_ratio", r); err != nil {
		return SurvivalSize{}, err
	}

	zAlpha := CriticalValue(d.Alpha, d.TwoSided)
	zBeta := NormalQuantile(d.Power)
	logHR := math.Log(d.HazardRatio)
	events := math.Pow(zAlpha+zBeta, 2) * math.Pow(1+r, 2) / (r * logHR * logHR)

	lambdaC := math.Ln2 / d.MedianControl
	lambdaT := lambdaC * d.HazardRatio
	pEvent := (eventProbability(lambdaC, d.AccrualTime, d.FollowUpTime) +
		r*eventProbability(lambdaT, d.AccrualTime, d.FollowUpTime)) / (1 + r)

	nTotal := events / pEvent / (1 - d.DropoutRate)
	out := SurvivalSize{
		GroupSizes:     newGroupSizes(nTotal/(1+r), r),
		EventsRequired: int(math.Ceil(events)),
		LogHR:          logHR,
		ZAlpha:         zAlpha,
		ZBeta:          zBeta,
		EventProb:      pEvent,
	}
	return out, nil
}

// eventProbability is P(event observed) for exponential hazard λ with uniform
// entry over [0, a] and analysis at a+f.
func eventProbability(lambda, accrual, followUp float64) float64 {
	if accrual == 0 {
		return 1 - math.Exp(-lambda*followUp)
	}
	return 1 - (math.Exp(-lambda*followUp)-math.Exp(-lambda*(accrual+followUp)))/(lambda*accrual)
}
