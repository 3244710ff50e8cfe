package boundary

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"

	"trialcheck/internal/reference"
)

// truncation is the lower edge of the one-sided continuation region.
// Mass below −8 standard deviations is below double precision resolution.
const truncation = 8.0

// stage is the sub-density of Z_k on the continuation region after look k:
// the process has not crossed at any look up to and including k.
type stage struct {
	t     float64
	x     []float64
	f     []float64
	empty bool
}

// recursion carries the numerical integration of Armitage, McPherson and
// Rowe across looks. Z_k = S(t_k)/√t_k where S is Brownian motion with
// drift eta, so Z_k has mean eta·√t_k and unit variance.
type recursion struct {
	twoSided bool
	drift    float64
	points   int
	scratch  []float64
}

func newRecursion(twoSided bool, drift float64, points int) *recursion {
	if points < 3 {
		points = 3
	}
	return &recursion{twoSided: twoSided, drift: drift, points: points, scratch: make([]float64, points)}
}

func (r *recursion) region(b float64) (lo, hi float64, ok bool) {
	lo = -truncation
	if r.twoSided {
		lo = -b
	}
	return lo, b, b-lo > 1e-12
}

// first returns the crossing probability at look 1 and the stage that follows it.
func (r *recursion) first(b, t float64) (float64, stage) {
	mean := r.drift * math.Sqrt(t)
	p := reference.NormalSurvival(b - mean)
	if r.twoSided {
		p += reference.NormalCDF(-b - mean)
	}

	lo, hi, ok := r.region(b)
	if !ok {
		return p, stage{t: t, empty: true}
	}
	s := stage{t: t, x: floats.Span(make([]float64, r.points), lo, hi), f: make([]float64, r.points)}
	for i, z := range s.x {
		s.f[i] = reference.NormalPDF(z - mean)
	}
	return p, s
}

// cross is the probability of surviving to s and crossing b at information t.
func (r *recursion) cross(s stage, b, t float64) float64 {
	if s.empty {
		return 0
	}
	dt := t - s.t
	sd := math.Sqrt(dt)
	sqt, sqPrev := math.Sqrt(t), math.Sqrt(s.t)
	for i, z := range s.x {
		m := z*sqPrev + r.drift*dt
		p := reference.NormalSurvival((b*sqt - m) / sd)
		if r.twoSided {
			p += reference.NormalCDF((-b*sqt - m) / sd)
		}
		r.scratch[i] = s.f[i] * p
	}
	return math.Max(0, integrate.Simpsons(s.x, r.scratch))
}

// advance propagates the sub-density through look k with boundary b.
func (r *recursion) advance(s stage, b, t float64) stage {
	lo, hi, ok := r.region(b)
	if s.empty || !ok {
		return stage{t: t, empty: true}
	}
	dt := t - s.t
	sd := math.Sqrt(dt)
	sqt, sqPrev := math.Sqrt(t), math.Sqrt(s.t)
	jac := math.Sqrt(t / dt)

	next := stage{t: t, x: floats.Span(make([]float64, r.points), lo, hi), f: make([]float64, r.points)}
	for j, zn := range next.x {
		for i, z := range s.x {
			r.scratch[i] = s.f[i] * jac * reference.NormalPDF((zn*sqt-z*sqPrev-r.drift*dt)/sd)
		}
		next.f[j] = math.Max(0, integrate.Simpsons(s.x, r.scratch))
	}
	return next
}

// probabilities returns the per-look crossing probabilities for fixed boundaries.
func (r *recursion) probabilities(z, t []float64) []float64 {
	out := make([]float64, len(z))
	var s stage
	for k := range z {
		if k == 0 {
			out[0], s = r.first(z[0], t[0])
			continue
		}
		out[k] = r.cross(s, z[k], t[k])
		if k < len(z)-1 {
			s = r.advance(s, z[k], t[k])
		}
	}
	return out
}
