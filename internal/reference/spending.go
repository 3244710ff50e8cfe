package reference

import (
	"fmt"
	"math"
)

// SpendingFunction maps an information fraction t ∈ (0, 1] to the cumulative
// type-I error α*(t) spent by t, for total level alpha.
type SpendingFunction interface {
	Name() string
	Spend(alpha, t float64) float64
}

// LanDeMetsOBrienFleming is α*(t) = 2·(1 − Φ(z_{1−α/2}/√t)).
type LanDeMetsOBrienFleming struct{}

func (LanDeMetsOBrienFleming) Name() string { return "LanDeMetsOBrienFleming" }

func (LanDeMetsOBrienFleming) Spend(alpha, t float64) float64 {
	if t <= 0 {
		return 0
	}
	return 2 * NormalSurvival(NormalQuantile(1-alpha/2)/math.Sqrt(t))
}

// LanDeMetsPocock is α*(t) = α·ln(1 + (e − 1)·t).
type LanDeMetsPocock struct{}

func (LanDeMetsPocock) Name() string { return "LanDeMetsPocock" }

func (LanDeMetsPocock) Spend(alpha, t float64) float64 {
	if t <= 0 {
		return 0
	}
	return alpha * math.Log(1+(math.E-1)*t)
}

// HwangShihDeCani is α*(t) = α·(1 − e^{−γt})/(1 − e^{−γ}); γ = 0 is linear spending.
type HwangShihDeCani struct {
	Gamma float64
}

func (h HwangShihDeCani) Name() string { return fmt.Sprintf("HwangShihDeCani(%g)", h.Gamma) }

func (h HwangShihDeCani) Spend(alpha, t float64) float64 {
	if t <= 0 {
		return 0
	}
	if h.Gamma == 0 {
		return alpha * t
	}
	return alpha * (1 - math.Exp(-h.Gamma*t)) / (1 - math.Exp(-h.Gamma))
}

// PowerFamily is α*(t) = α·t^ρ.
type PowerFamily struct {
	Rho float64
}

func (p PowerFamily) Name() string { return fmt.Sprintf("Power(%g)", p.Rho) }

func (p PowerFamily) Spend(alpha, t float64) float64 {
	if t <= 0 {
		return 0
	}
	return alpha * math.Pow(t, p.Rho)
}

// CustomSpending wraps an arbitrary user spending function.
type CustomSpending struct {
	Label string
	Fn    func(alpha, t float64) float64
}

func (c CustomSpending) Name() string { return c.Label }

func (c CustomSpending) Spend(alpha, t float64) float64 { return c.Fn(alpha, t) }
