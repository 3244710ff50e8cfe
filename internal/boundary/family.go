package boundary

import (
	"fmt"
	"strings"

	"trialcheck/domain/core"
	"trialcheck/internal/reference"
)

// Family selects how boundaries are shaped across looks.
//
// Shape families fix b_k = C·t_k^(Δ−1/2) and solve the single constant C so
// that the total crossing probability equals alpha (Wang-Tsiatis; Δ=0 is the
// classical O'Brien-Fleming design, Δ=1/2 is Pocock). Spending families solve
// each look separately so that the cumulative crossing probability tracks a
// spending function α*(t).
type Family struct {
	Name     string
	Delta    float64                    // shape families only
	Spending reference.SpendingFunction // spending families only
	// Monotone is the shape the boundaries take. It is enforced for shape
	// families only: spending families approximate it, and legitimately break
	// it for many looks or when little alpha is left for the last look.
	Monotone Monotonicity
}

// Monotonicity is the structural property a family's boundaries must satisfy.
type Monotonicity int

const (
	MonotoneNone Monotonicity = iota
	// MonotoneDecreasing requires strictly decreasing boundaries (O'Brien-Fleming type).
	MonotoneDecreasing
	// MonotoneFlat requires max−min within FlatTolerance (Pocock type).
	MonotoneFlat
)

// FlatTolerance is the largest spread accepted for Pocock-type boundaries.
const FlatTolerance = 0.05

// IsShape reports whether the family is solved as a single-constant shape.
func (f Family) IsShape() bool { return f.Spending == nil }

// OBrienFleming is the classical O'Brien-Fleming shape b_k = C/√t_k.
func OBrienFleming() Family {
	return Family{Name: "OBrienFleming", Delta: 0, Monotone: MonotoneDecreasing}
}

// Pocock is the classical constant boundary b_k = C.
func Pocock() Family {
	return Family{Name: "Pocock", Delta: 0.5, Monotone: MonotoneFlat}
}

// WangTsiatis is the shape family b_k = C·t_k^(Δ−1/2).
func WangTsiatis(delta float64) Family {
	m := MonotoneNone
	switch {
	case delta < 0.5:
		m = MonotoneDecreasing
	case delta == 0.5:
		m = MonotoneFlat
	}
	return Family{Name: fmt.Sprintf("WangTsiatis(%g)", delta), Delta: delta, Monotone: m}
}

// Spending wraps a spending function as a per-look family.
func Spending(fn reference.SpendingFunction) Family {
	f := Family{Name: fn.Name(), Spending: fn}
	switch fn.(type) {
	case reference.LanDeMetsOBrienFleming:
		f.Monotone = MonotoneDecreasing
	case reference.LanDeMetsPocock:
		f.Monotone = MonotoneFlat
	}
	return f
}

// ParseFamily resolves the service's spending_function names and common aliases.
// param is the family parameter (Δ, γ or ρ) where one applies.
func ParseFamily(name string, param *float64) (Family, error) {
	key := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "", "'", "").Replace(name))
	pick := func(def float64) float64 {
		if param != nil {
			return *param
		}
		return def
	}
	switch key {
	case "", "obrienfleming", "of", "obf":
		return OBrienFleming(), nil
	case "pocock", "p":
		return Pocock(), nil
	case "wangtsiatis", "wt":
		return WangTsiatis(pick(0.25)), nil
	case "landemetsobrienfleming", "ldof", "sfldof":
		return Spending(reference.LanDeMetsOBrienFleming{}), nil
	case "landemetspocock", "ldpocock", "sfldpocock":
		return Spending(reference.LanDeMetsPocock{}), nil
	case "hwangshihdecani", "hsd", "sfhsd":
		return Spending(reference.HwangShihDeCani{Gamma: pick(-4)}), nil
	case "power", "powerfamily", "sfpower":
		rho := pick(2)
		if !(rho > 0) {
			return Family{}, core.NewSpendingFunctionError(name, fmt.Sprintf("rho must be positive, got %v", rho))
		}
		return Spending(reference.PowerFamily{Rho: rho}), nil
	default:
		return Family{}, core.NewSpendingFunctionError(name, "unknown spending function")
	}
}

// LanDeMetsAnalogue returns the spending function whose nominal cumulative
// alpha a shape family is reported against.
func (f Family) LanDeMetsAnalogue() reference.SpendingFunction {
	if f.Spending != nil {
		return f.Spending
	}
	if f.Monotone == MonotoneFlat {
		return reference.LanDeMetsPocock{}
	}
	return reference.LanDeMetsOBrienFleming{}
}
