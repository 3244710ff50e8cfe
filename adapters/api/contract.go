package api

import (
	"fmt"
	"math"
	"sort"

	"github.com/tidwall/gjson"

	"trialcheck/domain/scenario"
	"trialcheck/domain/stats"
)

// Derived flags added to every decoded response that carries the vectors they describe.
const (
	FlagEfficacyNonIncreasing = "efficacy_non_increasing"
	FlagFutilityBelowEfficacy = "futility_below_efficacy"
)

var sampleSizeTypes = map[string]FieldType{
	"n1": TypeInteger, "n2": TypeInteger, "n_total": TypeInteger,
}

var contracts = map[scenario.CalculatorKind]Contract{
	scenario.KindSampleSizeContinuous: {
		Required: []string{"n1", "n2", "n_total", "effect_size"},
		Types:    sampleSizeTypes,
		Bounds:   map[string]Bound{"n_total": Positive()},
	},
	scenario.KindSampleSizeBinary: {
		Required: []string{"n1", "n2", "n_total", "effect_size_h"},
		Types:    sampleSizeTypes,
		Bounds:   map[string]Bound{"n_total": Positive()},
	},
	scenario.KindSampleSizeSurvival: {
		Required: []string{"n_total", "events_required"},
		Types:    map[string]FieldType{"n_total": TypeInteger, "events_required": TypeInteger},
		Bounds:   map[string]Bound{"events_required": Positive()},
	},
	scenario.KindCUPED: {
		Required: []string{"variance_reduction_factor", "n_original", "n_adjusted"},
		Types:    map[string]FieldType{"n_original": TypeInteger, "n_adjusted": TypeInteger},
		Bounds: map[string]Bound{
			"variance_reduction_factor": Probability(),
			"n_adjusted":                Positive(),
		},
	},
	scenario.KindGSD: {
		Required: []string{"efficacy_boundaries", "n_max"},
		Types: map[string]FieldType{
			"efficacy_boundaries":   TypeList,
			"futility_boundaries":   TypeList,
			"information_fractions": TypeList,
			"alpha_spent":           TypeList,
		},
		Bounds: map[string]Bound{"n_max": Positive()},
	},
	scenario.KindBayesianContinuous: {
		Required: []string{
			"predictive_probability", "posterior_mean", "posterior_var",
			"credible_interval_lower", "credible_interval_upper",
			"recommendation", "inputs",
		},
		Types: map[string]FieldType{
			"predictive_probability": TypeNumber,
			"posterior_mean":         TypeNumber,
			"posterior_var":          TypeNumber,
			"recommendation":         TypeString,
		},
		Bounds: map[string]Bound{
			"predictive_probability": Probability(),
			"posterior_var":          Positive(),
		},
	},
	scenario.KindBayesianBinary: {
		Required: []string{
			"predictive_probability", "posterior_control_alpha",
			"posterior_control_beta", "posterior_treatment_alpha",
			"posterior_treatment_beta", "posterior_control_mean",
			"posterior_treatment_mean", "recommendation", "inputs",
		},
		Types: map[string]FieldType{
			"predictive_probability":    TypeNumber,
			"posterior_control_alpha":   TypeNumber,
			"posterior_control_beta":    TypeNumber,
			"posterior_treatment_alpha": TypeNumber,
			"posterior_treatment_beta":  TypeNumber,
			"recommendation":            TypeString,
		},
		Bounds: map[string]Bound{
			"predictive_probability":    Probability(),
			"posterior_control_alpha":   Positive(),
			"posterior_control_beta":    Positive(),
			"posterior_treatment_alpha": Positive(),
			"posterior_treatment_beta":  Positive(),
		},
	},
	scenario.KindPriorElicitation: {
		Required: []string{"alpha", "beta", "mean", "variance", "ess", "quantiles", "inputs"},
		Types: map[string]FieldType{
			"alpha": TypeNumber, "beta": TypeNumber, "mean": TypeNumber,
			"variance": TypeNumber, "ess": TypeNumber, "quantiles": TypeObject,
		},
		Bounds: map[string]Bound{
			"alpha":    Positive(),
			"beta":     Positive(),
			"mean":     Probability(),
			"variance": NonNegative(),
			"ess":      Positive(),
		},
	},
	scenario.KindBorrowing: {
		Required: []string{"effective_alpha", "effective_beta", "ess_total", "ess_from_historical", "prior_mean", "inputs"},
		Types: map[string]FieldType{
			"effective_alpha": TypeNumber, "effective_beta": TypeNumber,
			"ess_total": TypeNumber, "prior_mean": TypeNumber,
		},
		Bounds: map[string]Bound{
			"effective_alpha": Positive(),
			"effective_beta":  Positive(),
			"ess_total":       Positive(),
			"prior_mean":      Probability(),
		},
	},
	scenario.KindSingleArm: {
		Required: []string{
			"recommended_n", "type1_error", "power", "constraints_met",
			"posterior_at_alt_alpha", "posterior_at_alt_beta", "inputs",
		},
		Types: map[string]FieldType{
			"recommended_n":   TypeInteger,
			"type1_error":     TypeNumber,
			"power":           TypeNumber,
			"constraints_met": TypeBool,
		},
		Bounds: map[string]Bound{"type1_error": Probability(), "power": Probability()},
	},
	scenario.KindTwoArm: {
		Required: []string{"recommended_n_per_arm", "n_total", "type1_error", "power", "constraints_met", "inputs"},
		Types: map[string]FieldType{
			"recommended_n_per_arm": TypeInteger,
			"n_total":               TypeInteger,
			"type1_error":           TypeNumber,
			"power":                 TypeNumber,
			"constraints_met":       TypeBool,
		},
		Bounds: map[string]Bound{"type1_error": Probability(), "power": Probability()},
	},
	scenario.KindSequential: {
		Required: []string{"endpoint_type", "efficacy_boundaries", "futility_boundaries", "n_looks", "inputs"},
		Types: map[string]FieldType{
			"endpoint_type":       TypeString,
			"efficacy_boundaries": TypeList,
			"futility_boundaries": TypeList,
			"n_looks":             TypeInteger,
		},
	},
}

// mapPriorContract replaces the borrowing contract for meta-analytic priors,
// which report heterogeneity instead of power-prior parameters.
var mapPriorContract = Contract{
	Required: []string{"i_squared", "pooled_rate", "inputs"},
	Types:    map[string]FieldType{"i_squared": TypeNumber, "pooled_rate": TypeNumber},
	Bounds:   map[string]Bound{"i_squared": {Lo: 0, Hi: 100}, "pooled_rate": Probability()},
}

// ContractFor returns the response contract for a calculator call.
func ContractFor(kind scenario.CalculatorKind, params scenario.Params) (Contract, bool) {
	if kind == scenario.KindBorrowing {
		if method, _ := params.StringOr("method", "power_prior"); method == "map_prior" {
			return mapPriorContract, true
		}
	}
	c, ok := contracts[kind]
	return c, ok
}

// Check validates body against the contract and returns every problem found.
func (c Contract) Check(body []byte) []string {
	if !gjson.ValidBytes(body) {
		return []string{"response is not valid JSON"}
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return []string{"response is not a JSON object"}
	}
	fields := topLevel(root)

	var problems []string
	for _, key := range c.Required {
		if _, ok := fields[key]; !ok {
			problems = append(problems, "missing key: "+key)
		}
	}
	for _, key := range sortedKeys(c.Types) {
		v, ok := fields[key]
		if !ok || v.Type == gjson.Null {
			continue
		}
		if p := checkType(key, v, c.Types[key]); p != "" {
			problems = append(problems, p)
		}
	}
	for _, key := range sortedKeys(c.Bounds) {
		v, ok := fields[key]
		if !ok || v.Type != gjson.Number {
			continue
		}
		if p := c.Bounds[key].Check(key, v.Num); p != "" {
			problems = append(problems, p)
		}
	}
	return problems
}

func checkType(key string, v gjson.Result, want FieldType) string {
	ok := false
	switch want {
	case TypeNumber:
		ok = v.Type == gjson.Number
	case TypeInteger:
		ok = v.Type == gjson.Number && v.Num == math.Trunc(v.Num)
	case TypeBool:
		ok = v.IsBool()
	case TypeString:
		ok = v.Type == gjson.String
	case TypeObject:
		ok = v.IsObject()
	case TypeList:
		ok = v.IsArray()
		v.ForEach(func(_, item gjson.Result) bool {
			if item.Type != gjson.Number && item.Type != gjson.Null {
				ok = false
			}
			return ok
		})
	}
	switch {
	case ok:
		return ""
	case want == TypeList && v.IsArray():
		return fmt.Sprintf("%s: list items must be numbers or null", key)
	}
	return fmt.Sprintf("%s: expected %s, got %s", key, want, describe(v))
}

func describe(v gjson.Result) string {
	switch {
	case v.IsArray():
		return "list"
	case v.IsObject():
		return "object"
	case v.IsBool():
		return "boolean"
	case v.Type == gjson.Number:
		return "number " + v.Raw
	case v.Type == gjson.String:
		return "string"
	default:
		return v.Type.String()
	}
}

func topLevel(root gjson.Result) map[string]gjson.Result {
	fields := make(map[string]gjson.Result)
	root.ForEach(func(key, value gjson.Result) bool {
		fields[key.String()] = value
		return true
	})
	return fields
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ============================================================================
// DECODING
// ============================================================================

// Decode flattens a contract-checked response into an ObservedResult.
// Numbers become scalars, numeric lists become vectors (null -> NaN), nested
// objects become "parent.child" scalars, and the echoed "inputs" are dropped.
func Decode(endpoint string, body []byte) *stats.ObservedResult {
	obs := stats.NewObservedResult(endpoint)
	obs.Raw = append([]byte(nil), body...)
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if name == "inputs" {
			return true
		}
		decodeField(obs, name, value)
		return true
	})
	deriveFlags(obs)
	return obs
}

func decodeField(obs *stats.ObservedResult, name string, value gjson.Result) {
	switch {
	case value.Type == gjson.Number:
		obs.Scalars[name] = value.Num
	case value.IsBool():
		obs.Flags[name] = value.Bool()
	case value.Type == gjson.String:
		obs.Strings[name] = value.Str
	case value.IsArray():
		var vec []float64
		numeric := true
		value.ForEach(func(_, item gjson.Result) bool {
			switch item.Type {
			case gjson.Number:
				vec = append(vec, item.Num)
			case gjson.Null:
				vec = append(vec, math.NaN())
			default:
				numeric = false
			}
			return numeric
		})
		if numeric {
			obs.Vectors[name] = vec
		}
	case value.IsObject():
		value.ForEach(func(k, v gjson.Result) bool {
			decodeField(obs, name+"."+k.String(), v)
			return true
		})
	}
}

// deriveFlags adds the structural properties scenarios can assert on.
func deriveFlags(obs *stats.ObservedResult) {
	eff, ok := obs.Vectors["efficacy_boundaries"]
	if !ok {
		return
	}
	nonIncreasing := true
	for i := 1; i < len(eff); i++ {
		if !(eff[i] <= eff[i-1]+1e-9) {
			nonIncreasing = false
		}
	}
	obs.Flags[FlagEfficacyNonIncreasing] = nonIncreasing

	fut, ok := obs.Vectors["futility_boundaries"]
	if !ok || len(fut) != len(eff) {
		return
	}
	below := true
	for i := range fut {
		if !math.IsNaN(fut[i]) && fut[i] > eff[i] {
			below = false
		}
	}
	obs.Flags[FlagFutilityBelowEfficacy] = below
}
