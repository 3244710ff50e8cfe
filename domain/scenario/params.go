package scenario

import (
	"fmt"
	"math"
	"sort"

	"trialcheck/domain/core"
)

// Params is a scenario's input parameter mapping. Keys are unique by construction.
// Values are the scalar, vector and string literals that scenario files decode to.
type Params map[string]interface{}

// Clone deep-copies the mapping so a constructed Scenario never aliases caller state.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []float64:
		return append([]float64(nil), t...)
	case []int:
		return append([]int(nil), t...)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case map[string]interface{}:
		return map[string]interface{}(Params(t).Clone())
	case Params:
		return t.Clone()
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(t))
		for i := range t {
			out[i] = map[string]interface{}(Params(t[i]).Clone())
		}
		return out
	default:
		return v
	}
}

// Has reports whether key is present with a non-nil value.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Float returns a required numeric parameter.
func (p Params) Float(key string) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, core.NewInvalidInputError(key, "is required")
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, core.NewInvalidInputError(key, "must be numeric, got %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, core.NewInvalidInputError(key, "must be finite, got %v", f)
	}
	return f, nil
}

// FloatOr returns an optional numeric parameter.
func (p Params) FloatOr(key string, def float64) (float64, error) {
	if !p.Has(key) {
		return def, nil
	}
	return p.Float(key)
}

// Int returns a required integer parameter; integral floats are accepted.
func (p Params) Int(key string) (int, error) {
	f, err := p.Float(key)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, core.NewInvalidInputError(key, "must be an integer, got %v", f)
	}
	return int(f), nil
}

// IntOr returns an optional integer parameter.
func (p Params) IntOr(key string, def int) (int, error) {
	if !p.Has(key) {
		return def, nil
	}
	return p.Int(key)
}

// BoolOr returns an optional boolean parameter.
func (p Params) BoolOr(key string, def bool) (bool, error) {
	if !p.Has(key) {
		return def, nil
	}
	b, ok := p[key].(bool)
	if !ok {
		return false, core.NewInvalidInputError(key, "must be boolean, got %T", p[key])
	}
	return b, nil
}

// StringOr returns an optional string parameter.
func (p Params) StringOr(key string, def string) (string, error) {
	if !p.Has(key) {
		return def, nil
	}
	s, ok := p[key].(string)
	if !ok {
		return "", core.NewInvalidInputError(key, "must be a string, got %T", p[key])
	}
	return s, nil
}

// Floats returns an optional numeric vector; absent keys yield nil.
func (p Params) Floats(key string) ([]float64, error) {
	if !p.Has(key) {
		return nil, nil
	}
	switch t := p[key].(type) {
	case []float64:
		return append([]float64(nil), t...), nil
	case []int:
		out := make([]float64, len(t))
		for i, v := range t {
			out[i] = float64(v)
		}
		return out, nil
	case []interface{}:
		out := make([]float64, len(t))
		for i, v := range t {
			f, ok := toFloat(v)
			if !ok {
				return nil, core.NewInvalidInputError(fmt.Sprintf("%s[%d]", key, i), "must be numeric, got %T", v)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, core.NewInvalidInputError(key, "must be a numeric list, got %T", p[key])
	}
}

// Records returns an optional list of nested mappings (e.g. historical studies).
func (p Params) Records(key string) ([]Params, error) {
	if !p.Has(key) {
		return nil, nil
	}
	var raw []interface{}
	switch t := p[key].(type) {
	case []interface{}:
		raw = t
	case []map[string]interface{}:
		for _, m := range t {
			raw = append(raw, m)
		}
	case []Params:
		return t, nil
	default:
		return nil, core.NewInvalidInputError(key, "must be a list of mappings, got %T", p[key])
	}
	out := make([]Params, len(raw))
	for i, r := range raw {
		switch m := r.(type) {
		case map[string]interface{}:
			out[i] = Params(m)
		case Params:
			out[i] = m
		default:
			return nil, core.NewInvalidInputError(fmt.Sprintf("%s[%d]", key, i), "must be a mapping, got %T", r)
		}
	}
	return out, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
