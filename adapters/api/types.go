package api

import (
	"fmt"
	"math"
)

// FieldType is the JSON type a contract field must carry.
type FieldType int

const (
	TypeNumber FieldType = iota
	TypeInteger
	TypeBool
	TypeString
	TypeObject
	TypeList // array of numbers, nulls allowed
)

func (t FieldType) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeInteger:
		return "integer"
	case TypeBool:
		return "boolean"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	case TypeList:
		return "list"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

// Bound is a numeric range for one field. Lo is exclusive when StrictLo is set;
// Hi is always inclusive.
type Bound struct {
	Lo, Hi   float64
	StrictLo bool
}

// Positive requires v > 1e-10.
func Positive() Bound { return Bound{Lo: 1e-10, Hi: math.Inf(1), StrictLo: true} }

// NonNegative requires v >= 0.
func NonNegative() Bound { return Bound{Lo: 0, Hi: math.Inf(1)} }

// Probability requires 0 <= v <= 1.
func Probability() Bound { return Bound{Lo: 0, Hi: 1} }

// Check returns a problem description, or "" when v is in range.
func (b Bound) Check(field string, v float64) string {
	switch {
	case math.IsNaN(v):
		return fmt.Sprintf("%s is NaN", field)
	case b.StrictLo && v <= b.Lo:
		return fmt.Sprintf("%s=%v <= %v", field, v, b.Lo)
	case !b.StrictLo && v < b.Lo:
		return fmt.Sprintf("%s=%v < %v", field, v, b.Lo)
	case v > b.Hi:
		return fmt.Sprintf("%s=%v > %v", field, v, b.Hi)
	}
	return ""
}

// Contract is the response shape one endpoint must satisfy. Required fields
// must be present; Types and Bounds apply to fields that are present and not null.
type Contract struct {
	Required []string
	Types    map[string]FieldType
	Bounds   map[string]Bound
}
