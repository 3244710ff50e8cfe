// Package comparison aligns reference values with observed service values and
// turns each compared metric into a DeviationRecord.
package comparison

import (
	"fmt"
	"math"

	"trialcheck/domain/core"
	"trialcheck/domain/scenario"
	"trialcheck/domain/stats"
	"trialcheck/domain/verdict"
)

// DefaultExactTolerance is the agreement required by CheckExact.
const DefaultExactTolerance = 1e-9

// Engine compares one scenario at a time. It holds no per-run state and is
// safe for concurrent use.
type Engine struct {
	ExactTolerance float64
}

// NewEngine returns an engine with the default exact tolerance.
func NewEngine() *Engine {
	return &Engine{ExactTolerance: DefaultExactTolerance}
}

// comparison accumulates records and contract problems for one scenario.
type comparison struct {
	s        scenario.Scenario
	endpoint string
	records  []verdict.DeviationRecord
	problems []string
}

func (c *comparison) missing(format string, args ...interface{}) {
	c.problems = append(c.problems, fmt.Sprintf(format, args...))
}

func (c *comparison) add(r verdict.DeviationRecord) {
	r.ScenarioID = c.s.ID
	c.records = append(c.records, r)
}

// Compare produces one record per scalar metric and one per vector element,
// in metric order. Observed values that are missing or shaped differently
// from the reference are collected into a single SchemaViolationError; a
// metric with no reference value is an invalid scenario.
func (e *Engine) Compare(s scenario.Scenario, ref *stats.ReferenceResult, obs *stats.ObservedResult) ([]verdict.DeviationRecord, error) {
	if ref == nil {
		return nil, core.NewInvalidInputError(string(s.ID), "no reference result")
	}
	c := &comparison{s: s}
	if obs != nil {
		c.endpoint = obs.Endpoint
	}

	for _, m := range s.Metrics {
		var err error
		switch m.CheckOrDefault() {
		case scenario.CheckUpperBound, scenario.CheckLowerBound:
			err = e.bound(c, m, ref)
		case scenario.CheckInterval:
			err = e.interval(c, m, ref, obs)
		case scenario.CheckProperty:
			e.property(c, m, obs)
		default:
			err = e.deviation(c, m, ref, obs)
		}
		if err != nil {
			return nil, err
		}
	}

	if len(c.problems) > 0 {
		return nil, &core.SchemaViolationError{Endpoint: c.endpoint, Problems: c.problems}
	}
	return c.records, nil
}

func (e *Engine) exactTolerance() float64 {
	if e.ExactTolerance > 0 {
		return e.ExactTolerance
	}
	return DefaultExactTolerance
}

func (e *Engine) deviation(c *comparison, m scenario.Metric, ref *stats.ReferenceResult, obs *stats.ObservedResult) error {
	if want, ok := ref.Scalars[m.Name]; ok {
		got, ok := obs.Scalar(m.ObservedField())
		if !ok {
			c.missing("missing scalar %q", m.ObservedField())
			return nil
		}
		c.add(e.measure(m, -1, want, got))
		return nil
	}
	if want, ok := ref.Vectors[m.Name]; ok {
		got, ok := obs.Vector(m.ObservedField())
		if !ok {
			c.missing("missing vector %q", m.ObservedField())
			return nil
		}
		if len(got) != len(want) {
			c.missing("vector %q has %d elements, reference has %d", m.ObservedField(), len(got), len(want))
			return nil
		}
		for i := range want {
			c.add(e.measure(m, i, want[i], got[i]))
		}
		return nil
	}
	return core.NewInvalidInputError(fmt.Sprintf("%s.%s", c.s.ID, m.Name), "no reference value")
}

func (e *Engine) measure(m scenario.Metric, index int, want, got float64) verdict.DeviationRecord {
	r := verdict.DeviationRecord{
		Metric:    m.Name,
		Index:     index,
		Reference: want,
		Observed:  got,
		Check:     m.CheckOrDefault(),
	}
	if r.Check == scenario.CheckExact {
		r.Deviation = math.Abs(want - got)
		r.Threshold = e.exactTolerance()
		r.Mode = scenario.ToleranceAbsolute
	} else {
		r.Deviation, r.Threshold, r.Mode = m.Tolerance.Measure(want, got)
		if m.Tolerance.Mode == scenario.ToleranceRelative && r.Mode == scenario.ToleranceAbsolute {
			r.Note = "relative tolerance fell back to absolute (reference≈0)"
		}
	}
	r.Passed = r.Deviation <= r.Threshold
	if math.IsNaN(want) || math.IsNaN(got) || math.IsInf(got, 0) {
		r.Passed = false
		r.Note = "non-finite value"
	}
	return r
}

// bound judges a calibration against its nominal target: the CI upper bound
// for type-I error, the CI lower bound for power.
func (e *Engine) bound(c *comparison, m scenario.Metric, ref *stats.ReferenceResult) error {
	run, ok := ref.Calibrations[m.Name]
	if !ok {
		return core.NewInvalidInputError(fmt.Sprintf("%s.%s", c.s.ID, m.Name), "no calibration run")
	}
	tol := m.Tolerance.Value
	r := verdict.DeviationRecord{
		Metric:    m.Name,
		Index:     -1,
		Reference: run.Target,
		Threshold: tol,
		Mode:      scenario.ToleranceAbsolute,
		Check:     m.CheckOrDefault(),
		Note: fmt.Sprintf("rate=%.4f ci%g=[%.4f, %.4f] n=%d",
			run.ObservedRate, run.Confidence*100, run.CILower, run.CIUpper, run.NSims),
	}
	if r.Check == scenario.CheckUpperBound {
		r.Observed = run.CIUpper
		r.Deviation = math.Max(0, run.CIUpper-run.Target)
		r.Passed = run.CIUpper <= run.Target+tol
	} else {
		r.Observed = run.CILower
		r.Deviation = math.Max(0, run.Target-run.CILower)
		r.Passed = run.CILower >= run.Target-tol
	}
	c.add(r)
	return nil
}

// interval checks that the observed rate is consistent with the reference
// calibration: inside its CI widened by the tolerance.
func (e *Engine) interval(c *comparison, m scenario.Metric, ref *stats.ReferenceResult, obs *stats.ObservedResult) error {
	run, ok := ref.Calibrations[m.Name]
	if !ok {
		return core.NewInvalidInputError(fmt.Sprintf("%s.%s", c.s.ID, m.Name), "no calibration run")
	}
	got, ok := obs.Scalar(m.ObservedField())
	if !ok {
		c.missing("missing scalar %q", m.ObservedField())
		return nil
	}
	tol := m.Tolerance.Value
	dev := 0.0
	switch {
	case got < run.CILower:
		dev = run.CILower - got
	case got > run.CIUpper:
		dev = got - run.CIUpper
	}
	c.add(verdict.DeviationRecord{
		Metric:    m.Name,
		Index:     -1,
		Reference: run.ObservedRate,
		Observed:  got,
		Deviation: dev,
		Threshold: tol,
		Mode:      scenario.ToleranceAbsolute,
		Check:     scenario.CheckInterval,
		Passed:    !math.IsNaN(got) && dev <= tol,
		Note:      fmt.Sprintf("ci%g=[%.4f, %.4f] n=%d", run.Confidence*100, run.CILower, run.CIUpper, run.NSims),
	})
	return nil
}

// property requires an observed boolean (or 0/1 scalar) to be true.
func (e *Engine) property(c *comparison, m scenario.Metric, obs *stats.ObservedResult) {
	flag, ok := obs.Flag(m.ObservedField())
	if !ok {
		v, found := obs.Scalar(m.ObservedField())
		if !found {
			c.missing("missing flag %q", m.ObservedField())
			return
		}
		flag = v == 1
	}
	r := verdict.DeviationRecord{
		Metric:    m.Name,
		Index:     -1,
		Reference: 1,
		Mode:      scenario.ToleranceAbsolute,
		Check:     scenario.CheckProperty,
		Passed:    flag,
	}
	if flag {
		r.Observed = 1
	} else {
		r.Deviation = 1
	}
	c.add(r)
}
