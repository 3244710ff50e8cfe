package scenario

import (
	"fmt"

	"trialcheck/domain/core"
)

// CalculatorKind names one calculator of the service under test.
type CalculatorKind string

const (
	KindSampleSizeContinuous  CalculatorKind = "sample_size_continuous"
	KindSampleSizeBinary      CalculatorKind = "sample_size_binary"
	KindSampleSizeSurvival    CalculatorKind = "sample_size_survival"
	KindCUPED                 CalculatorKind = "cuped"
	KindGSD                   CalculatorKind = "gsd"
	KindBayesianContinuous    CalculatorKind = "bayesian_continuous"
	KindBayesianBinary        CalculatorKind = "bayesian_binary"
	KindPriorElicitation      CalculatorKind = "prior_elicitation"
	KindBorrowing             CalculatorKind = "bayesian_borrowing"
	KindSingleArm             CalculatorKind = "bayesian_single_arm"
	KindTwoArm                CalculatorKind = "bayesian_two_arm"
	KindSequential            CalculatorKind = "bayesian_sequential"
	KindPredictiveProbability CalculatorKind = "predictive_probability"
	KindOperatingChars        CalculatorKind = "operating_characteristics"
)

var endpoints = map[CalculatorKind]string{
	KindSampleSizeContinuous: "/sample-size/continuous",
	KindSampleSizeBinary:     "/sample-size/binary",
	KindSampleSizeSurvival:   "/sample-size/survival",
	KindCUPED:                "/cuped",
	KindGSD:                  "/gsd",
	KindBayesianContinuous:   "/bayesian/continuous",
	KindBayesianBinary:       "/bayesian/binary",
	KindPriorElicitation:     "/bayesian/prior-elicitation",
	KindBorrowing:            "/bayesian/borrowing",
	KindSingleArm:            "/bayesian/sample-size-single-arm",
	KindTwoArm:               "/bayesian/two-arm",
	KindSequential:           "/bayesian/sequential",
	// Offline kinds have no service endpoint; they are checked against literal expectations.
	KindPredictiveProbability: "",
	KindOperatingChars:        "",
}

// AllKinds lists every known calculator kind in a stable order.
func AllKinds() []CalculatorKind {
	return []CalculatorKind{
		KindSampleSizeContinuous, KindSampleSizeBinary, KindSampleSizeSurvival,
		KindCUPED, KindGSD, KindBayesianContinuous, KindBayesianBinary,
		KindPriorElicitation, KindBorrowing, KindSingleArm, KindTwoArm,
		KindSequential, KindPredictiveProbability, KindOperatingChars,
	}
}

// Known reports whether k is a recognised calculator kind.
func (k CalculatorKind) Known() bool {
	_, ok := endpoints[k]
	return ok
}

// Endpoint returns the service path relative to the validation API prefix.
func (k CalculatorKind) Endpoint() string { return endpoints[k] }

// Offline reports whether the kind is only checked against literal expectations.
func (k CalculatorKind) Offline() bool { return k.Known() && endpoints[k] == "" }

// CheckKind selects the comparison rule for a metric.
type CheckKind string

const (
	// CheckDeviation compares scalars or vectors element-wise under the tolerance.
	CheckDeviation CheckKind = "deviation"
	// CheckExact requires bit-level agreement for integer-valued results such as conjugate parameters.
	CheckExact CheckKind = "exact"
	// CheckUpperBound passes iff the calibration CI upper bound <= target + tolerance (type-I error).
	CheckUpperBound CheckKind = "upper_bound"
	// CheckLowerBound passes iff the calibration CI lower bound >= target - tolerance (power).
	CheckLowerBound CheckKind = "lower_bound"
	// CheckInterval passes iff the observed rate lies within the calibration CI widened by the tolerance.
	CheckInterval CheckKind = "interval"
	// CheckProperty requires an observed boolean flag to be true.
	CheckProperty CheckKind = "property"
)

// Metric is one compared output of a scenario.
type Metric struct {
	Name string `yaml:"name" json:"name"`
	// Field is the observed response field, when it differs from Name.
	Field     string             `yaml:"field,omitempty" json:"field,omitempty"`
	Check     CheckKind          `yaml:"check,omitempty" json:"check,omitempty"`
	Tolerance ToleranceThreshold `yaml:"tolerance" json:"tolerance"`
}

// ObservedField names the response field the metric is read from.
func (m Metric) ObservedField() string {
	if m.Field != "" {
		return m.Field
	}
	return m.Name
}

// CheckOrDefault resolves an empty check to CheckDeviation.
func (m Metric) CheckOrDefault() CheckKind {
	if m.Check == "" {
		return CheckDeviation
	}
	return m.Check
}

// IsCalibration reports whether the metric is judged against a CalibrationRun.
func (m Metric) IsCalibration() bool {
	switch m.CheckOrDefault() {
	case CheckUpperBound, CheckLowerBound, CheckInterval:
		return true
	}
	return false
}

// Expected is an author-supplied literal reference value.
type Expected struct {
	Scalar *float64  `yaml:"scalar,omitempty" json:"scalar,omitempty"`
	Vector []float64 `yaml:"vector,omitempty" json:"vector,omitempty"`
}

// ExpectScalar is a convenience constructor for literal scalars.
func ExpectScalar(v float64) Expected { return Expected{Scalar: &v} }

// ExpectVector is a convenience constructor for literal vectors.
func ExpectVector(v ...float64) Expected { return Expected{Vector: append([]float64(nil), v...)} }

// Scenario is an immutable test case. Construct with New, or decode and call Validate.
type Scenario struct {
	ID          core.ScenarioID     `yaml:"id" json:"id"`
	Kind        CalculatorKind      `yaml:"kind" json:"kind"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Source      string              `yaml:"source,omitempty" json:"source,omitempty"`
	Inputs      Params              `yaml:"inputs" json:"inputs"`
	Metrics     []Metric            `yaml:"metrics" json:"metrics"`
	Expected    map[string]Expected `yaml:"expected,omitempty" json:"expected,omitempty"`
}

// New constructs and validates a scenario, copying inputs and expectations.
func New(id string, kind CalculatorKind, inputs Params, metrics ...Metric) (Scenario, error) {
	sid, err := core.ParseScenarioID(id)
	if err != nil {
		return Scenario{}, core.NewInvalidInputError("id", "%v", err)
	}
	s := Scenario{
		ID:      sid,
		Kind:    kind,
		Inputs:  inputs.Clone(),
		Metrics: append([]Metric(nil), metrics...),
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}

// WithExpected returns a copy of s carrying a literal expectation for metric.
func (s Scenario) WithExpected(metric string, e Expected) Scenario {
	out := s.clone()
	if out.Expected == nil {
		out.Expected = make(map[string]Expected)
	}
	cp := Expected{Scalar: e.Scalar}
	if len(e.Vector) > 0 {
		cp.Vector = append([]float64(nil), e.Vector...)
	}
	out.Expected[metric] = cp
	return out
}

// Describe returns a copy of s with description and provenance set.
func (s Scenario) Describe(description, source string) Scenario {
	out := s.clone()
	out.Description = description
	out.Source = source
	return out
}

func (s Scenario) clone() Scenario {
	out := s
	out.Inputs = s.Inputs.Clone()
	out.Metrics = append([]Metric(nil), s.Metrics...)
	if s.Expected != nil {
		out.Expected = make(map[string]Expected, len(s.Expected))
		for k, v := range s.Expected {
			out.Expected[k] = v
		}
	}
	return out
}

// Validate checks structural invariants. Parameter ranges are checked by the
// reference computations, which know each calculator's domain.
func (s Scenario) Validate() error {
	if _, err := core.ParseScenarioID(s.ID.String()); err != nil {
		return core.NewInvalidInputError("id", "%v", err)
	}
	if !s.Kind.Known() {
		return core.NewUnsupportedCalculatorError(string(s.Kind))
	}
	if len(s.Metrics) == 0 {
		return core.NewInvalidInputError(fmt.Sprintf("%s.metrics", s.ID), "at least one metric is required")
	}
	seen := make(map[string]bool, len(s.Metrics))
	for _, m := range s.Metrics {
		if m.Name == "" {
			return core.NewInvalidInputError(fmt.Sprintf("%s.metrics", s.ID), "metric name is required")
		}
		if seen[m.Name] {
			return core.NewInvalidInputError(fmt.Sprintf("%s.metrics", s.ID), "duplicate metric %q", m.Name)
		}
		seen[m.Name] = true
		switch m.CheckOrDefault() {
		case CheckDeviation, CheckExact, CheckUpperBound, CheckLowerBound, CheckInterval, CheckProperty:
		default:
			return core.NewInvalidInputError(fmt.Sprintf("%s.%s.check", s.ID, m.Name), "unknown check %q", m.Check)
		}
		if err := m.Tolerance.Validate(); err != nil {
			return fmt.Errorf("%s.%s: %w", s.ID, m.Name, err)
		}
	}
	for name, e := range s.Expected {
		if e.Scalar == nil && len(e.Vector) == 0 {
			return core.NewInvalidInputError(fmt.Sprintf("%s.expected.%s", s.ID, name), "must carry a scalar or a vector")
		}
	}
	return nil
}

// Metric looks up a metric by name.
func (s Scenario) Metric(name string) (Metric, bool) {
	for _, m := range s.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}
