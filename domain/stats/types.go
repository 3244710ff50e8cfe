package stats

import (
	"fmt"
	"sort"

	"trialcheck/domain/core"
)

// ============================================================================
// REFERENCE SIDE
// ============================================================================

// CalibrationRun is the outcome of one Monte-Carlo operating-characteristic estimate.
// INVARIANTS:
// - 0 <= ObservedRate <= 1
// - CILower <= ObservedRate <= CIUpper
// - Successes <= NSims
type CalibrationRun struct {
	NSims        int     `json:"n_sims"`
	Seed         uint64  `json:"seed"`
	Successes    int     `json:"successes"`
	Target       float64 `json:"target"`
	ObservedRate float64 `json:"observed_rate"`
	Confidence   float64 `json:"confidence"`
	CILower      float64 `json:"ci_lower"`
	CIUpper      float64 `json:"ci_upper"`
	// Reconstructed is true when the run was rebuilt from a service-reported rate
	// rather than simulated locally.
	Reconstructed bool `json:"reconstructed,omitempty"`
}

// Validate checks the CalibrationRun invariants.
func (c CalibrationRun) Validate() error {
	if c.NSims < 1 {
		return core.NewInvalidInputError("n_sims", "must be >= 1, got %d", c.NSims)
	}
	if c.Successes < 0 || c.Successes > c.NSims {
		return core.NewInvalidInputError("successes", "must be in [0, %d], got %d", c.NSims, c.Successes)
	}
	if c.ObservedRate < 0 || c.ObservedRate > 1 {
		return core.NewInvalidInputError("observed_rate", "must be in [0, 1], got %v", c.ObservedRate)
	}
	if c.CILower > c.ObservedRate || c.ObservedRate > c.CIUpper {
		return fmt.Errorf("%w: interval [%v, %v] does not cover rate %v", core.ErrCalibrationExecution, c.CILower, c.CIUpper, c.ObservedRate)
	}
	return nil
}

// ReferenceResult holds independently derived values for one scenario.
// Never mutated after the reference side returns it.
type ReferenceResult struct {
	Scalars      map[string]float64        `json:"scalars,omitempty"`
	Vectors      map[string][]float64      `json:"vectors,omitempty"`
	Calibrations map[string]CalibrationRun `json:"calibrations,omitempty"`
	Source       string                    `json:"source,omitempty"`
}

// NewReferenceResult creates an empty result tagged with its derivation.
func NewReferenceResult(source string) *ReferenceResult {
	return &ReferenceResult{
		Scalars:      make(map[string]float64),
		Vectors:      make(map[string][]float64),
		Calibrations: make(map[string]CalibrationRun),
		Source:       source,
	}
}

// SetScalar records a named scalar.
func (r *ReferenceResult) SetScalar(name string, v float64) *ReferenceResult {
	r.Scalars[name] = v
	return r
}

// SetVector records a named vector, copying the input.
func (r *ReferenceResult) SetVector(name string, v []float64) *ReferenceResult {
	r.Vectors[name] = append([]float64(nil), v...)
	return r
}

// SetCalibration records a named calibration run.
func (r *ReferenceResult) SetCalibration(name string, c CalibrationRun) *ReferenceResult {
	r.Calibrations[name] = c
	return r
}

// Merge copies every value of other into r; values in other win.
func (r *ReferenceResult) Merge(other *ReferenceResult) *ReferenceResult {
	if other == nil {
		return r
	}
	for k, v := range other.Scalars {
		r.Scalars[k] = v
	}
	for k, v := range other.Vectors {
		r.Vectors[k] = append([]float64(nil), v...)
	}
	for k, v := range other.Calibrations {
		r.Calibrations[k] = v
	}
	return r
}

// Names lists every named value in sorted order.
func (r *ReferenceResult) Names() []string {
	names := make([]string, 0, len(r.Scalars)+len(r.Vectors)+len(r.Calibrations))
	for k := range r.Scalars {
		names = append(names, k)
	}
	for k := range r.Vectors {
		names = append(names, k)
	}
	for k := range r.Calibrations {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ============================================================================
// OBSERVED SIDE
// ============================================================================

// ObservedResult is the decoded response of the service for one scenario.
// Read-only once captured.
type ObservedResult struct {
	Endpoint   string               `json:"endpoint"`
	Scalars    map[string]float64   `json:"scalars,omitempty"`
	Vectors    map[string][]float64 `json:"vectors,omitempty"`
	Flags      map[string]bool      `json:"flags,omitempty"`
	Strings    map[string]string    `json:"strings,omitempty"`
	Raw        []byte               `json:"-"`
	CapturedAt core.Timestamp       `json:"captured_at"`
}

// NewObservedResult creates an empty observed result for endpoint.
func NewObservedResult(endpoint string) *ObservedResult {
	return &ObservedResult{
		Endpoint:   endpoint,
		Scalars:    make(map[string]float64),
		Vectors:    make(map[string][]float64),
		Flags:      make(map[string]bool),
		Strings:    make(map[string]string),
		CapturedAt: core.Now(),
	}
}

// Scalar looks up an observed scalar.
func (o *ObservedResult) Scalar(name string) (float64, bool) {
	if o == nil {
		return 0, false
	}
	v, ok := o.Scalars[name]
	return v, ok
}

// Vector looks up an observed vector.
func (o *ObservedResult) Vector(name string) ([]float64, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.Vectors[name]
	return v, ok
}

// Flag looks up an observed boolean.
func (o *ObservedResult) Flag(name string) (bool, bool) {
	if o == nil {
		return false, false
	}
	v, ok := o.Flags[name]
	return v, ok
}
