package scenarios

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"trialcheck/domain/core"
	"trialcheck/domain/scenario"
	"trialcheck/internal/errors"
)

// File is the on-disk scenario set.
//
//	scenarios:
//	  - id: cuped-rho-0.5
//	    kind: cuped
//	    inputs: {baseline_mean: 100, baseline_std: 20, mde: 0.05, correlation: 0.5}
//	    metrics:
//	      - name: n_adjusted
//	        tolerance: {mode: relative, value: 0.01}
type File struct {
	Scenarios []scenario.Scenario `yaml:"scenarios"`
}

// Decode reads a scenario set. Unknown keys are rejected so that a typo in a
// tolerance does not silently fall back to a default.
func Decode(r io.Reader) ([]scenario.Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, errors.ConfigInvalid("scenario file is empty")
		}
		return nil, errors.WithCode(errors.CodeConfigInvalid, errors.Wrap(err, "failed to parse scenario file"))
	}
	for i := range f.Scenarios {
		if err := f.Scenarios[i].Validate(); err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, errors.Wrapf(err, "scenario %d", i))
		}
	}
	return f.Scenarios, nil
}

// LoadFile reads a YAML scenario file.
func LoadFile(path string) ([]scenario.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, errors.Wrapf(err, "failed to read scenario file %s", path))
	}
	return Decode(bytes.NewReader(data))
}

// Encode writes scenarios in the format Decode reads.
func Encode(w io.Writer, scenarios []scenario.Scenario) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(File{Scenarios: scenarios}); err != nil {
		return fmt.Errorf("encode scenarios: %w", err)
	}
	return enc.Close()
}

// Filter selects scenarios by ID and kind. Empty filters match everything;
// an ID may end in "*" to match a prefix.
type Filter struct {
	IDs   []string
	Kinds []scenario.CalculatorKind
}

// Apply returns the scenarios matching f in their original order.
func (f Filter) Apply(all []scenario.Scenario) ([]scenario.Scenario, error) {
	for _, k := range f.Kinds {
		if !k.Known() {
			return nil, errors.WithCode(errors.CodeConfigInvalid, core.NewUnsupportedCalculatorError(string(k)))
		}
	}
	var out []scenario.Scenario
	for _, sc := range all {
		if f.matchesID(sc.ID) && f.matchesKind(sc.Kind) {
			out = append(out, sc)
		}
	}
	if len(out) == 0 {
		return nil, errors.ConfigInvalid("no scenarios match the filter")
	}
	return out, nil
}

func (f Filter) matchesID(id core.ScenarioID) bool {
	if len(f.IDs) == 0 {
		return true
	}
	for _, want := range f.IDs {
		if prefix, ok := strings.CutSuffix(want, "*"); ok {
			if strings.HasPrefix(id.String(), prefix) {
				return true
			}
		} else if id.String() == want {
			return true
		}
	}
	return false
}

func (f Filter) matchesKind(kind scenario.CalculatorKind) bool {
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
