package verdict

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialcheck/domain/core"
	"trialcheck/domain/scenario"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want ScenarioStatus
	}{
		{nil, StatusPass},
		{core.NewInvalidInputError("sd", "must be positive"), StatusInvalidInput},
		{core.NewSpendingFunctionError("custom", "decreasing"), StatusInvalidInput},
		{fmt.Errorf("wrapped: %w", &core.InfrastructureError{Endpoint: "/cuped", StatusCode: 502}), StatusInfrastructure},
		{core.NewBoundaryConvergenceError(2, "no bracket"), StatusError},
		{core.NewCalibrationExecutionError(1, errors.New("boom")), StatusError},
		{&core.SchemaViolationError{Endpoint: "/gsd", Problems: []string{"Missing key: n_max"}}, StatusError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), "%v", tt.err)
	}
}

func TestNewScenarioVerdict(t *testing.T) {
	s, err := scenario.New("cuped-0.5", scenario.KindCUPED, nil,
		scenario.Metric{Name: "variance_reduction_factor", Tolerance: scenario.Absolute(0.001)})
	assert.NoError(t, err)

	pass := DeviationRecord{ScenarioID: s.ID, Metric: "variance_reduction_factor", Index: -1, Passed: true}
	fail := DeviationRecord{ScenarioID: s.ID, Metric: "n_adjusted", Index: -1, Passed: false}

	assert.Equal(t, StatusPass, NewScenarioVerdict(s, []DeviationRecord{pass}, nil, 0).Status)
	assert.Equal(t, StatusFail, NewScenarioVerdict(s, []DeviationRecord{pass, fail}, nil, 0).Status)

	v := NewScenarioVerdict(s, nil, &core.InfrastructureError{Endpoint: "/cuped"}, 0)
	assert.Equal(t, StatusInfrastructure, v.Status)
	assert.Contains(t, v.Error, "/cuped")
}

func TestDeviationRecordLabel(t *testing.T) {
	assert.Equal(t, "n1", DeviationRecord{Metric: "n1", Index: -1}.Label())
	assert.Equal(t, "efficacy_boundaries[2]", DeviationRecord{Metric: "efficacy_boundaries", Index: 2}.Label())
}

func TestExitCode(t *testing.T) {
	var nilReport *VerificationReport
	assert.Equal(t, 1, nilReport.ExitCode())
	assert.Equal(t, 0, (&VerificationReport{Overall: true}).ExitCode())
	assert.Equal(t, 1, (&VerificationReport{Overall: false}).ExitCode())
}

func TestDeviationRecordJSON_NonFinite(t *testing.T) {
	rec := DeviationRecord{ScenarioID: "gsd-1", Metric: "futility_boundaries", Index: 0,
		Reference: 0.5, Observed: math.NaN(), Deviation: math.Inf(1), Threshold: 0.05, Note: "non-finite value"}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"observed":null`)
	assert.Contains(t, string(data), `"reference":0.5`)

	var back DeviationRecord
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "futility_boundaries", back.Metric)
	assert.Equal(t, 0.5, back.Reference)
	assert.True(t, math.IsNaN(back.Observed))
	assert.True(t, math.IsNaN(back.Deviation))
	assert.Equal(t, "non-finite value", back.Note)
}
