package verdict

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"trialcheck/domain/core"
	"trialcheck/domain/scenario"
)

// ScenarioStatus is the terminal state of one scenario.
type ScenarioStatus string

const (
	StatusPass ScenarioStatus = "pass"
	// StatusFail is a statistical FAIL: a deviation or CI bound check failed.
	StatusFail ScenarioStatus = "fail"
	// StatusInvalidInput marks a scenario skipped before any computation.
	StatusInvalidInput ScenarioStatus = "invalid_input"
	// StatusError covers convergence, calibration execution and schema failures.
	StatusError ScenarioStatus = "error"
	// StatusInfrastructure covers transport failures, timeouts and non-2xx responses.
	StatusInfrastructure ScenarioStatus = "infrastructure"
)

// Passed reports whether the status counts towards an overall pass.
func (s ScenarioStatus) Passed() bool { return s == StatusPass }

// StatusOf classifies a per-scenario error into a status.
func StatusOf(err error) ScenarioStatus {
	switch {
	case err == nil:
		return StatusPass
	case core.IsInfrastructure(err):
		return StatusInfrastructure
	case core.IsInvalidInput(err):
		return StatusInvalidInput
	default:
		return StatusError
	}
}

// DeviationRecord is one compared metric. Immutable once created.
type DeviationRecord struct {
	ScenarioID core.ScenarioID        `json:"scenario_id"`
	Metric     string                 `json:"metric"`
	Index      int                    `json:"index"` // element index for vectors, -1 for scalars
	Reference  float64                `json:"reference"`
	Observed   float64                `json:"observed"`
	Deviation  float64                `json:"deviation"`
	Threshold  float64                `json:"threshold"`
	Mode       scenario.ToleranceMode `json:"mode"`
	Check      scenario.CheckKind     `json:"check"`
	Passed     bool                   `json:"passed"`
	Note       string                 `json:"note,omitempty"`
}

// Label names the metric, including the element index for vectors.
func (d DeviationRecord) Label() string {
	if d.Index < 0 {
		return d.Metric
	}
	return d.Metric + "[" + strconv.Itoa(d.Index) + "]"
}

type deviationRecordAlias DeviationRecord

// MarshalJSON writes non-finite numbers as null.
func (d DeviationRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		deviationRecordAlias
		Reference *float64 `json:"reference"`
		Observed  *float64 `json:"observed"`
		Deviation *float64 `json:"deviation"`
		Threshold *float64 `json:"threshold"`
	}{deviationRecordAlias(d), finitePtr(d.Reference), finitePtr(d.Observed), finitePtr(d.Deviation), finitePtr(d.Threshold)})
}

// UnmarshalJSON reads null numbers back as NaN.
func (d *DeviationRecord) UnmarshalJSON(data []byte) error {
	aux := struct {
		*deviationRecordAlias
		Reference *float64 `json:"reference"`
		Observed  *float64 `json:"observed"`
		Deviation *float64 `json:"deviation"`
		Threshold *float64 `json:"threshold"`
	}{deviationRecordAlias: (*deviationRecordAlias)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d.Reference, d.Observed = orNaN(aux.Reference), orNaN(aux.Observed)
	d.Deviation, d.Threshold = orNaN(aux.Deviation), orNaN(aux.Threshold)
	return nil
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// ScenarioVerdict is the outcome of one scenario.
type ScenarioVerdict struct {
	ScenarioID core.ScenarioID         `json:"scenario_id"`
	Kind       scenario.CalculatorKind `json:"kind"`
	Status     ScenarioStatus          `json:"status"`
	Records    []DeviationRecord       `json:"records,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Duration   time.Duration           `json:"duration"`
}

// NewScenarioVerdict derives the status from records and an optional error.
func NewScenarioVerdict(s scenario.Scenario, records []DeviationRecord, err error, elapsed time.Duration) ScenarioVerdict {
	v := ScenarioVerdict{
		ScenarioID: s.ID,
		Kind:       s.Kind,
		Records:    append([]DeviationRecord(nil), records...),
		Duration:   elapsed,
	}
	if err != nil {
		v.Status = StatusOf(err)
		v.Error = err.Error()
		return v
	}
	v.Status = StatusPass
	for _, r := range records {
		if !r.Passed {
			v.Status = StatusFail
			break
		}
	}
	return v
}

// Summary holds descriptive statistics over the deviations of a run.
type Summary struct {
	MeanDeviation   float64 `json:"mean_deviation"`
	MedianDeviation float64 `json:"median_deviation"`
	P95Deviation    float64 `json:"p95_deviation"`
	MaxDeviation    float64 `json:"max_deviation"`
	// MaxUtilisation is max(deviation/threshold); above 1 means a FAIL.
	MaxUtilisation float64 `json:"max_utilisation"`
}

// VerificationReport is the terminal artifact of a run.
type VerificationReport struct {
	RunID           core.RunID             `json:"run_id"`
	BaseURL         string                 `json:"base_url,omitempty"`
	Seed            uint64                 `json:"seed"`
	StartedAt       core.Timestamp         `json:"started_at"`
	FinishedAt      core.Timestamp         `json:"finished_at"`
	Scenarios       []ScenarioVerdict      `json:"scenarios"`
	Records         []DeviationRecord      `json:"records"`
	StatusCounts    map[ScenarioStatus]int `json:"status_counts"`
	PassCount       int                    `json:"pass_count"`
	FailCount       int                    `json:"fail_count"`
	ErrorCount      int                    `json:"error_count"`
	MaxDeviation    float64                `json:"max_deviation"`
	WorstScenarioID core.ScenarioID        `json:"worst_scenario_id,omitempty"`
	WorstMetric     string                 `json:"worst_metric,omitempty"`
	Summary         Summary                `json:"summary"`
	Overall         bool                   `json:"overall"`
}

// ExitCode is the process signal: 0 iff every scenario passed.
func (r *VerificationReport) ExitCode() int {
	if r != nil && r.Overall {
		return 0
	}
	return 1
}

// Failures returns the verdicts that did not pass, in report order.
func (r *VerificationReport) Failures() []ScenarioVerdict {
	var out []ScenarioVerdict
	for _, s := range r.Scenarios {
		if !s.Status.Passed() {
			out = append(out, s)
		}
	}
	return out
}
