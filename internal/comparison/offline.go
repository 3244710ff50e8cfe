package comparison

import (
	"trialcheck/domain/scenario"
	"trialcheck/domain/stats"
	"trialcheck/domain/verdict"
)

// OfflineEndpoint tags observed results built from local computations.
const OfflineEndpoint = "offline"

// CompareOffline checks a locally computed result against the scenario's
// literal expectations, with the literal on the reference side. Computed
// values are keyed like the service's response fields. Calibration
// bound and property metrics are judged on the computed result directly.
// Metrics with neither a literal nor a computed calibration are skipped.
func (e *Engine) CompareOffline(s scenario.Scenario, computed *stats.ReferenceResult) ([]verdict.DeviationRecord, error) {
	literal := stats.NewReferenceResult("literal")
	obs := stats.NewObservedResult(OfflineEndpoint)
	if computed != nil {
		for k, v := range computed.Scalars {
			obs.Scalars[k] = v
		}
		for k, v := range computed.Vectors {
			obs.Vectors[k] = append([]float64(nil), v...)
		}
		for k, v := range computed.Calibrations {
			literal.SetCalibration(k, v)
			obs.Scalars[k] = v.ObservedRate
		}
	}

	var metrics []scenario.Metric
	for _, m := range s.Metrics {
		exp, hasLiteral := s.Expected[m.Name]
		switch m.CheckOrDefault() {
		case scenario.CheckUpperBound, scenario.CheckLowerBound:
			if _, ok := literal.Calibrations[m.Name]; !ok {
				continue
			}
		case scenario.CheckProperty:
			if _, ok := obs.Scalars[m.ObservedField()]; !ok {
				continue
			}
		case scenario.CheckInterval:
			if _, ok := literal.Calibrations[m.Name]; !ok || !hasLiteral || exp.Scalar == nil {
				continue
			}
			obs.Scalars[m.ObservedField()] = *exp.Scalar
		default:
			if !hasLiteral {
				continue
			}
			if exp.Scalar != nil {
				literal.SetScalar(m.Name, *exp.Scalar)
			} else {
				literal.SetVector(m.Name, exp.Vector)
			}
		}
		metrics = append(metrics, m)
	}
	if len(metrics) == 0 {
		return nil, nil
	}

	offline := s
	offline.Metrics = metrics
	return e.Compare(offline, literal, obs)
}
