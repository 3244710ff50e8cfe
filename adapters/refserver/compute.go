package refserver

import (
	"context"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"trialcheck/app"
	"trialcheck/domain/core"
	"trialcheck/domain/scenario"
	"trialcheck/domain/stats"
	"trialcheck/internal/reference"
)

// defaultQuantiles are reported for priors elicited without target quantiles.
var defaultQuantiles = []float64{0.05, 0.5, 0.95}

// Compute answers one calculator request with the reference values, shaped
// like the service's response.
func (s *Server) Compute(ctx context.Context, kind scenario.CalculatorKind, params scenario.Params) (map[string]interface{}, error) {
	if !kind.Known() || kind.Offline() {
		return nil, core.NewUnsupportedCalculatorError(string(kind))
	}
	seed := core.DeriveSeed(s.config.Seed, string(kind))

	var body map[string]interface{}
	if app.NeedsObservation(kind) {
		var err error
		if body, err = s.design(ctx, kind, params, seed); err != nil {
			return nil, err
		}
	} else {
		sc, err := request(kind, params)
		if err != nil {
			return nil, err
		}
		ref, err := s.refs.Independent(ctx, sc, seed)
		if err != nil {
			return nil, err
		}
		body = flatten(ref)
		if err := decorate(kind, params, ref, body); err != nil {
			return nil, err
		}
	}
	body["inputs"] = map[string]interface{}(params)
	return body, nil
}

// request wraps params in a throwaway scenario; the metric is never compared.
func request(kind scenario.CalculatorKind, params scenario.Params) (scenario.Scenario, error) {
	return scenario.New("refserver", kind, params, scenario.Metric{Name: "response", Tolerance: scenario.Absolute(1)})
}

// flatten turns reference scalars and vectors into a response body. Dotted
// scalar names become nested objects; NaN becomes null.
func flatten(ref *stats.ReferenceResult) map[string]interface{} {
	body := make(map[string]interface{}, len(ref.Scalars)+len(ref.Vectors))
	for name, v := range ref.Scalars {
		parent, child, nested := strings.Cut(name, ".")
		if !nested {
			body[name] = jsonNumber(v)
			continue
		}
		obj, _ := body[parent].(map[string]interface{})
		if obj == nil {
			obj = make(map[string]interface{})
			body[parent] = obj
		}
		obj[child] = jsonNumber(v)
	}
	for name, vec := range ref.Vectors {
		out := make([]interface{}, len(vec))
		for i, v := range vec {
			out[i] = jsonNumber(v)
		}
		body[name] = out
	}
	return body
}

func jsonNumber(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// decorate adds the descriptive fields the service reports next to its numbers.
func decorate(kind scenario.CalculatorKind, params scenario.Params, ref *stats.ReferenceResult, body map[string]interface{}) error {
	switch kind {
	case scenario.KindBayesianContinuous:
		body["recommendation"] = recommend(ref.Scalars["predictive_probability"])

	case scenario.KindBayesianBinary:
		// P(p_t > p_c) stands in for the predictive probability, which is not re-derived.
		pp := reference.ProbabilityGreater(
			reference.BetaPosterior{Alpha: ref.Scalars["posterior_treatment_alpha"], Beta: ref.Scalars["posterior_treatment_beta"]},
			reference.BetaPosterior{Alpha: ref.Scalars["posterior_control_alpha"], Beta: ref.Scalars["posterior_control_beta"]},
		)
		body["predictive_probability"] = pp
		body["recommendation"] = recommend(pp)

	case scenario.KindPriorElicitation:
		probs, err := params.Floats("quantiles")
		if err != nil {
			return err
		}
		if len(probs) == 0 {
			probs = defaultQuantiles
		}
		prior := distuv.Beta{Alpha: ref.Scalars["alpha"], Beta: ref.Scalars["beta"]}
		quantiles := make(map[string]interface{}, len(probs))
		for _, p := range probs {
			quantiles[app.QuantileKey(p)] = prior.Quantile(p)
		}
		body["quantiles"] = quantiles

	case scenario.KindSequential:
		endpoint, err := params.StringOr("endpoint_type", "continuous")
		if err != nil {
			return err
		}
		body["endpoint_type"] = endpoint
		if _, ok := body["futility_boundaries"]; !ok {
			body["futility_boundaries"] = make([]interface{}, len(ref.Vectors["efficacy_boundaries"]))
		}
	}
	return nil
}

func recommend(pp float64) string {
	switch {
	case pp >= 0.9:
		return "stop for efficacy"
	case pp <= 0.1:
		return "stop for futility"
	default:
		return "continue"
	}
}

// ============================================================================
// DESIGN SEARCH
// ============================================================================

// design finds the smallest n on the requested grid whose simulated type-I
// error and power meet their targets, or reports n_max with constraints_met=false.
func (s *Server) design(ctx context.Context, kind scenario.CalculatorKind, params scenario.Params, seed uint64) (map[string]interface{}, error) {
	nMin, err := params.IntOr("n_min", 10)
	if err != nil {
		return nil, err
	}
	nMax, err := params.IntOr("n_max", 200)
	if err != nil {
		return nil, err
	}
	nStep, err := params.IntOr("n_step", 10)
	if err != nil {
		return nil, err
	}
	switch {
	case nMin < 1:
		return nil, core.NewInvalidInputError("n_min", "must be >= 1, got %d", nMin)
	case nMax < nMin:
		return nil, core.NewInvalidInputError("n_max", "must be >= n_min, got %d", nMax)
	case nStep < 1:
		return nil, core.NewInvalidInputError("n_step", "must be >= 1, got %d", nStep)
	}
	type1Target, powerTarget, err := app.OperatingTargets(params)
	if err != nil {
		return nil, err
	}

	var (
		n            int
		type1, power stats.CalibrationRun
		met          bool
	)
	for n = nMin; n <= nMax; n += nStep {
		if type1, power, err = s.refs.OperatingPoint(ctx, kind, params, n, seed); err != nil {
			return nil, err
		}
		if type1.ObservedRate <= type1Target && power.ObservedRate >= powerTarget {
			met = true
			break
		}
	}
	if !met {
		n -= nStep
	}

	field := "recommended_n"
	if kind == scenario.KindTwoArm {
		field = "recommended_n_per_arm"
	}
	sc, err := request(kind, params)
	if err != nil {
		return nil, err
	}
	sized := stats.NewObservedResult(kind.Endpoint())
	sized.Scalars[field] = float64(n)
	ref, err := s.refs.Conditioned(ctx, sc, seed, sized)
	if err != nil {
		return nil, err
	}

	body := flatten(ref)
	body["type1_error"] = type1.ObservedRate
	body["power"] = power.ObservedRate
	body["constraints_met"] = met
	return body, nil
}
