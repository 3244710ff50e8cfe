package scenarios_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialcheck/app"
	"trialcheck/domain/core"
	"trialcheck/domain/scenario"
	"trialcheck/domain/verdict"
	"trialcheck/internal/calibration"
	"trialcheck/internal/comparison"
	"trialcheck/internal/errors"
	"trialcheck/internal/rng"
	"trialcheck/internal/scenarios"
)

func TestCatalog_BuildsWithUniqueIDs(t *testing.T) {
	all, err := scenarios.Catalog()
	require.NoError(t, err)

	seen := map[core.ScenarioID]bool{}
	kinds := map[scenario.CalculatorKind]bool{}
	for _, sc := range all {
		assert.False(t, seen[sc.ID], "duplicate %s", sc.ID)
		seen[sc.ID] = true
		kinds[sc.Kind] = true
		assert.NoError(t, sc.Validate())
		assert.NotEmpty(t, sc.Source, sc.ID)
	}
	for _, k := range scenario.AllKinds() {
		assert.True(t, kinds[k], "no catalog scenario for %s", k)
	}
}

func TestCatalog_ReferencesCompute(t *testing.T) {
	refs := app.NewReferenceService(rng.New(), 2)
	for _, sc := range scenarios.MustCatalog() {
		if app.NeedsObservation(sc.Kind) {
			continue
		}
		t.Run(sc.ID.String(), func(t *testing.T) {
			ref, err := refs.Independent(context.Background(), sc, 7)
			require.NoError(t, err)
			for _, m := range sc.Metrics {
				if m.CheckOrDefault() == scenario.CheckProperty || m.IsCalibration() {
					continue
				}
				_, scalar := ref.Scalars[m.Name]
				_, vector := ref.Vectors[m.Name]
				_, literal := sc.Expected[m.Name]
				assert.True(t, scalar || vector || literal, "no reference for %s", m.Name)
			}
		})
	}
}

func TestCatalog_OfflineLiteralsAgree(t *testing.T) {
	svc := app.NewVerificationService(nil, app.NewReferenceService(rng.New(), 2), comparison.NewEngine(),
		app.VerificationOptions{Concurrency: 4})

	report, err := svc.Offline(context.Background(), scenarios.MustCatalog(), 20240601)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Scenarios)
	for _, v := range report.Scenarios {
		assert.Equal(t, verdict.StatusPass, v.Status, "%s: %s", v.ScenarioID, v.Error)
	}
}

// The fixed designs in the catalog must meet their targets exactly, so that
// only Monte-Carlo noise separates the simulated rates from the targets.
func TestCatalog_OperatingTargetsHoldExactly(t *testing.T) {
	var checked int
	for _, sc := range scenarios.MustCatalog() {
		if sc.Kind != scenario.KindOperatingChars {
			continue
		}
		t.Run(sc.ID.String(), func(t *testing.T) {
			p := sc.Inputs
			type1Target, err := p.FloatOr("target_type1_error", 0.05)
			require.NoError(t, err)
			powerTarget, err := p.FloatOr("target_power", 0.8)
			require.NoError(t, err)

			var type1, power float64
			design, err := p.StringOr("design", "single_arm")
			require.NoError(t, err)
			switch design {
			case "single_arm":
				d := calibration.SingleArmBinary{
					PriorAlpha: mustFloat(t, p, "prior_alpha"),
					PriorBeta:  mustFloat(t, p, "prior_beta"),
					NullRate:   mustFloat(t, p, "null_rate"),
					Threshold:  mustFloat(t, p, "decision_threshold"),
				}
				d.N, err = p.Int("n")
				require.NoError(t, err)
				d.TrueRate = d.NullRate
				type1, err = d.ExactRate()
				require.NoError(t, err)
				d.TrueRate = mustFloat(t, p, "alternative_rate")
				power, err = d.ExactRate()
				require.NoError(t, err)
			case "z_test":
				n, err := p.Int("n")
				require.NoError(t, err)
				two, err := p.BoolOr("two_sided", true)
				require.NoError(t, err)
				d := calibration.ZTest{N: n, Alpha: mustFloat(t, p, "alpha"), TwoSided: two}
				type1 = d.ExactRate()
				d.Effect = mustFloat(t, p, "effect")
				power = d.ExactRate()
			default:
				t.Fatalf("unknown design %q", design)
			}

			for _, m := range sc.Metrics {
				switch m.Name {
				case "type1_error":
					assert.LessOrEqual(t, type1, type1Target+1e-9, "exact type-I error")
				case "power":
					assert.GreaterOrEqual(t, power, powerTarget, "exact power")
				}
			}
			checked++
		})
	}
	assert.Equal(t, 2, checked)
}

func mustFloat(t *testing.T, p scenario.Params, key string) float64 {
	t.Helper()
	v, err := p.Float(key)
	require.NoError(t, err)
	return v
}

func TestDecode_RoundTrip(t *testing.T) {
	all := scenarios.MustCatalog()

	var buf bytes.Buffer
	require.NoError(t, scenarios.Encode(&buf, all))
	decoded, err := scenarios.Decode(&buf)
	require.NoError(t, err)
	require.Len(t, decoded, len(all))

	for i := range all {
		assert.Equal(t, all[i].ID, decoded[i].ID)
		assert.Equal(t, all[i].Kind, decoded[i].Kind)
		assert.Equal(t, all[i].Metrics, decoded[i].Metrics)
		assert.Equal(t, len(all[i].Expected), len(decoded[i].Expected))
	}

	pp, ok := find(decoded, "predictive-beta-binomial")
	require.True(t, ok)
	k, err := pp.Inputs.Int("required_successes")
	require.NoError(t, err)
	assert.Equal(t, 12, k)
	require.NotNil(t, pp.Expected["predictive_probability"].Scalar)
	assert.InDelta(t, 0.137841, *pp.Expected["predictive_probability"].Scalar, 1e-12)

	mapPrior, ok := find(decoded, "borrow-map-punch")
	require.True(t, ok)
	studies, err := mapPrior.Inputs.Records("studies")
	require.NoError(t, err)
	assert.Len(t, studies, 2)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scenarios:
  - id: cuped-custom
    kind: cuped
    inputs: {baseline_mean: 50, baseline_std: 10, mde: 0.1, correlation: 0.6}
    metrics:
      - name: n_adjusted
        tolerance: {mode: relative, value: 0.01}
    expected:
      n_adjusted: {scalar: 40}
`), 0o644))

	got, err := scenarios.LoadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, scenario.KindCUPED, got[0].Kind)
	assert.Equal(t, scenario.Relative(0.01), got[0].Metrics[0].Tolerance)
}

func TestDecode_RejectsBadFiles(t *testing.T) {
	for name, body := range map[string]string{
		"empty":         "",
		"unknown field": "scenarios:\n  - id: a\n    kind: cuped\n    tolerence: 1\n",
		"unknown kind":  "scenarios:\n  - id: a\n    kind: anova\n    metrics: [{name: x, tolerance: {mode: absolute, value: 1}}]\n",
		"zero tol":      "scenarios:\n  - id: a\n    kind: cuped\n    metrics: [{name: x, tolerance: {mode: absolute, value: 0}}]\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := scenarios.Decode(strings.NewReader(body))
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
			assert.Equal(t, errors.ExitConfig, errors.ExitCode(err))
		})
	}

	_, err := scenarios.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestFilter(t *testing.T) {
	all := scenarios.MustCatalog()

	gsd, err := scenarios.Filter{Kinds: []scenario.CalculatorKind{scenario.KindGSD}}.Apply(all)
	require.NoError(t, err)
	assert.Len(t, gsd, 4)

	cuped, err := scenarios.Filter{IDs: []string{"cuped-*", "gsd-hptn083"}}.Apply(all)
	require.NoError(t, err)
	assert.Len(t, cuped, 7)

	_, err = scenarios.Filter{IDs: []string{"nothing"}}.Apply(all)
	assert.ErrorIs(t, err, core.ErrConfiguration)
	_, err = scenarios.Filter{Kinds: []scenario.CalculatorKind{"anova"}}.Apply(all)
	assert.Error(t, err)
}

func find(all []scenario.Scenario, id string) (scenario.Scenario, bool) {
	for _, sc := range all {
		if sc.ID.String() == id {
			return sc, true
		}
	}
	return scenario.Scenario{}, false
}
