package refserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialcheck/adapters/api"
	"trialcheck/adapters/refserver"
	"trialcheck/app"
	"trialcheck/domain/scenario"
	"trialcheck/domain/verdict"
	"trialcheck/internal/comparison"
	"trialcheck/internal/config"
	"trialcheck/internal/rng"
	"trialcheck/internal/scenarios"
)

func newTwin(t *testing.T) (*httptest.Server, *refserver.Server) {
	t.Helper()
	twin := refserver.NewServer(app.NewReferenceService(rng.New(), 2), refserver.Config{Seed: 11})
	srv := httptest.NewServer(twin.Handler())
	t.Cleanup(srv.Close)
	return srv, twin
}

func post(t *testing.T, srv *httptest.Server, endpoint, body string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(srv.URL+config.DefaultAPIPrefix+endpoint, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestTwin_AnswersWithReferenceValues(t *testing.T) {
	srv, _ := newTwin(t)

	status, body := post(t, srv, "/sample-size/continuous", `{"mean1": 100, "mean2": 105, "sd": 20, "alpha": 0.05, "power": 0.8}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 504.0, body["n_total"])
	assert.Equal(t, 20.0, body["inputs"].(map[string]interface{})["sd"])

	status, body = post(t, srv, "/bayesian/prior-elicitation", `{"method": "ess_based", "mean": 0.3, "ess": 10}`)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 3.0, body["alpha"], 1e-9)
	quantiles, ok := body["quantiles"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, quantiles, 3)
	assert.InDelta(t, 0.29, quantiles["q50"], 0.02)
}

func TestTwin_ResponsesSatisfyContracts(t *testing.T) {
	twin := refserver.NewServer(app.NewReferenceService(rng.New(), 2), refserver.Config{})
	for _, sc := range scenarios.MustCatalog() {
		if sc.Kind.Offline() || app.NeedsObservation(sc.Kind) {
			continue
		}
		t.Run(sc.ID.String(), func(t *testing.T) {
			body, err := twin.Compute(context.Background(), sc.Kind, sc.Inputs)
			require.NoError(t, err)
			raw, err := json.Marshal(body)
			require.NoError(t, err)

			contract, ok := api.ContractFor(sc.Kind, sc.Inputs)
			require.True(t, ok)
			assert.Empty(t, contract.Check(raw))
		})
	}
}

func TestTwin_InvalidInputIs422WithField(t *testing.T) {
	srv, _ := newTwin(t)

	status, body := post(t, srv, "/cuped", `{"baseline_mean": 100, "baseline_std": 20, "mde": 0.05, "correlation": 1.5}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.NotEmpty(t, body["detail"])

	status, body = post(t, srv, "/sample-size/continuous", `{"mean1": 100, "sd": 20}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "mean2", body["field"])

	status, _ = post(t, srv, "/gsd", `not json`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestTwin_HealthAndMetrics(t *testing.T) {
	srv, _ := newTwin(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	post(t, srv, "/cuped", `{"baseline_mean": 100, "baseline_std": 20, "mde": 0.05, "correlation": 0.5}`)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	metrics, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `refserver_requests_total{route="/api/v1/validation/cuped",status="200"} 1`)
	assert.True(t, bytes.Contains(metrics, []byte("refserver_request_duration_seconds")))
}

func TestTwin_SingleArmDesignSearch(t *testing.T) {
	srv, _ := newTwin(t)

	status, body := post(t, srv, "/bayesian/sample-size-single-arm", `{
		"null_rate": 0.1, "alternative_rate": 0.4, "decision_threshold": 0.95,
		"target_power": 0.8, "target_type1_error": 0.05, "n_simulations": 400,
		"n_min": 10, "n_max": 60, "n_step": 5}`)
	require.Equal(t, http.StatusOK, status, "%v", body)
	assert.Equal(t, true, body["constraints_met"])
	n := body["recommended_n"].(float64)
	assert.GreaterOrEqual(t, n, 10.0)
	assert.LessOrEqual(t, n, 60.0)
	assert.LessOrEqual(t, body["type1_error"].(float64), 0.05)
	assert.GreaterOrEqual(t, body["power"].(float64), 0.8)
	assert.Equal(t, 1+float64(int(0.4*n+0.5)), body["posterior_at_alt_alpha"])
}

// A correct service must pass every catalog scenario; the twin is one.
func TestEndToEnd_TwinPassesCatalog(t *testing.T) {
	srv, _ := newTwin(t)
	client, err := api.NewServiceClient(api.DefaultClientConfig(srv.URL))
	require.NoError(t, err)

	var selected []scenario.Scenario
	for _, sc := range scenarios.MustCatalog() {
		if !app.NeedsObservation(sc.Kind) {
			selected = append(selected, sc)
		}
	}
	singleArm, err := scenario.New("single-arm-small", scenario.KindSingleArm, scenario.Params{
		"null_rate": 0.1, "alternative_rate": 0.4, "n_simulations": 400,
		"n_min": 10, "n_max": 60, "n_step": 5,
	},
		scenario.Metric{Name: "recommended_n", Check: scenario.CheckExact, Tolerance: scenario.Absolute(1e-9)},
		scenario.Metric{Name: "posterior_at_alt_alpha", Tolerance: scenario.Absolute(0.001)},
		scenario.Metric{Name: "type1_error", Check: scenario.CheckUpperBound, Tolerance: scenario.Absolute(0.05)},
		scenario.Metric{Name: "power", Check: scenario.CheckLowerBound, Tolerance: scenario.Absolute(0.1)},
	)
	require.NoError(t, err)
	selected = append(selected, singleArm)

	svc := app.NewVerificationService(client, app.NewReferenceService(rng.New(), 2), comparison.NewEngine(),
		app.VerificationOptions{Concurrency: 4})
	report, err := svc.Run(context.Background(), app.RunRequest{BaseURL: srv.URL, Seed: 5, Scenarios: selected})
	require.NoError(t, err)

	require.Len(t, report.Scenarios, len(selected))
	for _, v := range report.Scenarios {
		assert.Equal(t, verdict.StatusPass, v.Status, "%s: %s", v.ScenarioID, v.Error)
	}
	assert.True(t, report.Overall)
	assert.Equal(t, 0, report.ExitCode())
}
