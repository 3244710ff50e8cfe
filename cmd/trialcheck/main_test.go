package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialcheck/adapters/refserver"
	"trialcheck/app"
	"trialcheck/internal/rng"
)

// isolate clears the environment the CLI reads.
func isolate(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TRIALCHECK_BASE_URL", "TRIALCHECK_API_PREFIX", "TRIALCHECK_SEED", "TRIALCHECK_CONCURRENCY",
		"TRIALCHECK_REQUEST_TIMEOUT", "TRIALCHECK_RATE_LIMIT", "TRIALCHECK_MC_WORKERS", "TRIALCHECK_CONFIDENCE",
		"TRIALCHECK_REPORT_DIR", "TRIALCHECK_REPORT_FORMATS", "TRIALCHECK_AUTH_TOKEN",
		"DATABASE_DRIVER", "DATABASE_URL",
	} {
		t.Setenv(key, "")
	}
}

func cli(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var out bytes.Buffer
	code := execute(context.Background(), args, &out, &out)
	return code, out.String()
}

func TestScenarios_ListsCatalog(t *testing.T) {
	isolate(t)
	code, out := cli(t, "scenarios", "--kind", "gsd")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "gsd-hptn083")
	assert.Contains(t, out, "/gsd")
	assert.Contains(t, out, "4 scenarios")

	code, out = cli(t, "scenarios", "--id", "predictive-*")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "(offline)")

	code, out = cli(t, "scenarios", "--id", "cuped-rho-+0.5", "--yaml")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "kind: cuped")
}

func TestConfigurationErrorsExitTwo(t *testing.T) {
	isolate(t)
	for name, args := range map[string][]string{
		"unknown kind":     {"scenarios", "--kind", "bogus"},
		"missing base url": {"run", "--kind", "cuped"},
		"bad base url":     {"run", "--base-url", "localhost:8000"},
		"bad format":       {"offline", "--formats", "pdf"},
		"bad flag":         {"run", "--concurrency", "many"},
		"missing file":     {"offline", "--scenarios", filepath.Join(t.TempDir(), "none.yaml")},
	} {
		t.Run(name, func(t *testing.T) {
			code, out := cli(t, args...)
			assert.Equal(t, 2, code, out)
		})
	}
}

func TestOffline_WritesReportsAndPersists(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("DATABASE_URL", filepath.Join(dir, "runs.db"))

	code, out := cli(t, "offline", "--kind", "gsd", "--report-dir", dir, "--formats", "md,csv")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "PASS")

	md, err := filepath.Glob(filepath.Join(dir, "trialcheck-*.md"))
	require.NoError(t, err)
	assert.Len(t, md, 1)
	csvs, err := filepath.Glob(filepath.Join(dir, "trialcheck-*.csv"))
	require.NoError(t, err)
	assert.Len(t, csvs, 1)

	code, out = cli(t, "runs", "list")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "offline")
	runID := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(md[0]), "trialcheck-"), ".md")
	assert.Contains(t, out, runID)

	code, out = cli(t, "runs", "show", runID, "--format", "json")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, `"overall": true`)
}

func TestRun_AgainstReferenceTwinPasses(t *testing.T) {
	isolate(t)
	twin := refserver.NewServer(app.NewReferenceService(rng.New(), 2), refserver.Config{})
	srv := httptest.NewServer(twin.Handler())
	defer srv.Close()

	code, out := cli(t, "run", "--base-url", srv.URL, "--kind", "cuped,gsd",
		"--report-dir", t.TempDir(), "--concurrency", "2")
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "0 failed, 0 errored")
}

func TestRun_WrongAnswersExitOne(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"variance_reduction_factor": 0.5, "n_original": 100, "n_adjusted": 50}`)
	}))
	defer srv.Close()

	code, out := cli(t, "run", "--base-url", srv.URL, "--kind", "cuped", "--report-dir", t.TempDir())
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, "FAIL")
}

func TestRun_UnreachableServiceExitsOne(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	code, out := cli(t, "run", "--base-url", url, "--id", "cuped-rho-+0.5", "--timeout", "2s", "--report-dir", t.TempDir())
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, "INFRASTRUCTURE")
}
