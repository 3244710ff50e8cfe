package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"trialcheck/adapters/api"
	"trialcheck/adapters/postgres"
	"trialcheck/adapters/report"
	"trialcheck/app"
	"trialcheck/domain/scenario"
	"trialcheck/domain/verdict"
	"trialcheck/internal/comparison"
	"trialcheck/internal/config"
	apperrors "trialcheck/internal/errors"
	"trialcheck/internal/rng"
	"trialcheck/internal/scenarios"
	"trialcheck/ports"
)

// runOptions are the flags shared by run and offline. Flags override the
// environment only when set explicitly.
type runOptions struct {
	baseURL     string
	apiPrefix   string
	seed        uint64
	concurrency int
	timeout     time.Duration
	rateLimit   float64
	workers     int
	file        string
	ids         []string
	kinds       []string
	reportDir   string
	formats     string
	noPersist   bool
}

func (o *runOptions) addSelectionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.file, "scenarios", "", "YAML scenario file (default: built-in catalog)")
	cmd.Flags().StringSliceVar(&o.ids, "id", nil, "Only scenarios with these IDs; a trailing * matches a prefix")
	cmd.Flags().StringSliceVar(&o.kinds, "kind", nil, "Only scenarios of these calculator kinds")
}

func (o *runOptions) addRunFlags(cmd *cobra.Command) {
	o.addSelectionFlags(cmd)
	cmd.Flags().Uint64Var(&o.seed, "seed", 20240601, "Run-level base seed")
	cmd.Flags().IntVar(&o.workers, "mc-workers", 4, "Replication workers per Monte-Carlo calibration")
	cmd.Flags().StringVar(&o.reportDir, "report-dir", "./results", "Directory for rendered reports")
	cmd.Flags().StringVar(&o.formats, "formats", "md", "Report formats: md,html,csv,xlsx,json")
	cmd.Flags().BoolVar(&o.noPersist, "no-persist", false, "Do not store the report even if DATABASE_URL is set")
}

// loadConfig reads the environment and applies explicitly set flags.
func (o *runOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.Service.BaseURL = strings.TrimRight(o.baseURL, "/")
	}
	if flags.Changed("api-prefix") {
		cfg.Service.APIPrefix = o.apiPrefix
	}
	if flags.Changed("seed") {
		cfg.Service.Seed = o.seed
	}
	if flags.Changed("concurrency") {
		cfg.Service.Concurrency = o.concurrency
	}
	if flags.Changed("timeout") {
		cfg.Service.RequestTimeout = o.timeout
	}
	if flags.Changed("rate-limit") {
		cfg.Service.RateLimit = o.rateLimit
	}
	if flags.Changed("mc-workers") {
		cfg.Calibration.Workers = o.workers
	}
	if flags.Changed("report-dir") {
		cfg.Report.Dir = o.reportDir
	}
	if flags.Changed("formats") {
		cfg.Report.Formats = config.SplitList(o.formats)
	}
	if cfg.Service.Concurrency < 1 {
		return nil, apperrors.ConfigInvalidf("--concurrency must be >= 1, got %d", cfg.Service.Concurrency)
	}
	if cfg.Calibration.Workers < 1 {
		return nil, apperrors.ConfigInvalidf("--mc-workers must be >= 1, got %d", cfg.Calibration.Workers)
	}
	return cfg, nil
}

// selectScenarios loads the scenario file or the catalog and applies the
// ID and kind filters.
func (o *runOptions) selectScenarios() ([]scenario.Scenario, error) {
	var all []scenario.Scenario
	var err error
	if o.file != "" {
		all, err = scenarios.LoadFile(o.file)
	} else {
		all, err = scenarios.Catalog()
	}
	if err != nil {
		return nil, err
	}
	if len(o.ids) == 0 && len(o.kinds) == 0 {
		return all, nil
	}
	f := scenarios.Filter{IDs: o.ids}
	for _, k := range o.kinds {
		f.Kinds = append(f.Kinds, scenario.CalculatorKind(k))
	}
	return f.Apply(all)
}

func newRunCmd() *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Verify the service under test against every selected scenario",
		Long: `Run calls the service for each scenario, computes the independent reference,
and compares them metric by metric.

Exit status: 0 when every scenario passed, 1 on any fail or error, 2 on configuration errors.

Example: trialcheck run --base-url http://localhost:8000 --kind gsd,cuped --formats md,xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireService(); err != nil {
				return err
			}
			formats, err := report.ParseFormats(strings.Join(cfg.Report.Formats, ","))
			if err != nil {
				return err
			}
			selected, err := o.selectScenarios()
			if err != nil {
				return err
			}
			client, err := api.NewServiceClient(api.ClientConfigFrom(cfg.Service))
			if err != nil {
				return err
			}

			svc, closeRepo, err := newVerificationService(cmd.Context(), cfg, client, o.noPersist)
			if err != nil {
				return err
			}
			defer closeRepo()

			rep, runErr := svc.Run(cmd.Context(), app.RunRequest{
				BaseURL:   cfg.Service.BaseURL,
				Seed:      cfg.Service.Seed,
				Scenarios: selected,
			})
			return finish(cmd.OutOrStdout(), rep, runErr, cfg.Report.Dir, formats)
		},
	}
	cmd.Flags().StringVar(&o.baseURL, "base-url", "", "Base URL of the service under test (env TRIALCHECK_BASE_URL)")
	cmd.Flags().StringVar(&o.apiPrefix, "api-prefix", config.DefaultAPIPrefix, "Path prefix of the calculator endpoints")
	cmd.Flags().IntVar(&o.concurrency, "concurrency", 4, "Maximum concurrent service calls")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 30*time.Second, "Timeout of each service call")
	cmd.Flags().Float64Var(&o.rateLimit, "rate-limit", 0, "Maximum requests per second, 0 for unlimited")
	o.addRunFlags(cmd)
	return cmd
}

func newOfflineCmd() *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "offline",
		Short: "Check the references against the literal expectations of the scenarios",
		Long: `Offline runs no service calls. Every scenario with literal expected values, and
every operating-characteristics calibration, is recomputed and compared.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig(cmd)
			if err != nil {
				return err
			}
			formats, err := report.ParseFormats(strings.Join(cfg.Report.Formats, ","))
			if err != nil {
				return err
			}
			selected, err := o.selectScenarios()
			if err != nil {
				return err
			}
			svc, closeRepo, err := newVerificationService(cmd.Context(), cfg, nil, o.noPersist)
			if err != nil {
				return err
			}
			defer closeRepo()

			rep, runErr := svc.Offline(cmd.Context(), selected, cfg.Service.Seed)
			return finish(cmd.OutOrStdout(), rep, runErr, cfg.Report.Dir, formats)
		},
	}
	o.addRunFlags(cmd)
	return cmd
}

// newVerificationService wires the reference service, the comparison engine
// and, when DATABASE_URL is set, report persistence.
func newVerificationService(ctx context.Context, cfg *config.Config, client *api.ServiceClient, noPersist bool) (*app.VerificationService, func(), error) {
	refs := app.NewReferenceService(rng.New(), cfg.Calibration.Workers).WithConfidence(cfg.Calibration.Confidence)
	opts := app.VerificationOptions{
		Concurrency:    cfg.Service.Concurrency,
		RequestTimeout: cfg.Service.RequestTimeout,
	}
	var adapter ports.ServiceAdapter
	if client != nil {
		adapter = client
	}
	svc := app.NewVerificationService(adapter, refs, comparison.NewEngine(), opts)

	if noPersist || cfg.Database.URL == "" {
		return svc, func() {}, nil
	}
	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return svc.WithRepository(repo), closeRepo, nil
}

func openRepository(ctx context.Context, cfg *config.Config) (*postgres.ReportRepositoryImpl, func(), error) {
	if cfg.Database.URL == "" {
		return nil, nil, apperrors.ConfigInvalid("DATABASE_URL is required")
	}
	db, err := postgres.Connect(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	repo := postgres.NewReportRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repo, func() { db.Close() }, nil
}

// finish writes the reports of a completed run and prints its summary. A
// run that did not pass returns errRunFailed.
func finish(out io.Writer, rep *verdict.VerificationReport, runErr error, dir string, formats []report.Format) error {
	if rep == nil {
		return runErr
	}
	fmt.Fprintf(out, "run %s: %d passed, %d failed, %d errored, max deviation %.4g\n",
		rep.RunID, rep.PassCount, rep.FailCount, rep.ErrorCount, rep.MaxDeviation)
	for _, v := range rep.Failures() {
		line := fmt.Sprintf("  %-8s %s (%s)", strings.ToUpper(string(v.Status)), v.ScenarioID, v.Kind)
		if v.Error != "" {
			line += ": " + v.Error
		}
		fmt.Fprintln(out, line)
	}

	paths, err := report.NewWriter(dir).Write(rep, formats)
	for _, p := range paths {
		fmt.Fprintf(out, "report: %s\n", p)
	}
	switch {
	case runErr != nil:
		return runErr
	case err != nil:
		return err
	case !rep.Overall:
		return errRunFailed
	}
	fmt.Fprintln(out, "PASS")
	return nil
}
