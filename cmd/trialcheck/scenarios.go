package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"trialcheck/adapters/report"
	"trialcheck/domain/core"
	apperrors "trialcheck/internal/errors"
	"trialcheck/internal/scenarios"
)

func newScenariosCmd() *cobra.Command {
	var o runOptions
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List the built-in scenario catalog or a scenario file",
		Long: `Scenarios lists the selected scenarios. With --yaml it writes them in the
scenario file format, which is a starting point for custom scenario files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := o.selectScenarios()
			if err != nil {
				return err
			}
			if asYAML {
				return scenarios.Encode(cmd.OutOrStdout(), selected)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tENDPOINT\tMETRICS\tSOURCE")
			for _, sc := range selected {
				endpoint := sc.Kind.Endpoint()
				if sc.Kind.Offline() {
					endpoint = "(offline)"
				}
				names := make([]string, len(sc.Metrics))
				for i, m := range sc.Metrics {
					names[i] = m.Name
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", sc.ID, sc.Kind, endpoint, strings.Join(names, ","), sc.Source)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d scenarios\n", len(selected))
			return nil
		},
	}
	o.addSelectionFlags(cmd)
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Write the scenarios as YAML")
	return cmd
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored verification runs (requires DATABASE_URL)",
	}
	cmd.AddCommand(newRunsListCmd(), newRunsShowCmd())
	return cmd
}

func newRunsListCmd() *cobra.Command {
	var o runOptions
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig(cmd)
			if err != nil {
				return err
			}
			repo, closeRepo, err := openRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeRepo()

			runs, err := repo.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTARTED\tSERVICE\tPASS\tFAIL\tERROR\tMAX DEV\tOVERALL")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%.4g\t%t\n",
					r.RunID, r.StartedAt, r.BaseURL, r.PassCount, r.FailCount, r.ErrorCount, r.MaxDeviation, r.Overall)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	var o runOptions
	var format string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a stored report as Markdown, CSV or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig(cmd)
			if err != nil {
				return err
			}
			runID, err := core.ParseRunID(args[0])
			if err != nil {
				return err
			}
			repo, closeRepo, err := openRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeRepo()

			rep, err := repo.GetReport(cmd.Context(), runID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch report.Format(format) {
			case report.FormatMarkdown:
				_, err = out.Write(report.Markdown(rep))
			case report.FormatCSV:
				err = report.WriteCSV(out, rep)
			case report.FormatJSON:
				err = report.WriteJSON(out, rep)
			default:
				err = apperrors.ConfigInvalidf("format must be md, csv or json, got %q", format)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "md", "Output format: md, csv or json")
	return cmd
}
