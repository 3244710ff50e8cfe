package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	apperrors "trialcheck/internal/errors"
)

// errRunFailed marks a completed run in which some scenario did not pass.
var errRunFailed = stderrors.New("verification failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the CLI and maps its outcome to a process exit code:
// 0 when every scenario passed, 1 on any failure, 2 on configuration errors.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return apperrors.ExitPass
	case stderrors.Is(err, errRunFailed):
		return apperrors.ExitFail
	default:
		fmt.Fprintln(stderr, "Error:", err)
		return apperrors.ExitCode(err)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trialcheck",
		Short: "Cross-validate a clinical-trial design service against independent references",
		Long: `trialcheck calls every calculator of a trial design service with built-in or
file-defined scenarios, recomputes each answer from closed-form formulas, numerical
boundary solvers and Monte-Carlo calibration, and reports every deviation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return apperrors.ConfigInvalid(err.Error())
	})

	rootCmd.AddCommand(
		newRunCmd(),
		newOfflineCmd(),
		newScenariosCmd(),
		newRunsCmd(),
	)
	return rootCmd
}
