package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"trialcheck/adapters/refserver"
	"trialcheck/app"
	"trialcheck/internal/config"
	apperrors "trialcheck/internal/errors"
	"trialcheck/internal/rng"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(apperrors.ExitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "refserver",
		Short: "Serve the calculator endpoints computed from the reference library",
		Long: `refserver answers every calculator endpoint with the independent reference
values. It is a known-good stand-in for the service under test and exposes
/healthz and Prometheus metrics on /metrics.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			switch cfg.Server.GinMode {
			case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
				gin.SetMode(cfg.Server.GinMode)
			default:
				return apperrors.ConfigInvalidf("GIN_MODE must be debug, release or test, got %q", cfg.Server.GinMode)
			}

			refs := app.NewReferenceService(rng.New(), cfg.Calibration.Workers).
				WithConfidence(cfg.Calibration.Confidence)
			srv := refserver.NewServer(refs, refserver.Config{
				APIPrefix: cfg.Service.APIPrefix,
				Seed:      cfg.Service.Seed,
			})

			err = srv.ListenAndServe(cmd.Context(), ":"+cfg.Server.Port)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&port, "port", "8080", "Listen port (env REFSERVER_PORT)")
	return cmd
}
