package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agripredict/app"
	"agripredict/artifacts"
	"agripredict/config"
	"agripredict/helpers"
	"agripredict/logger"
	"agripredict/notifications"
)

const serviceName = "agripredict"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Weekly maize price model retraining service",
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// Load config from .env file
			cfg = config.LoadFromEnv()
			logger.Init(serviceName, cfg.LogLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.New(cfg).Start()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and API until interrupted (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.New(cfg).Start()
		},
	}

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run exactly one retraining cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := app.New(cfg).RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Published %s (%d rows, %d regions, RMSE %.4f)\n",
				report.Manifest.Generation, report.FeatureRows, len(report.Regions), report.Stats.RMSE)
			return nil
		},
	}

	var region, dir string
	predictCmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict next week's price for a region from the published model",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = cfg.Artifacts.Dir
			}
			snap, err := artifacts.Load(dir)
			if err != nil {
				return err
			}
			forecast, err := snap.PredictLatest(region)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s on %s (%s vs %s on %s, model %s)\n",
				forecast.Region,
				helpers.FormatPrice(forecast.Prediction, notifications.Currency),
				forecast.TargetDate.Format("2006-01-02"),
				helpers.FormatDelta(forecast.Delta, notifications.Currency),
				helpers.FormatPrice(forecast.LastPrice, notifications.Currency),
				forecast.LastDate.Format("2006-01-02"),
				snap.Manifest.Generation,
			)
			return nil
		},
	}
	predictCmd.Flags().StringVarP(&region, "region", "r", "", "region to predict")
	predictCmd.Flags().StringVar(&dir, "dir", "", "artifact directory (default: ARTIFACTS_DIR)")
	_ = predictCmd.MarkFlagRequired("region")

	rootCmd.AddCommand(serveCmd, onceCmd, predictCmd)
	rootCmd.SetContext(context.Background())
	return rootCmd
}
