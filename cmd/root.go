// Package cmd defines the CLI commands for the pdrbot executable.
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/markwbennett/PDRbot/internal/app"
	appconfig "github.com/markwbennett/PDRbot/internal/config"
	"github.com/markwbennett/PDRbot/internal/logging"
	"github.com/markwbennett/PDRbot/pkg/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It is a variable so tests can swap in
// a fake.
var newApp = func(ctx context.Context, cfg appconfig.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

// resolveApp pulls the injected App out of the command context.
func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdrbot",
		Short: "Monitors Texas Courts of Appeals criminal opinions.",
		Long: `pdrbot discovers the criminal opinions the fourteen Texas Courts of
Appeals hand down each day, downloads and validates the opinion PDFs, and
runs each one through an analysis engine looking for issues that might
support a petition for discretionary review.`,

		// Runs after config is loaded and before the subcommand, so every
		// command finds its services already wired.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := appconfig.Load(viper.GetViper())
			if err != nil {
				return err
			}
			logging.InitLogger(cfg.Logging.Development)

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close()
			}
		},
	}

	cobra.OnInitialize(func() { config.InitConfig(cfgFile) })

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/pdrbot, $HOME/.pdrbot)")

	cmd.AddCommand(
		newScrapeCmd(),
		newAnalyzeCmd(),
		newBothCmd(),
		newAutoCmd(),
		newReportCmd(),
		newDailyReportCmd(),
		newBackfillCmd(),
		newStatusCmd(),
	)
	return cmd
}

// Execute is the main entry point. It installs signal handling so a ^C
// cancels in-flight work and still finalizes the run record.
func Execute() {
	logging.InitLogger(false)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logging.L.Fatal("Command execution failed", zap.Error(err))
	}
}
