package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill-urls",
		Short: "Fill in missing direct document URLs from fresh listings",
		Long: `Re-lists the docket pages for undownloaded opinions whose records lack
a direct document URL and fills the URL in. Strictly additive: records
that already carry a URL are never touched.`,
	}
	sourceFlag := cmd.Flags().String("source", "", "restrict to one source id (default all)")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		a, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		stats, err := a.Backfiller.Run(cmd.Context(), *sourceFlag)
		if err != nil {
			return err
		}
		a.Logger.Info("Backfill finished",
			zap.Int("examined", stats.Examined),
			zap.Int("filled", stats.Filled),
			zap.Int("missing", stats.Missing),
			zap.Int("listings", stats.Listings),
		)
		return nil
	}
	return cmd
}
