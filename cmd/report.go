package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/markwbennett/PDRbot/internal/report"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print analysis results",
	}
	dateFlag := addDateFlag(cmd)
	formatFlag := cmd.Flags().String("format", "text", "output format: text or markdown")
	interestingFlag := cmd.Flags().Bool("interesting-only", false, "only opinions whose analysis flagged issues")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		var date *time.Time
		if *dateFlag != "" {
			d, err := parseDateFlag(*dateFlag)
			if err != nil {
				return err
			}
			date = &d
		}
		return writeReport(cmd, date, report.Format(*formatFlag), *interestingFlag)
	}
	return cmd
}

// newDailyReportCmd is the cron-friendly shorthand: today's opinions, in
// markdown, interesting ones only.
func newDailyReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daily-report",
		Short: "Print today's interesting opinions as markdown",
		RunE: func(cmd *cobra.Command, _ []string) error {
			today, _ := parseDateFlag("")
			return writeReport(cmd, &today, report.FormatMarkdown, true)
		},
	}
}

func writeReport(cmd *cobra.Command, date *time.Time, format report.Format, interestingOnly bool) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	rows, err := a.Ledger.AnalyzedOpinions(cmd.Context(), date, interestingOnly)
	if err != nil {
		return err
	}
	return report.Write(cmd.OutOrStdout(), rows, report.Options{
		Format:          format,
		Date:            date,
		InterestingOnly: interestingOnly,
	})
}
