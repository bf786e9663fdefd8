package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent runs",
	}
	limitFlag := cmd.Flags().Int("limit", 10, "number of runs to show")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		a, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		runs, err := a.Ledger.RecentRuns(cmd.Context(), *limitFlag)
		if err != nil {
			return err
		}

		pending, err := a.Ledger.FindUndownloaded(cmd.Context(), "")
		if err != nil {
			return err
		}
		backlog, err := a.Ledger.FindUnanalyzed(cmd.Context(), 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Backlog: %d undownloaded, %d unanalyzed\n\n",
			len(pending), len(backlog))

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tMODE\tOUTCOME\tSTARTED\tDISCOVERED\tDOWNLOADED\tANALYZED\tFAILED")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
				run.ID,
				run.Mode,
				run.Outcome,
				run.StartedAt.Format("2006-01-02 15:04"),
				run.OpinionsDiscovered,
				run.OpinionsDownloaded,
				run.AnalysesCompleted,
				run.OpinionsFailed+run.AnalysesFailed,
			)
		}
		return w.Flush()
	}
	return cmd
}
