package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/markwbennett/PDRbot/internal/api"
	"github.com/markwbennett/PDRbot/internal/pipeline"
	"github.com/markwbennett/PDRbot/internal/runner"
)

const dateFlagLayout = "2006-01-02"

func addDateFlag(cmd *cobra.Command) *string {
	return cmd.Flags().String("date", "", "publication date to check (YYYY-MM-DD, default today)")
}

func parseDateFlag(raw string) (time.Time, error) {
	if raw == "" {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	d, err := time.Parse(dateFlagLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", raw)
	}
	return d, nil
}

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Discover and download today's criminal opinions",
		Long: `Checks each enabled court's docket page for criminal causes decided on
the given date, downloads every opinion PDF not already on hand, and
records the results in the ledger. Analysis is not run.`,
	}
	dateFlag := addDateFlag(cmd)
	sourcesFlag := cmd.Flags().StringSlice("sources", nil, "restrict to these source ids (default all enabled)")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return executeRun(cmd, pipeline.ScrapeOnly, *dateFlag, *sourcesFlag, 0)
	}
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze downloaded opinions that have no analysis yet",
	}
	limitFlag := cmd.Flags().Int("limit", 0, "max opinions to analyze this run (0 = whole backlog)")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return executeRun(cmd, pipeline.AnalyzeOnly, "", nil, *limitFlag)
	}
	return cmd
}

func newBothCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "both",
		Short: "Scrape and then analyze in one run",
	}
	dateFlag := addDateFlag(cmd)
	sourcesFlag := cmd.Flags().StringSlice("sources", nil, "restrict to these source ids (default all enabled)")
	limitFlag := cmd.Flags().Int("limit", 0, "max opinions to analyze this run (0 = whole backlog)")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return executeRun(cmd, pipeline.Both, *dateFlag, *sourcesFlag, *limitFlag)
	}
	return cmd
}

func executeRun(cmd *cobra.Command, mode pipeline.Mode, rawDate string, sourceIDs []string, limit int) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	date, err := parseDateFlag(rawDate)
	if err != nil {
		return err
	}
	if len(sourceIDs) == 0 {
		sourceIDs = a.Cfg.Sources.Enabled
	}
	if limit == 0 {
		limit = a.Cfg.Analysis.BatchDefault
	}

	run, err := a.Runner.Run(cmd.Context(), runner.Params{
		Mode:       mode,
		SourceIDs:  sourceIDs,
		Date:       date,
		BatchLimit: limit,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if run.Outcome != pipeline.OutcomeSuccess {
		return fmt.Errorf("run %s finished with outcome %s", run.ID, run.Outcome)
	}
	return nil
}

func newAutoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Run scrape-and-analyze on a schedule until interrupted",
		Long: `Runs the full pipeline for the current date immediately, then again on
every interval tick. Re-runs are cheap: opinions already downloaded are
skipped without touching the network. When the status server is enabled
it is served for the life of the process.`,
	}
	intervalFlag := cmd.Flags().Duration("interval", time.Hour, "time between pipeline runs")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return runAuto(cmd, *intervalFlag)
	}
	return cmd
}

func runAuto(cmd *cobra.Command, interval time.Duration) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if a.Cfg.Server.Enabled {
		srv := &http.Server{
			Addr:    a.Cfg.Server.Addr,
			Handler: api.NewServer(a.Ledger, a.Logger).Handler(),
		}
		go func() {
			a.Logger.Info("Status server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("Status server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		date, _ := parseDateFlag("")
		run, err := a.Runner.Run(ctx, runner.Params{
			Mode:       pipeline.Both,
			SourceIDs:  a.Cfg.Sources.Enabled,
			Date:       date,
			BatchLimit: a.Cfg.Analysis.BatchDefault,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error("Scheduled run failed",
				zap.String("run", run.ID), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			a.Logger.Info("Shutting down")
			return nil
		case <-ticker.C:
		}
	}
}
