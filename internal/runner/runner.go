// Package runner wraps the ingestion and analysis stages in a recorded,
// always-finalized run.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/markwbennett/PDRbot/internal/analysis"
	"github.com/markwbennett/PDRbot/internal/ingest"
	"github.com/markwbennett/PDRbot/internal/notify"
	"github.com/markwbennett/PDRbot/internal/pipeline"
)

// Params selects what a run does.
type Params struct {
	Mode      pipeline.Mode
	SourceIDs []string
	Date      time.Time
	// BatchLimit caps the analysis backlog taken this run; <= 0 means all.
	BatchLimit int
}

// Runner coordinates one invocation end to end: start the run record,
// execute the selected stages, derive the outcome, finalize, notify.
type Runner struct {
	ledger   pipeline.Ledger
	ingestor *ingest.Coordinator
	analyzer *analysis.Driver
	notifier notify.Notifier
	clock    pipeline.Clock
	logger   *zap.Logger
}

// New constructs a Runner.
func New(
	ledger pipeline.Ledger,
	ingestor *ingest.Coordinator,
	analyzer *analysis.Driver,
	notifier notify.Notifier,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Runner {
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Runner{
		ledger:   ledger,
		ingestor: ingestor,
		analyzer: analyzer,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}
}

// Run executes one run and returns its finalized summary. The run record
// is finalized exactly once even when a stage panics or the context is
// cancelled mid-run.
func (r *Runner) Run(ctx context.Context, params Params) (pipeline.RunSummary, error) {
	run, err := r.ledger.StartRun(ctx, params.Mode)
	if err != nil {
		return pipeline.RunSummary{}, err
	}
	r.logger.Info("Run started",
		zap.String("run", run.ID),
		zap.String("mode", string(params.Mode)),
	)

	var (
		fatalErr  error
		finalized bool
	)
	finalize := func() {
		if finalized {
			return
		}
		finalized = true

		now := r.clock.Now()
		run.FinishedAt = &now
		if run.Outcome == "" || run.Outcome == pipeline.OutcomeRunning {
			run.Outcome = pipeline.OutcomeFailure
		}
		// Finalization must not be lost to the cancellation that ended the
		// run, so it gets its own short deadline.
		finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := r.ledger.FinalizeRun(finCtx, run); err != nil {
			r.logger.Error("Run finalize failed", zap.String("run", run.ID), zap.Error(err))
		}
	}
	defer finalize()

	if params.Mode == pipeline.ScrapeOnly || params.Mode == pipeline.Both {
		stats, err := r.ingestor.Ingest(ctx, params.SourceIDs, params.Date)
		run.SourcesChecked = stats.SourcesChecked
		run.OpinionsDiscovered = stats.Discovered
		run.OpinionsDownloaded = stats.Downloaded
		run.OpinionsFailed = stats.Failed + len(stats.FailedSources)
		for _, id := range stats.SourceIDs() {
			sr := stats.PerSource[id]
			if sr.Err != nil {
				r.logger.Warn("Source failed",
					zap.String("run", run.ID),
					zap.String("source", id),
					zap.Error(sr.Err),
				)
				continue
			}
			r.logger.Info("Source ingested",
				zap.String("run", run.ID),
				zap.String("source", id),
				zap.Int("discovered", sr.Discovered),
				zap.Int("downloaded", sr.Downloaded),
				zap.Int("failed", sr.Failed),
			)
		}
		if err != nil {
			fatalErr = fmt.Errorf("ingestion: %w", err)
		}
	}

	if fatalErr == nil && (params.Mode == pipeline.AnalyzeOnly || params.Mode == pipeline.Both) {
		stats, err := r.analyzer.AnalyzeBatch(ctx, params.BatchLimit)
		run.AnalysesCompleted = stats.Succeeded
		run.AnalysesFailed = stats.Failed
		if err != nil {
			fatalErr = fmt.Errorf("analysis: %w", err)
		}
	}

	run.Outcome = deriveOutcome(run, fatalErr)
	finalize()

	if err := r.notifier.Publish(ctx, notify.Event{
		RunID:      run.ID,
		Mode:       run.Mode,
		Outcome:    run.Outcome,
		Discovered: run.OpinionsDiscovered,
		Downloaded: run.OpinionsDownloaded,
		Analyzed:   run.AnalysesCompleted,
		Failed:     run.OpinionsFailed,
	}); err != nil {
		r.logger.Warn("Run notification failed", zap.String("run", run.ID), zap.Error(err))
	}

	r.logger.Info("Run finished",
		zap.String("run", run.ID),
		zap.String("outcome", string(run.Outcome)),
		zap.Int("discovered", run.OpinionsDiscovered),
		zap.Int("downloaded", run.OpinionsDownloaded),
		zap.Int("analyzed", run.AnalysesCompleted),
	)
	return run, fatalErr
}

// deriveOutcome classifies a finished run. A fatal stage error is a
// failure; item-level failures alongside successes are a partial failure;
// failures with nothing accomplished are a failure.
func deriveOutcome(run pipeline.RunSummary, fatalErr error) pipeline.Outcome {
	if fatalErr != nil {
		return pipeline.OutcomeFailure
	}
	failures := run.OpinionsFailed + run.AnalysesFailed
	if failures == 0 {
		return pipeline.OutcomeSuccess
	}
	if run.OpinionsDownloaded == 0 && run.AnalysesCompleted == 0 {
		return pipeline.OutcomeFailure
	}
	return pipeline.OutcomePartialFailure
}
