// Package analysis drives the engine over the backlog of downloaded,
// unanalyzed opinions.
package analysis

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/markwbennett/PDRbot/internal/artifacts"
	"github.com/markwbennett/PDRbot/internal/engine"
	"github.com/markwbennett/PDRbot/internal/pipeline"
	"github.com/markwbennett/PDRbot/internal/telemetry"
)

const issueMarker = "▪ Issue Description:"

// Driver runs analyses one opinion at a time, oldest first, recording each
// result before moving on.
type Driver struct {
	ledger pipeline.Ledger
	store  artifacts.Store
	engine engine.Engine
	prompt string
	delay  time.Duration
	clock  pipeline.Clock
	logger *zap.Logger
}

// New constructs a Driver. delay is the pause between consecutive engine
// calls.
func New(
	ledger pipeline.Ledger,
	store artifacts.Store,
	eng engine.Engine,
	prompt string,
	delay time.Duration,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Driver {
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	return &Driver{
		ledger: ledger,
		store:  store,
		engine: eng,
		prompt: prompt,
		delay:  delay,
		clock:  clock,
		logger: logger,
	}
}

// AnalyzeBatch analyzes up to limit unanalyzed opinions (limit <= 0 means
// the whole backlog). A failed opinion is logged and skipped; its record
// stays unanalyzed for the next batch. Only ledger failures and context
// cancellation abort the batch.
func (d *Driver) AnalyzeBatch(ctx context.Context, limit int) (pipeline.AnalysisStats, error) {
	var stats pipeline.AnalysisStats

	backlog, err := d.ledger.FindUnanalyzed(ctx, limit)
	if err != nil {
		return stats, err
	}
	d.logger.Info("Analysis batch starting", zap.Int("backlog", len(backlog)))

	for i, op := range backlog {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Attempted++
		if err := d.analyzeOne(ctx, op); err != nil {
			if _, ok := err.(*pipeline.PersistenceError); ok {
				return stats, err
			}
			stats.Failed++
			telemetry.AnalysesTotal.WithLabelValues("failed").Inc()
			d.logger.Error("Analysis failed",
				zap.String("case", op.CaseNumber),
				zap.String("type", op.OpinionType),
				zap.Error(err),
			)
		} else {
			stats.Succeeded++
			telemetry.AnalysesTotal.WithLabelValues("succeeded").Inc()
		}

		if i < len(backlog)-1 {
			if err := pipeline.Sleep(ctx, d.delay); err != nil {
				return stats, err
			}
		}
	}
	return stats, nil
}

func (d *Driver) analyzeOne(ctx context.Context, op pipeline.Opinion) error {
	data, err := d.store.Get(ctx, op.LocalArtifactPath)
	if err != nil {
		return err
	}

	stream, err := d.engine.Analyze(ctx, engine.Document{
		Name:      op.LocalArtifactPath,
		MediaType: "application/pdf",
		Data:      data,
	}, d.prompt)
	if err != nil {
		return err
	}
	text, err := engine.Collect(stream)
	if err != nil {
		return err
	}

	a := pipeline.Analysis{
		OpinionID:   op.ID,
		EngineModel: d.engine.Model(),
		RawText:     text,
		IssueCount:  CountIssues(text),
		Interesting: IsInteresting(text),
		AnalyzedAt:  d.clock.Now(),
	}
	if err := d.ledger.RecordAnalysis(ctx, a); err != nil {
		return err
	}

	d.logger.Info("Opinion analyzed",
		zap.String("case", op.CaseNumber),
		zap.String("type", op.OpinionType),
		zap.Int("issues", a.IssueCount),
		zap.Bool("interesting", a.Interesting),
	)
	return nil
}

// CountIssues counts the issue entries in an analysis by its marker line.
func CountIssues(text string) int {
	return strings.Count(text, issueMarker)
}

// IsInteresting reports whether the analysis flagged anything worth a
// second look. The engine is instructed to write "no interesting issues"
// when it found none.
func IsInteresting(text string) bool {
	return !strings.Contains(strings.ToLower(text), "no interesting issues")
}
