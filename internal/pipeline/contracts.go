package pipeline

import (
	"context"
	"time"
)

// Ledger is the durable record store for opinions, analyses, and run
// summaries, and the sole source of truth for idempotency. Every
// multi-field update to a single record is atomic; all storage failures
// surface as *PersistenceError.
type Ledger interface {
	// UpsertOpinion inserts the opinion or, when its identity tuple already
	// exists, returns the stored record untouched except for backfillable
	// fields (DirectArtifactURL is filled only when previously empty).
	// wasNew reports whether a new record was created. The returned Opinion
	// always reflects the stored state, including its ID and DownloadState.
	UpsertOpinion(ctx context.Context, op Opinion) (Opinion, bool, error)

	// UpdateDownloadState atomically records the download outcome for one
	// opinion, setting state, artifact path, and content hash together.
	UpdateDownloadState(ctx context.Context, id int64, state DownloadState, path, hash string) error

	// FindUndownloaded returns opinions in Pending or DownloadFailed state,
	// in discovery order. An empty sourceID means all sources.
	FindUndownloaded(ctx context.Context, sourceID string) ([]Opinion, error)

	// FindMissingArtifactURL returns opinions whose DirectArtifactURL is
	// empty, regardless of download state, in discovery order. An empty
	// sourceID means all sources.
	FindMissingArtifactURL(ctx context.Context, sourceID string) ([]Opinion, error)

	// FindUnanalyzed returns Downloaded opinions with no Analysis, oldest
	// discovery first. limit <= 0 means no limit.
	FindUnanalyzed(ctx context.Context, limit int) ([]Opinion, error)

	// RecordAnalysis persists an analysis result. Keyed on OpinionID; an
	// operator-forced re-run replaces the prior record.
	RecordAnalysis(ctx context.Context, a Analysis) error

	// BackfillArtifactURL fills DirectArtifactURL on an opinion only when
	// it is currently empty. Strictly additive: never overwrites.
	BackfillArtifactURL(ctx context.Context, id int64, url string) error

	// StartRun creates and persists a new RunSummary in running state.
	StartRun(ctx context.Context, mode Mode) (RunSummary, error)

	// FinalizeRun persists the finished summary. A summary is finalized at
	// most once; later calls for the same run are no-ops.
	FinalizeRun(ctx context.Context, run RunSummary) error

	// RecentRuns returns the most recently started runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]RunSummary, error)

	// AnalyzedOpinions returns analysis results joined with their opinions,
	// interesting cases first. A non-nil date restricts to opinions
	// published that day; interestingOnly drops non-interesting results.
	AnalyzedOpinions(ctx context.Context, date *time.Time, interestingOnly bool) ([]AnalyzedOpinion, error)

	// Close releases storage resources.
	Close()
}
