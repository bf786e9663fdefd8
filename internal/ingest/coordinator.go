// Package ingest drives the discover, dedupe, download, record sequence
// per source and date.
package ingest

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/markwbennett/PDRbot/internal/fetch"
	"github.com/markwbennett/PDRbot/internal/pipeline"
	"github.com/markwbennett/PDRbot/internal/sources"
	"github.com/markwbennett/PDRbot/internal/telemetry"
)

// Downloader is the slice of the download manager the coordinator needs.
type Downloader interface {
	Fetch(ctx context.Context, url string, kind fetch.Kind, name string) (fetch.Artifact, error)
}

// Coordinator runs ingestion for a set of sources on one date. Sources are
// processed in deterministic order; a source's total failure never aborts
// the remaining sources.
type Coordinator struct {
	ledger      pipeline.Ledger
	adapter     sources.Adapter
	downloader  Downloader
	pacer       *Pacer
	sourceDelay time.Duration
	clock       pipeline.Clock
	logger      *zap.Logger
}

// New constructs a Coordinator.
func New(
	ledger pipeline.Ledger,
	adapter sources.Adapter,
	downloader Downloader,
	pacer *Pacer,
	sourceDelay time.Duration,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Coordinator {
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	return &Coordinator{
		ledger:      ledger,
		adapter:     adapter,
		downloader:  downloader,
		pacer:       pacer,
		sourceDelay: sourceDelay,
		clock:       clock,
		logger:      logger,
	}
}

// Ingest lists, dedupes, and downloads the opinions each source published
// on date. Per-item and per-source failures become statistics; only a
// ledger failure (or context cancellation) returns a non-nil error and
// aborts the remaining work.
func (c *Coordinator) Ingest(ctx context.Context, sourceIDs []string, date time.Time) (pipeline.IngestionStats, error) {
	stats := pipeline.IngestionStats{PerSource: make(map[string]pipeline.SourceResult)}

	ordered := append([]string(nil), sourceIDs...)
	sort.Strings(ordered)

	for i, sourceID := range ordered {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		result, err := c.ingestSource(ctx, sourceID, date)
		stats.SourcesChecked++
		stats.PerSource[sourceID] = result
		stats.Discovered += result.Discovered
		stats.Downloaded += result.Downloaded
		stats.Failed += result.Failed
		if result.Err != nil {
			stats.FailedSources = append(stats.FailedSources, sourceID)
		}
		if err != nil {
			// Ledger failure: the record in doubt is unwritten, abort.
			return stats, err
		}

		if i < len(ordered)-1 {
			if err := pipeline.Sleep(ctx, c.sourceDelay); err != nil {
				return stats, err
			}
		}
	}
	return stats, nil
}

// ingestSource processes one source. The returned error is non-nil only
// for ledger failures; listing and download failures are folded into the
// SourceResult.
func (c *Coordinator) ingestSource(ctx context.Context, sourceID string, date time.Time) (pipeline.SourceResult, error) {
	var result pipeline.SourceResult

	c.logger.Info("Listing source",
		zap.String("source", sourceID),
		zap.String("date", date.Format("2006-01-02")),
	)
	refs, err := c.adapter.List(ctx, sourceID, date)
	if err != nil {
		c.logger.Error("Source listing failed", zap.String("source", sourceID), zap.Error(err))
		result.Err = err
		return result, nil
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		op := pipeline.Opinion{
			SourceID:          ref.SourceID,
			CaseNumber:        ref.CaseNumber,
			OpinionType:       ref.OpinionType,
			JusticeName:       ref.JusticeName,
			PublicationDate:   ref.Date,
			ListingURL:        ref.ListingURL,
			DirectArtifactURL: ref.DocumentURL,
			DiscoveredAt:      c.clock.Now(),
		}
		stored, wasNew, err := c.ledger.UpsertOpinion(ctx, op)
		if err != nil {
			return result, err
		}
		result.Discovered++

		// Already fetched in a prior run: idempotent skip, no network call.
		if !wasNew && stored.DownloadState == pipeline.Downloaded {
			continue
		}

		if err := c.pacer.Wait(ctx, sourceID); err != nil {
			return result, err
		}
		downloaded, err := c.downloadOne(ctx, stored, ref.DocumentURL)
		if err != nil {
			return result, err
		}
		if downloaded {
			result.Downloaded++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

// downloadOne fetches one opinion document and records the outcome. Only a
// ledger write failure is returned; download exhaustion is recorded as
// DownloadFailed and reported through the bool so the caller moves on.
func (c *Coordinator) downloadOne(ctx context.Context, op pipeline.Opinion, docURL string) (bool, error) {
	artifact, err := c.downloader.Fetch(ctx, docURL, fetch.KindPDF, op.ArtifactName())
	if err != nil {
		telemetry.DownloadsTotal.WithLabelValues(op.SourceID, "failed").Inc()
		c.logger.Error("Download failed",
			zap.String("source", op.SourceID),
			zap.String("case", op.CaseNumber),
			zap.String("type", op.OpinionType),
			zap.Error(err),
		)
		return false, c.ledger.UpdateDownloadState(ctx, op.ID, pipeline.DownloadFailed, "", "")
	}

	telemetry.DownloadsTotal.WithLabelValues(op.SourceID, "downloaded").Inc()
	c.logger.Info("Downloaded opinion",
		zap.String("source", op.SourceID),
		zap.String("case", op.CaseNumber),
		zap.String("type", op.OpinionType),
		zap.String("hash", artifact.Hash),
		zap.Int("bytes", artifact.Size),
	)
	return true, c.ledger.UpdateDownloadState(ctx, op.ID, pipeline.Downloaded, artifact.Name, artifact.Hash)
}
