// Package backfill repairs opinion records that predate direct document
// URL capture by re-listing their docket pages.
package backfill

import (
	"context"

	"go.uber.org/zap"

	"github.com/markwbennett/PDRbot/internal/ingest"
	"github.com/markwbennett/PDRbot/internal/pipeline"
	"github.com/markwbennett/PDRbot/internal/sources"
)

// Stats summarizes one backfill pass.
type Stats struct {
	Examined int
	Filled   int
	Missing  int
	Listings int
}

// Backfiller fills empty DirectArtifactURL fields from fresh listings.
// Each (source, date) docket page is fetched at most once per pass.
type Backfiller struct {
	ledger  pipeline.Ledger
	adapter sources.Adapter
	pacer   *ingest.Pacer
	logger  *zap.Logger
}

// New constructs a Backfiller.
func New(ledger pipeline.Ledger, adapter sources.Adapter, pacer *ingest.Pacer, logger *zap.Logger) *Backfiller {
	return &Backfiller{ledger: ledger, adapter: adapter, pacer: pacer, logger: logger}
}

type listingKey struct {
	sourceID string
	date     string
}

// Run examines opinions with no direct URL for a source (empty means all),
// whatever their download state, and fills the URL from a fresh listing.
// Strictly additive: records that already carry a URL are left alone.
func (b *Backfiller) Run(ctx context.Context, sourceID string) (Stats, error) {
	var stats Stats

	opinions, err := b.ledger.FindMissingArtifactURL(ctx, sourceID)
	if err != nil {
		return stats, err
	}

	listings := make(map[listingKey][]sources.OpinionRef)
	for _, op := range opinions {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Examined++

		key := listingKey{op.SourceID, op.PublicationDate.Format("2006-01-02")}
		refs, ok := listings[key]
		if !ok {
			if err := b.pacer.Wait(ctx, op.SourceID); err != nil {
				return stats, err
			}
			refs, err = b.adapter.List(ctx, op.SourceID, op.PublicationDate)
			if err != nil {
				b.logger.Warn("Backfill listing failed",
					zap.String("source", op.SourceID),
					zap.String("date", key.date),
					zap.Error(err),
				)
				refs = nil
			}
			listings[key] = refs
			stats.Listings++
		}

		url := matchURL(refs, op)
		if url == "" {
			stats.Missing++
			continue
		}
		if err := b.ledger.BackfillArtifactURL(ctx, op.ID, url); err != nil {
			return stats, err
		}
		stats.Filled++
		b.logger.Info("Backfilled document url",
			zap.String("case", op.CaseNumber),
			zap.String("type", op.OpinionType),
		)
	}
	return stats, nil
}

func matchURL(refs []sources.OpinionRef, op pipeline.Opinion) string {
	for _, ref := range refs {
		if ref.CaseNumber == op.CaseNumber && ref.OpinionType == op.OpinionType {
			return ref.DocumentURL
		}
	}
	return ""
}
