// Package sources defines the per-site adapter contract: the capability of
// turning a court's docket listing for one date into structured opinion
// references.
package sources

import (
	"context"
	"time"
)

// OpinionRef is one candidate opinion discovered in a docket listing.
type OpinionRef struct {
	SourceID    string
	CaseNumber  string
	OpinionType string // "op", "mem", "con", "dis"
	JusticeName string
	Date        time.Time
	ListingURL  string
	DocumentURL string
	Description string
}

// Adapter lists the candidate opinions one source published on a date.
// A failed listing surfaces as *pipeline.SourceUnavailableError.
type Adapter interface {
	List(ctx context.Context, sourceID string, date time.Time) ([]OpinionRef, error)
}
