// Package pipeline defines the domain types and contracts for the opinion
// ingestion pipeline. Implementations live in sibling packages
// (ledger/postgres, ledger/memory, fetch, ingest, analysis, runner), which
// keeps the core decoupled from any particular backend.
package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DownloadState tracks where an opinion document is in its download
// lifecycle.
type DownloadState string

const (
	// DownloadPending marks an opinion discovered but not yet fetched.
	DownloadPending DownloadState = "pending"
	// Downloaded marks an opinion whose artifact was fetched and validated.
	Downloaded DownloadState = "downloaded"
	// DownloadFailed marks an opinion whose fetch exhausted all retries.
	DownloadFailed DownloadState = "failed"
)

// Opinion is a single court-opinion document record. Identity is the
// (SourceID, CaseNumber, OpinionType) tuple; a second discovery of the same
// identity is an idempotent upsert.
type Opinion struct {
	ID                int64
	SourceID          string // e.g. "coa01"
	CaseNumber        string // e.g. "01-23-00751-CR"
	OpinionType       string // "op", "mem", "con", "dis"
	JusticeName       string // set for concurring/dissenting opinions
	PublicationDate   time.Time
	ListingURL        string
	DirectArtifactURL string // optional, filled by backfill
	LocalArtifactPath string
	ContentHash       string
	DownloadState     DownloadState
	DiscoveredAt      time.Time
	DownloadedAt      *time.Time
}

// ArtifactName returns the deterministic artifact file name for the opinion,
// relative to the artifact store root: <YYYYMMDD>/<case>_<type>[_justice].pdf
func (o Opinion) ArtifactName() string {
	name := o.CaseNumber + "_" + o.OpinionType
	if o.JusticeName != "" && (o.OpinionType == "con" || o.OpinionType == "dis") {
		name += "_" + o.JusticeName
	}
	return o.PublicationDate.Format("20060102") + "/" + name + ".pdf"
}

// Analysis is the recorded result of one analysis-engine call for an
// opinion. At most one live Analysis exists per Opinion.
type Analysis struct {
	OpinionID   int64
	EngineModel string
	RawText     string
	IssueCount  int
	Interesting bool
	AnalyzedAt  time.Time
}

// AnalyzedOpinion joins an Opinion with its Analysis for reporting.
type AnalyzedOpinion struct {
	Opinion  Opinion
	Analysis Analysis
}

// Mode selects which stages a run executes.
type Mode string

const (
	ScrapeOnly  Mode = "scrape"
	AnalyzeOnly Mode = "analyze"
	Both        Mode = "both"
)

// Outcome summarizes how a run finished.
type Outcome string

const (
	OutcomeRunning        Outcome = "running"
	OutcomeSuccess        Outcome = "success"
	OutcomePartialFailure Outcome = "partial_failure"
	OutcomeFailure        Outcome = "failure"
)

// RunSummary is the durable record of one invocation. It is created once,
// finalized exactly once, and never mutated after finalize.
type RunSummary struct {
	ID                 string
	Mode               Mode
	StartedAt          time.Time
	FinishedAt         *time.Time
	SourcesChecked     int
	OpinionsDiscovered int
	OpinionsDownloaded int
	OpinionsFailed     int
	AnalysesCompleted  int
	AnalysesFailed     int
	Outcome            Outcome
}

// NewRunID derives a run identifier from the start timestamp. A short uuid
// suffix keeps identity unique if two runs start within the same second.
func NewRunID(startedAt time.Time) string {
	return fmt.Sprintf("%s-%s",
		startedAt.UTC().Format("20060102T150405Z"),
		uuid.NewString()[:8])
}

// SourceResult holds per-source ingestion counts.
type SourceResult struct {
	Discovered int
	Downloaded int
	Failed     int
	Err        error
}

// IngestionStats aggregates ingestion counts across sources.
type IngestionStats struct {
	SourcesChecked int
	Discovered     int
	Downloaded     int
	Failed         int
	PerSource      map[string]SourceResult
	FailedSources  []string
}

// SourceIDs returns the per-source keys in deterministic order.
func (s IngestionStats) SourceIDs() []string {
	ids := make([]string, 0, len(s.PerSource))
	for id := range s.PerSource {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AnalysisStats aggregates analysis batch counts.
type AnalysisStats struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
