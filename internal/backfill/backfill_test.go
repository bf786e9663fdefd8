package backfill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markwbennett/PDRbot/internal/ingest"
	ledgermem "github.com/markwbennett/PDRbot/internal/ledger/memory"
	"github.com/markwbennett/PDRbot/internal/pipeline"
	"github.com/markwbennett/PDRbot/internal/sources"
)

type fakeAdapter struct {
	mu    sync.Mutex
	refs  map[string][]sources.OpinionRef
	err   error
	lists int
}

func (f *fakeAdapter) List(_ context.Context, sourceID string, _ time.Time) ([]sources.OpinionRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.err != nil {
		return nil, f.err
	}
	return f.refs[sourceID], nil
}

func seedPending(t *testing.T, ledger *ledgermem.Store, sourceID, caseNumber, opinionType, url string) pipeline.Opinion {
	t.Helper()
	op, _, err := ledger.UpsertOpinion(context.Background(), pipeline.Opinion{
		SourceID:          sourceID,
		CaseNumber:        caseNumber,
		OpinionType:       opinionType,
		PublicationDate:   time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		DirectArtifactURL: url,
	})
	require.NoError(t, err)
	return op
}

func TestBackfillFillsMissingURLs(t *testing.T) {
	t.Parallel()
	ledger := ledgermem.New(nil)
	seedPending(t, ledger, "coa01", "01-23-00001-CR", "op", "")
	seedPending(t, ledger, "coa01", "01-23-00002-CR", "op", "")
	withURL := seedPending(t, ledger, "coa01", "01-23-00003-CR", "op", "https://doc/already")

	adapter := &fakeAdapter{refs: map[string][]sources.OpinionRef{
		"coa01": {
			{SourceID: "coa01", CaseNumber: "01-23-00001-CR", OpinionType: "op", DocumentURL: "https://doc/1"},
			{SourceID: "coa01", CaseNumber: "01-23-00002-CR", OpinionType: "op", DocumentURL: "https://doc/2"},
		},
	}}
	b := New(ledger, adapter, ingest.NewPacer(0), zap.NewNop())

	stats, err := b.Run(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 2, stats.Examined, "records with a url are not examined")
	require.Equal(t, 2, stats.Filled)
	require.Equal(t, 0, stats.Missing)
	require.Equal(t, 1, stats.Listings, "one shared (source, date) listing for both records")

	undownloaded, err := ledger.FindUndownloaded(context.Background(), "")
	require.NoError(t, err)
	for _, op := range undownloaded {
		require.NotEmpty(t, op.DirectArtifactURL)
	}
	require.Equal(t, "https://doc/already", withURL.DirectArtifactURL)
	require.EqualValues(t, 1, adapter.lists)
}

func TestBackfillExaminesDownloadedRecords(t *testing.T) {
	t.Parallel()
	ledger := ledgermem.New(nil)
	op := seedPending(t, ledger, "coa01", "01-23-00001-CR", "op", "")
	require.NoError(t, ledger.UpdateDownloadState(context.Background(), op.ID, pipeline.Downloaded, "20250314/a.pdf", "h"))

	adapter := &fakeAdapter{refs: map[string][]sources.OpinionRef{
		"coa01": {{SourceID: "coa01", CaseNumber: "01-23-00001-CR", OpinionType: "op", DocumentURL: "https://doc/1"}},
	}}
	b := New(ledger, adapter, ingest.NewPacer(0), zap.NewNop())

	stats, err := b.Run(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Examined, "a downloaded record with no url is still a candidate")
	require.Equal(t, 1, stats.Filled)

	remaining, err := ledger.FindMissingArtifactURL(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestBackfillCountsUnmatchedAsMissing(t *testing.T) {
	t.Parallel()
	ledger := ledgermem.New(nil)
	seedPending(t, ledger, "coa01", "01-23-00001-CR", "op", "")

	adapter := &fakeAdapter{refs: map[string][]sources.OpinionRef{
		"coa01": {{SourceID: "coa01", CaseNumber: "01-23-09999-CR", OpinionType: "op", DocumentURL: "https://doc/x"}},
	}}
	b := New(ledger, adapter, ingest.NewPacer(0), zap.NewNop())

	stats, err := b.Run(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Missing)
	require.Equal(t, 0, stats.Filled)
}

func TestBackfillListingFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	ledger := ledgermem.New(nil)
	seedPending(t, ledger, "coa01", "01-23-00001-CR", "op", "")

	adapter := &fakeAdapter{err: errors.New("listing down")}
	b := New(ledger, adapter, ingest.NewPacer(0), zap.NewNop())

	stats, err := b.Run(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Missing)
}

func TestBackfillRestrictsToSource(t *testing.T) {
	t.Parallel()
	ledger := ledgermem.New(nil)
	seedPending(t, ledger, "coa01", "01-23-00001-CR", "op", "")
	seedPending(t, ledger, "coa02", "02-23-00001-CR", "op", "")

	adapter := &fakeAdapter{refs: map[string][]sources.OpinionRef{
		"coa02": {{SourceID: "coa02", CaseNumber: "02-23-00001-CR", OpinionType: "op", DocumentURL: "https://doc/2"}},
	}}
	b := New(ledger, adapter, ingest.NewPacer(0), zap.NewNop())

	stats, err := b.Run(context.Background(), "coa02")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Examined)
	require.Equal(t, 1, stats.Filled)
}
