package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markwbennett/PDRbot/internal/pipeline"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newOpinion(caseNumber, opinionType string) pipeline.Opinion {
	return pipeline.Opinion{
		SourceID:          "coa01",
		CaseNumber:        caseNumber,
		OpinionType:       opinionType,
		PublicationDate:   time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		ListingURL:        "https://search.txcourts.gov/Docket.aspx?coa=coa01",
		DirectArtifactURL: "https://search.txcourts.gov/SearchMedia.aspx?x=1",
	}
}

func TestUpsertIsIdempotentOnIdentity(t *testing.T) {
	t.Parallel()
	store := New(nil)
	ctx := context.Background()

	first, wasNew, err := store.UpsertOpinion(ctx, newOpinion("01-23-00751-CR", "op"))
	require.NoError(t, err)
	require.True(t, wasNew)
	require.Equal(t, pipeline.DownloadPending, first.DownloadState)

	again, wasNew, err := store.UpsertOpinion(ctx, newOpinion("01-23-00751-CR", "op"))
	require.NoError(t, err)
	require.False(t, wasNew)
	require.Equal(t, first.ID, again.ID)

	// A different opinion type on the same case is a distinct record.
	_, wasNew, err = store.UpsertOpinion(ctx, newOpinion("01-23-00751-CR", "dis"))
	require.NoError(t, err)
	require.True(t, wasNew)
}

func TestUpsertBackfillsEmptyURLOnly(t *testing.T) {
	t.Parallel()
	store := New(nil)
	ctx := context.Background()

	op := newOpinion("01-23-00751-CR", "op")
	op.DirectArtifactURL = ""
	stored, _, err := store.UpsertOpinion(ctx, op)
	require.NoError(t, err)
	require.Empty(t, stored.DirectArtifactURL)

	op.DirectArtifactURL = "https://example.test/doc.pdf"
	stored, wasNew, err := store.UpsertOpinion(ctx, op)
	require.NoError(t, err)
	require.False(t, wasNew)
	require.Equal(t, "https://example.test/doc.pdf", stored.DirectArtifactURL)

	// A later upsert with a different URL never overwrites.
	op.DirectArtifactURL = "https://example.test/other.pdf"
	stored, _, err = store.UpsertOpinion(ctx, op)
	require.NoError(t, err)
	require.Equal(t, "https://example.test/doc.pdf", stored.DirectArtifactURL)
}

func TestUpdateDownloadStateSetsTimestamp(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)}
	store := New(clock)
	ctx := context.Background()

	stored, _, err := store.UpsertOpinion(ctx, newOpinion("01-23-00751-CR", "op"))
	require.NoError(t, err)

	require.NoError(t, store.UpdateDownloadState(ctx, stored.ID, pipeline.Downloaded, "20250314/a.pdf", "deadbeef"))
	undownloaded, err := store.FindUndownloaded(ctx, "")
	require.NoError(t, err)
	require.Empty(t, undownloaded)

	backlog, err := store.FindUnanalyzed(ctx, 0)
	require.NoError(t, err)
	require.Len(t, backlog, 1)
	require.Equal(t, "20250314/a.pdf", backlog[0].LocalArtifactPath)
	require.NotNil(t, backlog[0].DownloadedAt)
	require.Equal(t, clock.now, *backlog[0].DownloadedAt)
}

func TestFindUndownloadedIncludesFailed(t *testing.T) {
	t.Parallel()
	store := New(nil)
	ctx := context.Background()

	a, _, err := store.UpsertOpinion(ctx, newOpinion("01-23-00751-CR", "op"))
	require.NoError(t, err)
	b, _, err := store.UpsertOpinion(ctx, newOpinion("01-23-00752-CR", "op"))
	require.NoError(t, err)

	require.NoError(t, store.UpdateDownloadState(ctx, a.ID, pipeline.DownloadFailed, "", ""))
	require.NoError(t, store.UpdateDownloadState(ctx, b.ID, pipeline.Downloaded, "x.pdf", "h"))

	got, err := store.FindUndownloaded(ctx, "coa01")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, a.ID, got[0].ID)
}

func TestFindMissingArtifactURLIgnoresDownloadState(t *testing.T) {
	t.Parallel()
	store := New(nil)
	ctx := context.Background()

	withURL, _, err := store.UpsertOpinion(ctx, newOpinion("01-23-00751-CR", "op"))
	require.NoError(t, err)

	missing := newOpinion("01-23-00752-CR", "op")
	missing.DirectArtifactURL = ""
	downloaded, _, err := store.UpsertOpinion(ctx, missing)
	require.NoError(t, err)
	require.NoError(t, store.UpdateDownloadState(ctx, downloaded.ID, pipeline.Downloaded, "x.pdf", "h"))

	other := newOpinion("02-23-00001-CR", "op")
	other.SourceID = "coa02"
	other.DirectArtifactURL = ""
	_, _, err = store.UpsertOpinion(ctx, other)
	require.NoError(t, err)

	got, err := store.FindMissingArtifactURL(ctx, "coa01")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, downloaded.ID, got[0].ID, "a downloaded record with no url is still returned")
	require.NotEqual(t, withURL.ID, got[0].ID)

	all, err := store.FindMissingArtifactURL(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestFindUnanalyzedOldestFirstWithLimit(t *testing.T) {
	t.Parallel()
	store := New(nil)
	ctx := context.Background()

	var ids []int64
	for _, cn := range []string{"01-23-00001-CR", "01-23-00002-CR", "01-23-00003-CR"} {
		op, _, err := store.UpsertOpinion(ctx, newOpinion(cn, "op"))
		require.NoError(t, err)
		require.NoError(t, store.UpdateDownloadState(ctx, op.ID, pipeline.Downloaded, cn+".pdf", "h"))
		ids = append(ids, op.ID)
	}
	require.NoError(t, store.RecordAnalysis(ctx, pipeline.Analysis{OpinionID: ids[0], RawText: "done"}))

	backlog, err := store.FindUnanalyzed(ctx, 1)
	require.NoError(t, err)
	require.Len(t, backlog, 1)
	require.Equal(t, ids[1], backlog[0].ID, "oldest unanalyzed first")
}

func TestBackfillArtifactURLIsAdditive(t *testing.T) {
	t.Parallel()
	store := New(nil)
	ctx := context.Background()

	op := newOpinion("01-23-00751-CR", "op")
	op.DirectArtifactURL = ""
	stored, _, err := store.UpsertOpinion(ctx, op)
	require.NoError(t, err)

	require.NoError(t, store.BackfillArtifactURL(ctx, stored.ID, "https://example.test/a.pdf"))
	require.NoError(t, store.BackfillArtifactURL(ctx, stored.ID, "https://example.test/b.pdf"))

	got, err := store.FindUndownloaded(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "https://example.test/a.pdf", got[0].DirectArtifactURL)
}

func TestFinalizeRunHappensAtMostOnce(t *testing.T) {
	t.Parallel()
	store := New(nil)
	ctx := context.Background()

	run, err := store.StartRun(ctx, pipeline.Both)
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeRunning, run.Outcome)

	finished := time.Now()
	run.FinishedAt = &finished
	run.Outcome = pipeline.OutcomeSuccess
	run.OpinionsDownloaded = 3
	require.NoError(t, store.FinalizeRun(ctx, run))

	// A second finalize with different numbers is a no-op.
	run.Outcome = pipeline.OutcomeFailure
	run.OpinionsDownloaded = 99
	require.NoError(t, store.FinalizeRun(ctx, run))

	runs, err := store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, pipeline.OutcomeSuccess, runs[0].Outcome)
	require.Equal(t, 3, runs[0].OpinionsDownloaded)
}

func TestRecentRunsNewestFirst(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)}
	store := New(clock)
	ctx := context.Background()

	first, err := store.StartRun(ctx, pipeline.ScrapeOnly)
	require.NoError(t, err)
	clock.now = clock.now.Add(time.Hour)
	second, err := store.StartRun(ctx, pipeline.AnalyzeOnly)
	require.NoError(t, err)

	runs, err := store.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, second.ID, runs[0].ID)

	runs, err = store.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{second.ID, first.ID}, []string{runs[0].ID, runs[1].ID})
}

func TestAnalyzedOpinionsInterestingFirstAndFiltered(t *testing.T) {
	t.Parallel()
	store := New(nil)
	ctx := context.Background()

	boring, _, err := store.UpsertOpinion(ctx, newOpinion("01-23-00001-CR", "op"))
	require.NoError(t, err)
	hot, _, err := store.UpsertOpinion(ctx, newOpinion("01-23-00002-CR", "op"))
	require.NoError(t, err)

	otherDay := newOpinion("01-23-00003-CR", "op")
	otherDay.PublicationDate = otherDay.PublicationDate.AddDate(0, 0, 1)
	other, _, err := store.UpsertOpinion(ctx, otherDay)
	require.NoError(t, err)

	for _, id := range []int64{boring.ID, hot.ID, other.ID} {
		require.NoError(t, store.UpdateDownloadState(ctx, id, pipeline.Downloaded, "a.pdf", "h"))
	}
	require.NoError(t, store.RecordAnalysis(ctx, pipeline.Analysis{OpinionID: boring.ID, Interesting: false}))
	require.NoError(t, store.RecordAnalysis(ctx, pipeline.Analysis{OpinionID: hot.ID, Interesting: true, IssueCount: 2}))
	require.NoError(t, store.RecordAnalysis(ctx, pipeline.Analysis{OpinionID: other.ID, Interesting: true}))

	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	rows, err := store.AnalyzedOpinions(ctx, &day, false)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, hot.ID, rows[0].Opinion.ID, "interesting opinions sort first")

	rows, err = store.AnalyzedOpinions(ctx, &day, true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, hot.ID, rows[0].Opinion.ID)
}
