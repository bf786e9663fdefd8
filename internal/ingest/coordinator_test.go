package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markwbennett/PDRbot/internal/fetch"
	ledgermem "github.com/markwbennett/PDRbot/internal/ledger/memory"
	"github.com/markwbennett/PDRbot/internal/pipeline"
	"github.com/markwbennett/PDRbot/internal/sources"
)

type fakeAdapter struct {
	mu     sync.Mutex
	refs   map[string][]sources.OpinionRef
	errs   map[string]error
	listed []string
}

func (f *fakeAdapter) List(_ context.Context, sourceID string, _ time.Time) ([]sources.OpinionRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed = append(f.listed, sourceID)
	if err := f.errs[sourceID]; err != nil {
		return nil, err
	}
	return f.refs[sourceID], nil
}

type fakeDownloader struct {
	mu      sync.Mutex
	fetched []string
	failFor map[string]bool
}

func (f *fakeDownloader) Fetch(_ context.Context, url string, _ fetch.Kind, name string) (fetch.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	if f.failFor[url] {
		return fetch.Artifact{}, &pipeline.DownloadExhaustedError{URL: url, Attempts: 3, Err: errors.New("503")}
	}
	return fetch.Artifact{Name: name, URI: "mem://" + name, Hash: "abc", Size: 10}, nil
}

func ref(sourceID, caseNumber, opinionType string) sources.OpinionRef {
	return sources.OpinionRef{
		SourceID:    sourceID,
		CaseNumber:  caseNumber,
		OpinionType: opinionType,
		Date:        time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		ListingURL:  "https://listing/" + sourceID,
		DocumentURL: "https://doc/" + sourceID + "/" + caseNumber + "/" + opinionType,
	}
}

func newCoordinator(ledger pipeline.Ledger, adapter sources.Adapter, dl Downloader) *Coordinator {
	return New(ledger, adapter, dl, NewPacer(0), 0, nil, zap.NewNop())
}

func TestIngestCountsAndStates(t *testing.T) {
	t.Parallel()
	ledger := ledgermem.New(nil)
	adapter := &fakeAdapter{refs: map[string][]sources.OpinionRef{
		"coa01": {
			ref("coa01", "01-23-00751-CR", "op"),
			ref("coa01", "01-23-00751-CR", "dis"),
		},
	}}
	dl := &fakeDownloader{failFor: map[string]bool{
		"https://doc/coa01/01-23-00751-CR/dis": true,
	}}
	c := newCoordinator(ledger, adapter, dl)

	stats, err := c.Ingest(context.Background(), []string{"coa01"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, stats.SourcesChecked)
	require.Equal(t, 2, stats.Discovered)
	require.Equal(t, 1, stats.Downloaded)
	require.Equal(t, 1, stats.Failed)

	// The failed opinion stays retryable.
	pending, err := ledger.FindUndownloaded(context.Background(), "coa01")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, pipeline.DownloadFailed, pending[0].DownloadState)
	require.Equal(t, "dis", pending[0].OpinionType)
}

func TestIngestSecondRunSkipsDownloadedWithoutNetwork(t *testing.T) {
	t.Parallel()
	ledger := ledgermem.New(nil)
	adapter := &fakeAdapter{refs: map[string][]sources.OpinionRef{
		"coa01": {ref("coa01", "01-23-00751-CR", "op")},
	}}
	dl := &fakeDownloader{}
	c := newCoordinator(ledger, adapter, dl)

	_, err := c.Ingest(context.Background(), []string{"coa01"}, time.Now())
	require.NoError(t, err)
	require.Len(t, dl.fetched, 1)

	stats, err := c.Ingest(context.Background(), []string{"coa01"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Discovered, "re-discovery still counts the candidate")
	require.Equal(t, 0, stats.Downloaded)
	require.Equal(t, 0, stats.Failed)
	require.Len(t, dl.fetched, 1, "already-downloaded opinion must not be fetched again")
}

func TestIngestFailedSourceIsIsolated(t *testing.T) {
	t.Parallel()
	ledger := ledgermem.New(nil)
	adapter := &fakeAdapter{
		refs: map[string][]sources.OpinionRef{
			"coa02": {ref("coa02", "02-23-00001-CR", "op")},
		},
		errs: map[string]error{
			"coa01": &pipeline.SourceUnavailableError{SourceID: "coa01", Err: errors.New("timeout")},
		},
	}
	dl := &fakeDownloader{}
	c := newCoordinator(ledger, adapter, dl)

	stats, err := c.Ingest(context.Background(), []string{"coa02", "coa01"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, 2, stats.SourcesChecked)
	require.Equal(t, []string{"coa01"}, stats.FailedSources)
	require.Equal(t, 1, stats.Downloaded, "healthy source must still be processed")
	require.Equal(t, []string{"coa01", "coa02"}, adapter.listed, "sources are visited in sorted order")
}

func TestIngestRetriesPreviouslyFailedDownload(t *testing.T) {
	t.Parallel()
	ledger := ledgermem.New(nil)
	url := "https://doc/coa01/01-23-00751-CR/op"
	adapter := &fakeAdapter{refs: map[string][]sources.OpinionRef{
		"coa01": {ref("coa01", "01-23-00751-CR", "op")},
	}}
	dl := &fakeDownloader{failFor: map[string]bool{url: true}}
	c := newCoordinator(ledger, adapter, dl)

	stats, err := c.Ingest(context.Background(), []string{"coa01"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)

	// Next run the server has recovered; the failed record is retried.
	dl.mu.Lock()
	dl.failFor = nil
	dl.mu.Unlock()

	stats, err = c.Ingest(context.Background(), []string{"coa01"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Downloaded)

	pending, err := ledger.FindUndownloaded(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestIngestStopsOnCancellation(t *testing.T) {
	t.Parallel()
	ledger := ledgermem.New(nil)
	adapter := &fakeAdapter{refs: map[string][]sources.OpinionRef{
		"coa01": {ref("coa01", "01-23-00751-CR", "op")},
	}}
	c := newCoordinator(ledger, adapter, &fakeDownloader{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Ingest(ctx, []string{"coa01"}, time.Now())
	require.ErrorIs(t, err, context.Canceled)
}

func TestPacerFirstRequestPassesImmediately(t *testing.T) {
	t.Parallel()
	p := NewPacer(time.Second)

	start := time.Now()
	require.NoError(t, p.Wait(context.Background(), "coa01"))
	require.Less(t, time.Since(start), 500*time.Millisecond)

	// A different source has its own bucket.
	start = time.Now()
	require.NoError(t, p.Wait(context.Background(), "coa02"))
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPacerSpacesRepeatRequests(t *testing.T) {
	t.Parallel()
	p := NewPacer(100 * time.Millisecond)

	require.NoError(t, p.Wait(context.Background(), "coa01"))
	start := time.Now()
	require.NoError(t, p.Wait(context.Background(), "coa01"))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPacerDisabledInterval(t *testing.T) {
	t.Parallel()
	p := NewPacer(0)
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Wait(context.Background(), "coa01"))
	}
}
