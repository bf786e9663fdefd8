// Package postgres provides the Postgres-backed Ledger implementation.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markwbennett/PDRbot/internal/pipeline"
)

// DB is the subset of pgxpool.Pool the store needs. pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements pipeline.Ledger on Postgres. Each contract method is a
// single statement (or a single upsert), so every multi-field update is
// atomic and readers never observe a half-written record.
type Store struct {
	db DB
}

const schema = `
CREATE TABLE IF NOT EXISTS opinions (
	id BIGSERIAL PRIMARY KEY,
	source_id TEXT NOT NULL,
	case_number TEXT NOT NULL,
	opinion_type TEXT NOT NULL,
	justice_name TEXT NOT NULL DEFAULT '',
	publication_date DATE NOT NULL,
	listing_url TEXT NOT NULL DEFAULT '',
	direct_artifact_url TEXT NOT NULL DEFAULT '',
	local_artifact_path TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	download_state TEXT NOT NULL DEFAULT 'pending',
	discovered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	downloaded_at TIMESTAMPTZ,
	UNIQUE (source_id, case_number, opinion_type)
);
CREATE TABLE IF NOT EXISTS analyses (
	opinion_id BIGINT PRIMARY KEY REFERENCES opinions (id),
	engine_model TEXT NOT NULL,
	raw_result TEXT NOT NULL,
	issue_count INT NOT NULL DEFAULT 0,
	interesting BOOLEAN NOT NULL DEFAULT FALSE,
	analyzed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	sources_checked INT NOT NULL DEFAULT 0,
	opinions_discovered INT NOT NULL DEFAULT 0,
	opinions_downloaded INT NOT NULL DEFAULT 0,
	opinions_failed INT NOT NULL DEFAULT 0,
	analyses_completed INT NOT NULL DEFAULT 0,
	analyses_failed INT NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL DEFAULT 'running'
);
`

// New connects a pool for the given DSN and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("ledger.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &Store{db: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB constructs a store from an existing connection (primarily for
// testing). The schema is assumed to exist.
func NewWithDB(db DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &Store{db: db}, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return &pipeline.PersistenceError{Op: "ensure schema", Err: err}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

const upsertOpinionSQL = `
INSERT INTO opinions (
	source_id, case_number, opinion_type, justice_name, publication_date,
	listing_url, direct_artifact_url, download_state, discovered_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
ON CONFLICT (source_id, case_number, opinion_type) DO UPDATE SET
	direct_artifact_url = CASE
		WHEN opinions.direct_artifact_url = '' THEN EXCLUDED.direct_artifact_url
		ELSE opinions.direct_artifact_url
	END
RETURNING id, direct_artifact_url, local_artifact_path, content_hash,
	download_state, discovered_at, downloaded_at, (xmax = 0) AS was_new`

// UpsertOpinion implements pipeline.Ledger. The upsert is keyed on the
// identity tuple; a conflicting write only fills the backfillable
// direct_artifact_url and never resets download state or timestamps.
func (s *Store) UpsertOpinion(ctx context.Context, op pipeline.Opinion) (pipeline.Opinion, bool, error) {
	discoveredAt := op.DiscoveredAt
	if discoveredAt.IsZero() {
		discoveredAt = time.Now().UTC()
	}
	var (
		state  string
		wasNew bool
	)
	row := s.db.QueryRow(ctx, upsertOpinionSQL,
		op.SourceID, op.CaseNumber, op.OpinionType, op.JusticeName,
		op.PublicationDate, op.ListingURL, op.DirectArtifactURL, discoveredAt,
	)
	err := row.Scan(&op.ID, &op.DirectArtifactURL, &op.LocalArtifactPath,
		&op.ContentHash, &state, &op.DiscoveredAt, &op.DownloadedAt, &wasNew)
	if err != nil {
		return pipeline.Opinion{}, false, &pipeline.PersistenceError{Op: "upsert opinion", Err: err}
	}
	op.DownloadState = pipeline.DownloadState(state)
	return op, wasNew, nil
}

const updateDownloadStateSQL = `
UPDATE opinions SET
	download_state = $2,
	local_artifact_path = $3,
	content_hash = $4,
	downloaded_at = CASE WHEN $2 = 'downloaded' THEN now() ELSE downloaded_at END
WHERE id = $1`

// UpdateDownloadState implements pipeline.Ledger.
func (s *Store) UpdateDownloadState(ctx context.Context, id int64, state pipeline.DownloadState, path, hash string) error {
	tag, err := s.db.Exec(ctx, updateDownloadStateSQL, id, string(state), path, hash)
	if err != nil {
		return &pipeline.PersistenceError{Op: "update download state", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &pipeline.PersistenceError{Op: "update download state", Err: fmt.Errorf("opinion %d not found", id)}
	}
	return nil
}

const opinionColumns = `id, source_id, case_number, opinion_type, justice_name,
	publication_date, listing_url, direct_artifact_url, local_artifact_path,
	content_hash, download_state, discovered_at, downloaded_at`

// FindUndownloaded implements pipeline.Ledger.
func (s *Store) FindUndownloaded(ctx context.Context, sourceID string) ([]pipeline.Opinion, error) {
	query := `SELECT ` + opinionColumns + `
FROM opinions WHERE download_state <> 'downloaded'`
	args := []any{}
	if sourceID != "" {
		query += ` AND source_id = $1`
		args = append(args, sourceID)
	}
	query += ` ORDER BY discovered_at, id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, &pipeline.PersistenceError{Op: "find undownloaded", Err: err}
	}
	defer rows.Close()
	return scanOpinions(rows, "find undownloaded")
}

// FindMissingArtifactURL implements pipeline.Ledger. Download state is
// deliberately not filtered: a Downloaded record can still lack the direct
// URL when it predates URL capture.
func (s *Store) FindMissingArtifactURL(ctx context.Context, sourceID string) ([]pipeline.Opinion, error) {
	query := `SELECT ` + opinionColumns + `
FROM opinions WHERE direct_artifact_url = ''`
	args := []any{}
	if sourceID != "" {
		query += ` AND source_id = $1`
		args = append(args, sourceID)
	}
	query += ` ORDER BY discovered_at, id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, &pipeline.PersistenceError{Op: "find missing artifact url", Err: err}
	}
	defer rows.Close()
	return scanOpinions(rows, "find missing artifact url")
}

const findUnanalyzedSQL = `
SELECT ` + opinionColumns + `
FROM opinions o
LEFT JOIN analyses a ON a.opinion_id = o.id
WHERE o.download_state = 'downloaded' AND a.opinion_id IS NULL
ORDER BY o.discovered_at, o.id`

// FindUnanalyzed implements pipeline.Ledger.
func (s *Store) FindUnanalyzed(ctx context.Context, limit int) ([]pipeline.Opinion, error) {
	query := findUnanalyzedSQL
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, &pipeline.PersistenceError{Op: "find unanalyzed", Err: err}
	}
	defer rows.Close()
	return scanOpinions(rows, "find unanalyzed")
}

const recordAnalysisSQL = `
INSERT INTO analyses (opinion_id, engine_model, raw_result, issue_count, interesting, analyzed_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (opinion_id) DO UPDATE SET
	engine_model = EXCLUDED.engine_model,
	raw_result = EXCLUDED.raw_result,
	issue_count = EXCLUDED.issue_count,
	interesting = EXCLUDED.interesting,
	analyzed_at = EXCLUDED.analyzed_at`

// RecordAnalysis implements pipeline.Ledger.
func (s *Store) RecordAnalysis(ctx context.Context, a pipeline.Analysis) error {
	analyzedAt := a.AnalyzedAt
	if analyzedAt.IsZero() {
		analyzedAt = time.Now().UTC()
	}
	if _, err := s.db.Exec(ctx, recordAnalysisSQL,
		a.OpinionID, a.EngineModel, a.RawText, a.IssueCount, a.Interesting, analyzedAt,
	); err != nil {
		return &pipeline.PersistenceError{Op: "record analysis", Err: err}
	}
	return nil
}

const backfillURLSQL = `
UPDATE opinions SET direct_artifact_url = $2
WHERE id = $1 AND direct_artifact_url = ''`

// BackfillArtifactURL implements pipeline.Ledger. The WHERE clause makes
// the update strictly additive: a concurrently written value wins.
func (s *Store) BackfillArtifactURL(ctx context.Context, id int64, url string) error {
	if _, err := s.db.Exec(ctx, backfillURLSQL, id, url); err != nil {
		return &pipeline.PersistenceError{Op: "backfill url", Err: err}
	}
	return nil
}

const startRunSQL = `
INSERT INTO runs (id, mode, started_at, outcome) VALUES ($1, $2, $3, 'running')`

// StartRun implements pipeline.Ledger.
func (s *Store) StartRun(ctx context.Context, mode pipeline.Mode) (pipeline.RunSummary, error) {
	now := time.Now().UTC()
	run := pipeline.RunSummary{
		ID:        pipeline.NewRunID(now),
		Mode:      mode,
		StartedAt: now,
		Outcome:   pipeline.OutcomeRunning,
	}
	if _, err := s.db.Exec(ctx, startRunSQL, run.ID, string(mode), run.StartedAt); err != nil {
		return pipeline.RunSummary{}, &pipeline.PersistenceError{Op: "start run", Err: err}
	}
	return run, nil
}

const finalizeRunSQL = `
UPDATE runs SET
	finished_at = $2,
	sources_checked = $3,
	opinions_discovered = $4,
	opinions_downloaded = $5,
	opinions_failed = $6,
	analyses_completed = $7,
	analyses_failed = $8,
	outcome = $9
WHERE id = $1 AND finished_at IS NULL`

// FinalizeRun implements pipeline.Ledger. The finished_at guard makes
// finalize idempotent: a second call matches no row and is a no-op.
func (s *Store) FinalizeRun(ctx context.Context, run pipeline.RunSummary) error {
	finishedAt := time.Now().UTC()
	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
	}
	if _, err := s.db.Exec(ctx, finalizeRunSQL,
		run.ID, finishedAt, run.SourcesChecked, run.OpinionsDiscovered,
		run.OpinionsDownloaded, run.OpinionsFailed, run.AnalysesCompleted,
		run.AnalysesFailed, string(run.Outcome),
	); err != nil {
		return &pipeline.PersistenceError{Op: "finalize run", Err: err}
	}
	return nil
}

const recentRunsSQL = `
SELECT id, mode, started_at, finished_at, sources_checked, opinions_discovered,
	opinions_downloaded, opinions_failed, analyses_completed, analyses_failed, outcome
FROM runs ORDER BY started_at DESC LIMIT $1`

// RecentRuns implements pipeline.Ledger.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]pipeline.RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, recentRunsSQL, limit)
	if err != nil {
		return nil, &pipeline.PersistenceError{Op: "recent runs", Err: err}
	}
	defer rows.Close()

	var out []pipeline.RunSummary
	for rows.Next() {
		var (
			run     pipeline.RunSummary
			mode    string
			outcome string
		)
		if err := rows.Scan(&run.ID, &mode, &run.StartedAt, &run.FinishedAt,
			&run.SourcesChecked, &run.OpinionsDiscovered, &run.OpinionsDownloaded,
			&run.OpinionsFailed, &run.AnalysesCompleted, &run.AnalysesFailed,
			&outcome,
		); err != nil {
			return nil, &pipeline.PersistenceError{Op: "recent runs", Err: err}
		}
		run.Mode = pipeline.Mode(mode)
		run.Outcome = pipeline.Outcome(outcome)
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, &pipeline.PersistenceError{Op: "recent runs", Err: err}
	}
	return out, nil
}

const analyzedOpinionsSQL = `
SELECT o.id, o.source_id, o.case_number, o.opinion_type, o.justice_name,
	o.publication_date, o.listing_url, o.direct_artifact_url,
	o.local_artifact_path, o.content_hash, o.download_state, o.discovered_at,
	o.downloaded_at,
	a.engine_model, a.raw_result, a.issue_count, a.interesting, a.analyzed_at
FROM analyses a
JOIN opinions o ON o.id = a.opinion_id`

// AnalyzedOpinions implements pipeline.Ledger.
func (s *Store) AnalyzedOpinions(ctx context.Context, date *time.Time, interestingOnly bool) ([]pipeline.AnalyzedOpinion, error) {
	query := analyzedOpinionsSQL
	args := []any{}
	var conds []string
	if interestingOnly {
		conds = append(conds, "a.interesting")
	}
	if date != nil {
		args = append(args, *date)
		conds = append(conds, fmt.Sprintf("o.publication_date = $%d", len(args)))
	}
	for i, cond := range conds {
		if i == 0 {
			query += "\nWHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += "\nORDER BY a.interesting DESC, o.publication_date DESC, o.case_number"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, &pipeline.PersistenceError{Op: "analyzed opinions", Err: err}
	}
	defer rows.Close()

	var out []pipeline.AnalyzedOpinion
	for rows.Next() {
		var (
			rec   pipeline.AnalyzedOpinion
			state string
		)
		if err := rows.Scan(
			&rec.Opinion.ID, &rec.Opinion.SourceID, &rec.Opinion.CaseNumber,
			&rec.Opinion.OpinionType, &rec.Opinion.JusticeName,
			&rec.Opinion.PublicationDate, &rec.Opinion.ListingURL,
			&rec.Opinion.DirectArtifactURL, &rec.Opinion.LocalArtifactPath,
			&rec.Opinion.ContentHash, &state, &rec.Opinion.DiscoveredAt,
			&rec.Opinion.DownloadedAt,
			&rec.Analysis.EngineModel, &rec.Analysis.RawText,
			&rec.Analysis.IssueCount, &rec.Analysis.Interesting,
			&rec.Analysis.AnalyzedAt,
		); err != nil {
			return nil, &pipeline.PersistenceError{Op: "analyzed opinions", Err: err}
		}
		rec.Opinion.DownloadState = pipeline.DownloadState(state)
		rec.Analysis.OpinionID = rec.Opinion.ID
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &pipeline.PersistenceError{Op: "analyzed opinions", Err: err}
	}
	return out, nil
}

func scanOpinions(rows pgx.Rows, op string) ([]pipeline.Opinion, error) {
	var out []pipeline.Opinion
	for rows.Next() {
		var (
			o     pipeline.Opinion
			state string
		)
		if err := rows.Scan(&o.ID, &o.SourceID, &o.CaseNumber, &o.OpinionType,
			&o.JusticeName, &o.PublicationDate, &o.ListingURL,
			&o.DirectArtifactURL, &o.LocalArtifactPath, &o.ContentHash,
			&state, &o.DiscoveredAt, &o.DownloadedAt,
		); err != nil {
			return nil, &pipeline.PersistenceError{Op: op, Err: err}
		}
		o.DownloadState = pipeline.DownloadState(state)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, &pipeline.PersistenceError{Op: op, Err: err}
	}
	return out, nil
}
