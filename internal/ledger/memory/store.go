// Package memory provides an in-memory Ledger for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/markwbennett/PDRbot/internal/pipeline"
)

type identity struct {
	sourceID    string
	caseNumber  string
	opinionType string
}

// Store implements pipeline.Ledger with in-process maps. Writes are
// serialized by a mutex so no caller observes a half-written record.
type Store struct {
	mu       sync.RWMutex
	clock    pipeline.Clock
	nextID   int64
	byID     map[int64]*pipeline.Opinion
	byKey    map[identity]int64
	order    []int64 // discovery order
	analyses map[int64]pipeline.Analysis
	runs     map[string]*pipeline.RunSummary
	runOrder []string
}

// New constructs an empty Store.
func New(clock pipeline.Clock) *Store {
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	return &Store{
		clock:    clock,
		nextID:   1,
		byID:     make(map[int64]*pipeline.Opinion),
		byKey:    make(map[identity]int64),
		analyses: make(map[int64]pipeline.Analysis),
		runs:     make(map[string]*pipeline.RunSummary),
	}
}

// UpsertOpinion implements pipeline.Ledger.
func (s *Store) UpsertOpinion(_ context.Context, op pipeline.Opinion) (pipeline.Opinion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := identity{op.SourceID, op.CaseNumber, op.OpinionType}
	if id, ok := s.byKey[key]; ok {
		existing := s.byID[id]
		// Backfillable field only; state and timestamps stay untouched.
		if existing.DirectArtifactURL == "" && op.DirectArtifactURL != "" {
			existing.DirectArtifactURL = op.DirectArtifactURL
		}
		return *existing, false, nil
	}

	op.ID = s.nextID
	s.nextID++
	if op.DownloadState == "" {
		op.DownloadState = pipeline.DownloadPending
	}
	if op.DiscoveredAt.IsZero() {
		op.DiscoveredAt = s.clock.Now()
	}
	stored := op
	s.byID[op.ID] = &stored
	s.byKey[key] = op.ID
	s.order = append(s.order, op.ID)
	return stored, true, nil
}

// UpdateDownloadState implements pipeline.Ledger.
func (s *Store) UpdateDownloadState(_ context.Context, id int64, state pipeline.DownloadState, path, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.byID[id]
	if !ok {
		return &pipeline.PersistenceError{Op: "update download state", Err: fmt.Errorf("opinion %d not found", id)}
	}
	op.DownloadState = state
	op.LocalArtifactPath = path
	op.ContentHash = hash
	if state == pipeline.Downloaded {
		now := s.clock.Now()
		op.DownloadedAt = &now
	}
	return nil
}

// FindUndownloaded implements pipeline.Ledger.
func (s *Store) FindUndownloaded(_ context.Context, sourceID string) ([]pipeline.Opinion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.Opinion
	for _, id := range s.order {
		op := s.byID[id]
		if op.DownloadState == pipeline.Downloaded {
			continue
		}
		if sourceID != "" && op.SourceID != sourceID {
			continue
		}
		out = append(out, *op)
	}
	return out, nil
}

// FindMissingArtifactURL implements pipeline.Ledger.
func (s *Store) FindMissingArtifactURL(_ context.Context, sourceID string) ([]pipeline.Opinion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.Opinion
	for _, id := range s.order {
		op := s.byID[id]
		if op.DirectArtifactURL != "" {
			continue
		}
		if sourceID != "" && op.SourceID != sourceID {
			continue
		}
		out = append(out, *op)
	}
	return out, nil
}

// FindUnanalyzed implements pipeline.Ledger.
func (s *Store) FindUnanalyzed(_ context.Context, limit int) ([]pipeline.Opinion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.Opinion
	for _, id := range s.order {
		op := s.byID[id]
		if op.DownloadState != pipeline.Downloaded {
			continue
		}
		if _, analyzed := s.analyses[id]; analyzed {
			continue
		}
		out = append(out, *op)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// RecordAnalysis implements pipeline.Ledger.
func (s *Store) RecordAnalysis(_ context.Context, a pipeline.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[a.OpinionID]; !ok {
		return &pipeline.PersistenceError{Op: "record analysis", Err: fmt.Errorf("opinion %d not found", a.OpinionID)}
	}
	if a.AnalyzedAt.IsZero() {
		a.AnalyzedAt = s.clock.Now()
	}
	s.analyses[a.OpinionID] = a
	return nil
}

// BackfillArtifactURL implements pipeline.Ledger. Strictly additive.
func (s *Store) BackfillArtifactURL(_ context.Context, id int64, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.byID[id]
	if !ok {
		return &pipeline.PersistenceError{Op: "backfill url", Err: fmt.Errorf("opinion %d not found", id)}
	}
	if op.DirectArtifactURL == "" {
		op.DirectArtifactURL = url
	}
	return nil
}

// StartRun implements pipeline.Ledger.
func (s *Store) StartRun(_ context.Context, mode pipeline.Mode) (pipeline.RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	run := pipeline.RunSummary{
		ID:        pipeline.NewRunID(now),
		Mode:      mode,
		StartedAt: now,
		Outcome:   pipeline.OutcomeRunning,
	}
	stored := run
	s.runs[run.ID] = &stored
	s.runOrder = append(s.runOrder, run.ID)
	return run, nil
}

// FinalizeRun implements pipeline.Ledger. Finalize happens at most once.
func (s *Store) FinalizeRun(_ context.Context, run pipeline.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return &pipeline.PersistenceError{Op: "finalize run", Err: fmt.Errorf("run %s not found", run.ID)}
	}
	if existing.FinishedAt != nil {
		return nil
	}
	if run.FinishedAt == nil {
		now := s.clock.Now()
		run.FinishedAt = &now
	}
	*existing = run
	return nil
}

// RecentRuns implements pipeline.Ledger.
func (s *Store) RecentRuns(_ context.Context, limit int) ([]pipeline.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.RunSummary
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		out = append(out, *s.runs[s.runOrder[i]])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// AnalyzedOpinions implements pipeline.Ledger.
func (s *Store) AnalyzedOpinions(_ context.Context, date *time.Time, interestingOnly bool) ([]pipeline.AnalyzedOpinion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.AnalyzedOpinion
	for _, id := range s.order {
		a, ok := s.analyses[id]
		if !ok {
			continue
		}
		op := s.byID[id]
		if interestingOnly && !a.Interesting {
			continue
		}
		if date != nil && !sameDay(op.PublicationDate, *date) {
			continue
		}
		out = append(out, pipeline.AnalyzedOpinion{Opinion: *op, Analysis: a})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Analysis.Interesting != out[j].Analysis.Interesting {
			return out[i].Analysis.Interesting
		}
		return out[i].Opinion.CaseNumber < out[j].Opinion.CaseNumber
	})
	return out, nil
}

// Close implements pipeline.Ledger.
func (s *Store) Close() {}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
