package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/importscout/internal/store"
)

// RunStore provides an in-memory store.RunRepository for development/testing.
type RunStore struct {
	mu         sync.RWMutex
	runs       map[string]store.Run
	deliveries []store.Delivery
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]store.Run)}
}

// StartRun records a running run; repeated starts are ignored.
func (s *RunStore) StartRun(_ context.Context, run store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return nil
	}
	run.Status = store.RunRunning
	run.FinishedAt = nil
	s.runs[run.ID] = run
	return nil
}

// CompleteRun writes the terminal fields of a run.
func (s *RunStore) CompleteRun(_ context.Context, runID string, c store.RunCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = pointerTo(c.FinishedAt)
	run.Status = c.Status
	run.LeadCount = c.LeadCount
	run.ArchiveURI = clonePtr(c.ArchiveURI)
	run.ErrorMessage = clonePtr(c.ErrorMessage)
	s.runs[runID] = run
	return nil
}

// RecordDelivery appends a delivery.
func (s *RunStore) RecordDelivery(_ context.Context, d store.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ErrorMessage = clonePtr(d.ErrorMessage)
	s.deliveries = append(s.deliveries, d)
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return copyRun(run), nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, copyRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID > runs[j].ID
	})
	return page(runs, limit, offset), nil
}

// ListDeliveries returns deliveries newest first.
func (s *RunStore) ListDeliveries(_ context.Context, limit, offset int) ([]store.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Delivery, 0, len(s.deliveries))
	for i := len(s.deliveries) - 1; i >= 0; i-- {
		d := s.deliveries[i]
		d.ErrorMessage = clonePtr(d.ErrorMessage)
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DeliveredAt.After(out[j].DeliveredAt)
	})
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func copyRun(run store.Run) store.Run {
	if run.FinishedAt != nil {
		run.FinishedAt = pointerTo(*run.FinishedAt)
	}
	run.ArchiveURI = clonePtr(run.ArchiveURI)
	run.ErrorMessage = clonePtr(run.ErrorMessage)
	return run
}

func pointerTo[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return pointerTo(*p)
}
