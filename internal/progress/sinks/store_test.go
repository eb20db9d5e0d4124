package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/importscout/internal/progress"
	"github.com/JakeFAU/importscout/internal/store"
)

// TestStoreSinkPersistsRunLifecycle ensures start, completion and delivery rows are written.
func TestStoreSinkPersistsRunLifecycle(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	batch := []progress.Event{
		{ID: "run-1", Stage: progress.StageRunStart, TS: now, Product: "Organic Coffee", Region: "Germany", Limit: 5},
		{ID: "run-1", Stage: progress.StageRunState, TS: now, State: "requesting"},
		{ID: "run-1", Stage: progress.StageRunDone, TS: now.Add(3 * time.Second), Leads: 5, ArchiveURI: "memory://a"},
		{ID: "run-2", Stage: progress.StageRunError, TS: now, Note: "agent down"},
		{
			ID: "d-1", Stage: progress.StageDelivery, TS: now, Kind: "batch",
			Outcome: "dispatched_unconfirmed", Host: "hooks.example.com", Leads: 5,
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.starts, 1)
	require.Equal(t, "Organic Coffee", repo.starts[0].Product)
	require.Equal(t, store.RunRunning, repo.starts[0].Status)

	require.Len(t, repo.completes, 2)
	require.Equal(t, store.RunSuccess, repo.completes[0].Status)
	require.Equal(t, 5, repo.completes[0].LeadCount)
	require.Equal(t, "memory://a", *repo.completes[0].ArchiveURI)
	require.Nil(t, repo.completes[0].ErrorMessage)
	require.Equal(t, store.RunError, repo.completes[1].Status)
	require.Equal(t, "agent down", *repo.completes[1].ErrorMessage)
	require.Nil(t, repo.completes[1].ArchiveURI)

	require.Len(t, repo.deliveries, 1)
	require.Equal(t, "hooks.example.com", repo.deliveries[0].EndpointHost)
	require.Nil(t, repo.deliveries[0].ErrorMessage)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{ID: "run-1", Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.ErrorContains(t, err, "start run")
}

func TestStoreSinkNilRepo(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(nil, nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{ID: "run-1", Stage: progress.StageRunStart, TS: time.Now()},
	}))
}

type fakeRunRepo struct {
	fail       bool
	starts     []store.Run
	completes  []store.RunCompletion
	deliveries []store.Delivery
}

func (f *fakeRunRepo) StartRun(_ context.Context, run store.Run) error {
	if f.fail {
		return assertErr("start")
	}
	f.starts = append(f.starts, run)
	return nil
}

func (f *fakeRunRepo) CompleteRun(_ context.Context, _ string, completion store.RunCompletion) error {
	if f.fail {
		return assertErr("complete")
	}
	f.completes = append(f.completes, completion)
	return nil
}

func (f *fakeRunRepo) RecordDelivery(_ context.Context, delivery store.Delivery) error {
	if f.fail {
		return assertErr("delivery")
	}
	f.deliveries = append(f.deliveries, delivery)
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, string) (store.Run, error) {
	return store.Run{}, assertErr("read")
}

func (f *fakeRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, assertErr("list")
}

func (f *fakeRunRepo) ListDeliveries(context.Context, int, int) ([]store.Delivery, error) {
	return nil, assertErr("deliveries")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
