package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/importscout/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are driven by run events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{ID: "run-1", TS: now, Stage: progress.StageRunStart},
		{ID: "run-1", TS: now, Stage: progress.StageRunState, State: "requesting"},
		{ID: "run-1", TS: now, Stage: progress.StageRunState, State: "parsing"},
		{ID: "run-2", TS: now, Stage: progress.StageRunStart},
		{ID: "run-1", TS: now.Add(15 * time.Second), Stage: progress.StageRunDone, Dur: 15 * time.Second},
		{ID: "d-1", TS: now, Stage: progress.StageDelivery, Kind: "probe", Outcome: "confirmed", Dur: 80 * time.Millisecond},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.stateTransitions.WithLabelValues("parsing")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runRuntime, "importscout_run_runtime_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.deliveryDuration, "importscout_delivery_duration_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestPrometheusSinkIgnoresUnknownCompletion(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{ID: "never-started", TS: time.Now(), Stage: progress.StageRunError},
	}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
}
