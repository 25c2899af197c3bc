package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
	"github.com/parkerlabs/sitescribe/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	projectID := uuid.NewString()
	batch := []progress.Event{
		{ProjectID: projectID, TS: time.Now(), Stage: progress.StageRunStart},
		{
			ProjectID: projectID,
			TS:        time.Now().Add(10 * time.Second),
			Stage:     progress.StagePhaseDone,
			Phase:     pipeline.PhaseCrawl,
			Done:      40,
			Failed:    2,
			Dur:       10 * time.Second,
		},
		{ProjectID: projectID, TS: time.Now().Add(15 * time.Second), Stage: progress.StageRunDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))

	crawl := string(pipeline.PhaseCrawl)
	require.Equal(t, 1.0, testutil.ToFloat64(sink.phasesCompleted.WithLabelValues(crawl, "success")))
	require.InDelta(t, 40.0, testutil.ToFloat64(sink.itemsProcessed.WithLabelValues(crawl, "done")), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.itemsProcessed.WithLabelValues(crawl, "failed")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.phaseDuration, "sitescribe_phase_duration_seconds"))
}

// TestPrometheusSinkRunningGaugeDedupes verifies duplicate terminal events do not drive the gauge negative.
func TestPrometheusSinkRunningGaugeDedupes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	projectID := uuid.NewString()
	batch := []progress.Event{
		{ProjectID: projectID, TS: time.Now(), Stage: progress.StageRunStart},
		{ProjectID: projectID, TS: time.Now(), Stage: progress.StageRunError, Dur: time.Second},
		{ProjectID: projectID, TS: time.Now(), Stage: progress.StageRunError, Dur: time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
}
