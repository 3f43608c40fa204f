package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/presslane/edition-courier/internal/courier"
	"github.com/presslane/edition-courier/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now().UTC()
	events := []progress.Event{
		{BatchID: "b-1", TS: now, Stage: courier.StageFetching, Publication: "gazette", Bytes: 1024, Dur: 200 * time.Millisecond},
		{BatchID: "b-1", TS: now, Stage: courier.StageDistributing, Publication: "gazette", Channel: courier.ChannelMail, Result: progress.ResultOK},
		{BatchID: "b-1", TS: now, Stage: courier.StageDistributing, Publication: "gazette", Channel: courier.ChannelDrive, Result: progress.ResultFailed},
		{BatchID: "b-1", TS: now, Stage: courier.StageArchiving, Publication: "gazette", Result: progress.ResultFailed},
		{BatchID: "b-1", TS: now, Stage: courier.StageDone, Publication: "gazette", Result: progress.ResultDelivered, Dur: 15 * time.Second},
		{BatchID: "b-1", TS: now, Stage: courier.StageFailed, Publication: "review", Result: progress.ResultFailed},
	}
	for _, evt := range events {
		require.NoError(t, sink.Consume(ctx, evt))
	}

	require.Equal(t, 1.0, testutil.ToFloat64(sink.publications.WithLabelValues(progress.ResultDelivered)))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.publications.WithLabelValues(progress.ResultFailed)))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.publications.WithLabelValues(progress.ResultSkipped)))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.deliveries.WithLabelValues("mail", progress.ResultOK)), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.deliveries.WithLabelValues("drive", progress.ResultFailed)), 1e-9)

	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.downloadedBytes.WithLabelValues("gazette")), 1e-9)
	require.Equal(t, 1.0, testutil.ToFloat64(sink.archiveFailures))
	require.Equal(t, 1, testutil.CollectAndCount(sink.publicationTime, "courier_publication_duration_seconds"))
}

func TestPrometheusSinkDoubleRegister(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
