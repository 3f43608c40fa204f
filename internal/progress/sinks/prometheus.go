package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/presslane/edition-courier/internal/courier"
	"github.com/presslane/edition-courier/internal/progress"
)

// PrometheusSink exports pipeline progress via Prometheus. It owns the
// collectors for publication outcomes, per-channel deliveries, downloaded
// bytes and archive failures.
type PrometheusSink struct {
	publications    *prometheus.CounterVec
	publicationTime *prometheus.HistogramVec
	deliveries      *prometheus.CounterVec
	downloadedBytes *prometheus.CounterVec
	archiveFailures prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		publications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_publications_total",
			Help: "Publications processed, partitioned by result.",
		}, []string{"result"}),
		publicationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_publication_duration_seconds",
			Help:    "Wall time per processed publication.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_deliveries_total",
			Help: "Delivery attempts, partitioned by channel and result.",
		}, []string{"channel", "result"}),
		downloadedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_downloaded_bytes_total",
			Help: "Edition bytes downloaded per publication.",
		}, []string{"publication"}),
		archiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_archive_failures_total",
			Help: "Archive writes that failed after delivery.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.publications,
		s.publicationTime,
		s.deliveries,
		s.downloadedBytes,
		s.archiveFailures,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from one event.
func (s *PrometheusSink) Consume(_ context.Context, evt progress.Event) error {
	switch evt.Stage {
	case courier.StageDone, courier.StageFailed:
		s.publications.WithLabelValues(evt.Result).Inc()
		if evt.Dur > 0 {
			s.publicationTime.WithLabelValues(evt.Result).Observe(evt.Dur.Seconds())
		}
	case courier.StageFetching:
		if evt.Bytes > 0 {
			s.downloadedBytes.WithLabelValues(evt.Publication).Add(float64(evt.Bytes))
		}
	case courier.StageDistributing:
		if evt.Channel != "" {
			s.deliveries.WithLabelValues(string(evt.Channel), evt.Result).Inc()
		}
	case courier.StageArchiving:
		if evt.Result == progress.ResultFailed {
			s.archiveFailures.Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
