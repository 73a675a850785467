package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes
const (
	OutcomeSuccess     = "success"
	OutcomePlaceholder = "placeholder"
)

var (
	// ImageFetches tracks upstream image fetches by outcome
	ImageFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "random_image_fetches_total",
		Help: "Total number of upstream image fetches by outcome",
	}, []string{"outcome"})

	// UpstreamErrors tracks failed upstream fetches by failure reason
	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "random_image_upstream_errors_total",
		Help: "Total number of failed upstream fetches",
	}, []string{"reason"})

	// ServedMediaTypes tracks the sniffed media types of served images
	ServedMediaTypes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "random_image_served_media_types_total",
		Help: "Total number of images served by sniffed media type",
	}, []string{"media_type"})

	// FetchDuration tracks the wall time of upstream fetches
	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "random_image_fetch_duration_seconds",
		Help:    "Duration of upstream image fetches",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// SourceListErrors tracks requests that could not be served from the source list
	SourceListErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "random_image_source_list_errors_total",
		Help: "Total number of requests rejected because of the source list",
	}, []string{"reason"})
)

// RecordSuccess counts a served upstream image
func RecordSuccess(mediaType string, seconds float64) {
	ImageFetches.WithLabelValues(OutcomeSuccess).Inc()
	ServedMediaTypes.WithLabelValues(mediaType).Inc()
	FetchDuration.Observe(seconds)
}

// RecordPlaceholder counts a failed upstream fetch answered with the placeholder
func RecordPlaceholder(reason string, seconds float64) {
	ImageFetches.WithLabelValues(OutcomePlaceholder).Inc()
	UpstreamErrors.WithLabelValues(reason).Inc()
	FetchDuration.Observe(seconds)
}

// RecordSourceListError counts a request rejected by the source list loader
func RecordSourceListError(reason string) {
	SourceListErrors.WithLabelValues(reason).Inc()
}
