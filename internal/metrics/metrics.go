package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "companion_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TurnsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_turns_processed_total",
			Help: "Total number of turns processed, by outcome.",
		},
		[]string{"outcome"},
	)

	TurnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "companion_turn_duration_seconds",
			Help:    "End-to-end turn processing time in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	IncidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_incidents_total",
			Help: "Total number of safety incident recordings, by severity and outcome.",
		},
		[]string{"severity", "outcome"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_notifications_total",
			Help: "Total number of critical incident notifications, by status.",
		},
		[]string{"status"},
	)

	PhotosShownTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_photos_shown_total",
			Help: "Total number of photos selected for display, by trigger reason.",
		},
		[]string{"reason"},
	)

	EnrichmentFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_enrichment_failures_total",
			Help: "Total number of abandoned memory or photo steps.",
		},
		[]string{"step"},
	)

	MemoriesMergedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_memories_merged_total",
			Help: "Total number of long-term memory merges, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TurnsProcessedTotal,
		TurnDuration,
		IncidentsTotal,
		NotificationsTotal,
		PhotosShownTotal,
		EnrichmentFailuresTotal,
		MemoriesMergedTotal,
	)
}
