package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CapturesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "admatch",
		Name:      "captures_processed_total",
		Help:      "Total number of capture submissions processed",
	}, []string{"kind"})

	CapturesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "admatch",
		Name:      "captures_rejected_total",
		Help:      "Total number of captures rejected before matching",
	}, []string{"reason"})

	FacesMatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "admatch",
		Name:      "faces_matched_total",
		Help:      "Total number of embeddings matched to an existing identity",
	})

	IdentitiesEnrolled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "admatch",
		Name:      "identities_enrolled_total",
		Help:      "Total number of new identities enrolled",
	})

	AmbiguousMatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "admatch",
		Name:      "ambiguous_matches_total",
		Help:      "Total number of matches rejected as ambiguous",
	})

	ConversionsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "admatch",
		Name:      "conversions_recorded_total",
		Help:      "Total number of billboard-to-store conversions recorded",
	})

	DedupSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "admatch",
		Name:      "dedup_sessions_total",
		Help:      "Dwell session transitions in the deduplicator",
	}, []string{"transition"}) // opened, merged, closed

	MatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "admatch",
		Name:      "match_duration_seconds",
		Help:      "Duration of match pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	OpenDwellSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "admatch",
		Name:      "open_dwell_sessions",
		Help:      "Dwell sessions currently open in the deduplicator",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "admatch",
		Name:      "queue_depth",
		Help:      "Number of pending capture tasks in queue",
	})

	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "admatch",
		Name:      "dead_letters_total",
		Help:      "Capture tasks moved to the dead-letter stream",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "admatch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "admatch",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
