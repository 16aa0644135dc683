package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dispatch"

var (
	BookingTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "booking_transitions_total", Help: "Booking status transitions by target status"},
		[]string{"to"},
	)
	BookingTransitionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "booking_transition_errors_total", Help: "Rejected booking transitions by operation"},
		[]string{"op"},
	)

	DriversOnDuty        = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_on_duty", Help: "Drivers on duty tracked by this instance"})
	PresenceStaleTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "presence_stale_offline_total", Help: "Drivers forced off duty by the staleness timer"})
	LocationUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "location_updates_total", Help: "Accepted driver location updates"})
	RankLatency          = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "rank_latency_seconds", Help: "Driver ranking latency seconds"})
	ProximityAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "proximity_alerts_total", Help: "Observers alerted about a nearby route"})
	RouteSkippedTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "route_skipped_total", Help: "Accepted bookings without a route"})
	TaskRetriesTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "task_retries_total", Help: "Post-transition task retries"})
	TaskFailuresTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "task_failures_total", Help: "Post-transition tasks given up on"})
	RealtimeConnections  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "realtime_connections", Help: "Open realtime connections"})
	RealtimeInvalidTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "realtime_invalid_messages_total", Help: "Inbound realtime messages rejected as invalid"})
	RealtimeDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "realtime_dropped_messages_total", Help: "Outbound messages dropped for slow subscribers"})
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Events published by type"},
		[]string{"type"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
