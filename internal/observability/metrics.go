package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickshow_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	HoldsGranted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quickshow_holds_granted_total",
			Help: "Seat holds granted",
		},
	)

	HoldConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quickshow_hold_conflicts_total",
			Help: "Reservations rejected because seats were unavailable",
		},
	)

	BookingsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickshow_bookings_finalized_total",
			Help: "Bookings reaching a terminal state",
		},
		[]string{"state"},
	)

	Reconciliations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quickshow_reconciliations_total",
			Help: "Payment successes that raced an expired hold and need a refund",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quickshow_sweep_seconds",
			Help:    "Duration of one expiry sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quickshow_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quickshow_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quickshow_rate_limit_exceeded_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
