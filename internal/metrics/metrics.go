package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all prometheus collectors for the seat-hold core.
type Metrics struct {
	HoldsGranted     prometheus.Counter
	HoldConflicts    prometheus.Counter
	HoldsReleased    *prometheus.CounterVec
	FinalizeAttempts *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	ActiveHolds      prometheus.Gauge
	ConfirmedSeats   prometheus.Gauge
	FinalizeDuration prometheus.Histogram
}

// New registers and returns the service metrics.
func New(namespace string) *Metrics {
	return &Metrics{
		HoldsGranted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holds_granted_total",
			Help:      "The total number of seat holds granted",
		}),
		HoldConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hold_conflicts_total",
			Help:      "The total number of acquire attempts rejected as unavailable",
		}),
		HoldsReleased: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holds_released_total",
			Help:      "The total number of holds released, by reason",
		}, []string{"reason"}),
		FinalizeAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_attempts_total",
			Help:      "The total number of finalize calls, by outcome",
		}, []string{"outcome"}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seat_events_published_total",
			Help:      "The total number of seat events published, by type",
		}, []string{"type"}),
		ActiveHolds: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_holds",
			Help:      "The current number of active seat holds",
		}),
		ConfirmedSeats: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "confirmed_seats",
			Help:      "The current number of confirmed seat sales held in memory",
		}),
		FinalizeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalize_duration_seconds",
			Help:      "Time taken to finalize bookings",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
