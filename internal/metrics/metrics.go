package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gridledger"

// Metrics holds the exchange collectors
type Metrics struct {
	OrdersSubmitted      *prometheus.CounterVec
	OrdersRejected       *prometheus.CounterVec
	StatusTransitions    *prometheus.CounterVec
	Trades               *prometheus.CounterVec
	MatchedEnergy        *prometheus.CounterVec
	ConstraintViolations *prometheus.CounterVec
	TickDuration         *prometheus.HistogramVec
	FaultedBooks         prometheus.Gauge
	OutboxPending        prometheus.Gauge
	Overrides            *prometheus.CounterVec
	SnapshotsDiscarded   *prometheus.CounterVec
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OrdersSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Orders accepted into a book.",
		}, []string{"zone", "side", "kind"}),
		OrdersRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Orders rejected at submission, by reason code.",
		}, []string{"reason"}),
		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Order status transitions, by target status.",
		}, []string{"to"}),
		Trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Executed trades.",
		}, []string{"zone"}),
		MatchedEnergy: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matched_energy_kwh_total",
			Help:      "Energy matched by executed trades.",
		}, []string{"zone"}),
		ConstraintViolations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "constraint_violations_total",
			Help:      "Candidate matches skipped by grid constraints.",
		}, []string{"zone", "reason"}),
		TickDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "matching_tick_duration_seconds",
			Help:      "Duration of a matching pass.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"zone"}),
		FaultedBooks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "faulted_books",
			Help:      "Books halted after an invariant violation.",
		}),
		OutboxPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending_events",
			Help:      "Events waiting for the persistence sink.",
		}),
		Overrides: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authority_overrides_total",
			Help:      "Authority overrides by action and outcome.",
		}, []string{"authority", "action", "outcome"}),
		SnapshotsDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_snapshots_discarded_total",
			Help:      "Grid snapshots older than the one in use.",
		}, []string{"zone"}),
	}
}
