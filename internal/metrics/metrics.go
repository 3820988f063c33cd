// Package metrics exposes process-wide prometheus counters for the engine.
// Per-run numbers live in types.RunCounters; these counters aggregate across
// runs and are served at /metrics by the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts bus publishes by event type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "events_published_total",
		Help:      "Events published to the bus, by type.",
	}, []string{"type"})

	// EventsDeduped counts events dropped by the bus dedup barrier.
	EventsDeduped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "events_deduped_total",
		Help:      "Events dropped because their dedup key was already seen.",
	}, []string{"type"})

	// HandlerErrors counts handler errors and panics during dispatch.
	HandlerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "handler_errors_total",
		Help:      "Handler errors and recovered panics during dispatch.",
	})

	// OrdersRejected counts orders rejected by registry validation.
	OrdersRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "orders_rejected_total",
		Help:      "Orders rejected by registry validation.",
	})

	// OrdersSuppressed counts orders suppressed by risk limits.
	OrdersSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "orders_suppressed_total",
		Help:      "Orders suppressed by risk limit enforcement.",
	})

	// RunsCompleted counts finished backtest runs by terminal status.
	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "runs_completed_total",
		Help:      "Backtest runs finished, by status.",
	}, []string{"status"})

	// BarsProcessed counts bars driven through the pipeline.
	BarsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "bars_processed_total",
		Help:      "Bars driven through the event pipeline.",
	})
)
