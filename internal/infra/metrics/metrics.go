// Package metrics holds the settlement Prometheus collectors. They register
// on the default registry and are served by promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PurchaseTransitions counts purchase state changes by resulting status.
var PurchaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "settlement",
	Subsystem: "purchases",
	Name:      "transitions_total",
	Help:      "Purchase transitions by resulting status.",
}, []string{"status"})

// ConfirmReplays counts confirms that found the purchase already confirmed.
var ConfirmReplays = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "settlement",
	Subsystem: "purchases",
	Name:      "confirm_replays_total",
	Help:      "Confirm calls answered idempotently.",
})

var DistributedAmount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "settlement",
	Subsystem: "distribution",
	Name:      "amount_total",
	Help:      "Smallest token units by destination (fee, shares, undistributed).",
}, []string{"destination"})

var DistributionAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "settlement",
	Subsystem: "distribution",
	Name:      "anomalies_total",
	Help:      "Confirmed purchases whose entries could not be recorded, by reason.",
}, []string{"reason"})

var Withdrawals = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "settlement",
	Subsystem: "withdrawals",
	Name:      "total",
	Help:      "Withdrawal attempts by outcome.",
}, []string{"outcome"})

var WithdrawnAmount = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "settlement",
	Subsystem: "withdrawals",
	Name:      "amount_total",
	Help:      "Smallest token units released to recipients.",
})

var GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "settlement",
	Subsystem: "gateway",
	Name:      "call_duration_seconds",
	Help:      "Escrow gateway call latency by operation and result.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
}, []string{"op", "result"})

var ReconciledBatches = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "settlement",
	Subsystem: "reconcile",
	Name:      "batches_total",
	Help:      "Stale settling batches handled by the reconciler, by action.",
}, []string{"action"})

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
