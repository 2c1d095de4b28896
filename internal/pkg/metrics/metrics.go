// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "coinfox"

// WebhookRequests counts webhook deliveries by final outcome
// (credited, duplicate, ignored, rejected, error).
var WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "webhook",
	Name:      "requests_total",
	Help:      "Webhook deliveries by outcome.",
}, []string{"outcome"})

var WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "webhook",
	Name:      "duration_seconds",
	Help:      "Time spent handling a webhook delivery.",
	Buckets:   prometheus.DefBuckets,
})

var CoinsCredited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "coins_credited_total",
	Help:      "Coins credited from verified purchases.",
})

var PartialWrites = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "partial_writes_total",
	Help:      "Balance increments whose ledger append failed.",
})

// BalanceDrift is the number of users whose balance disagrees with the
// ledger as of the last reconcile run.
var BalanceDrift = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "reconcile",
	Name:      "drifted_users",
	Help:      "Users whose balance differs from their ledger sum.",
})

var ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "reconcile",
	Name:      "runs_total",
	Help:      "Reconcile runs by result.",
}, []string{"result"})
