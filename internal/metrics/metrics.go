// Package metrics registers the Prometheus collectors for the sync domain:
// queue depth of the remote tier, reconciliation passes, and broadcast
// traffic. HTTP-level metrics live in the httpapi middleware; these cover
// the storage engine itself so dashboards can watch convergence health.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RemoteQueueDepth gauges writes waiting for the remote tier.
	RemoteQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "remote_queue_depth",
		Help: "Number of writes queued for replay against the remote tier.",
	})

	// ReconciliationsTotal counts periodic and forced reconciliation passes.
	ReconciliationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_reconciliations_total",
		Help: "Total reconciliation passes between local and remote tiers.",
	}, []string{"trigger"}) // "interval" or "forced"

	// BroadcastsTotal counts events fired per transport tier.
	BroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_broadcasts_total",
		Help: "Total change events broadcast, by transport tier.",
	}, []string{"transport"})

	// EventsDropped counts received events discarded before delivery.
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_events_dropped_total",
		Help: "Received events discarded before delivery, by reason.",
	}, []string{"reason"}) // "echo" or "stale"
)

func init() {
	prometheus.MustRegister(RemoteQueueDepth, ReconciliationsTotal, BroadcastsTotal, EventsDropped)
}
