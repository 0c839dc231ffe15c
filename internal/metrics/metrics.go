// Package metrics holds the prometheus collectors shared by the client core
// and the server. Everything registers on the default registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SyncOps counts synchronizer calls by outcome: publish, remove, reset, noop.
	SyncOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_sync_ops_total",
			Help: "Shared map mutations issued by the synchronizer.",
		},
		[]string{"op"},
	)

	ReconcilePasses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whiteboard_reconcile_passes_total",
			Help: "Full scene rebuilds.",
		},
	)

	ReconcileSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whiteboard_reconcile_guard_skips_total",
			Help: "Remote snapshots skipped because the object was under local editing.",
		},
	)

	ReactionsEmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whiteboard_reactions_emitted_total",
			Help: "Reactions broadcast by this participant.",
		},
	)

	ActiveRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "whiteboard_rooms_active",
			Help: "Rooms currently held in memory.",
		},
	)

	Connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "whiteboard_connections",
			Help: "Open websocket connections.",
		},
	)

	// Messages counts inbound websocket messages by type.
	Messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_messages_total",
			Help: "Inbound websocket messages.",
		},
		[]string{"type"},
	)

	// Rejected counts inbound messages refused by a handler, by reason.
	Rejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_messages_rejected_total",
			Help: "Inbound messages refused by validation or limits.",
		},
		[]string{"reason"},
	)

	BroadcastFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whiteboard_broadcast_failures_total",
			Help: "Writes to a connection that failed during broadcast.",
		},
	)

	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_store_errors_total",
			Help: "Durable store failures by operation.",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		SyncOps,
		ReconcilePasses,
		ReconcileSkipped,
		ReactionsEmitted,
		ActiveRooms,
		Connections,
		Messages,
		Rejected,
		BroadcastFailures,
		StoreErrors,
	)
}
