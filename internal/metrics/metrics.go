// Package metrics exposes the engine's operational counters on the default
// Prometheus registry. The dashboard server serves them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RaceRetries counts initialization attempts discarded by the switch
	// version guard and restarted against the live version.
	RaceRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daybook_lifecycle_race_retries_total",
		Help: "Database initializations discarded and retried after a concurrent namespace switch.",
	})

	// SkippedPersists counts persists silently dropped because the
	// namespace or version changed while exporting.
	SkippedPersists = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daybook_lifecycle_skipped_persists_total",
		Help: "Persist attempts skipped because their snapshot went stale mid-export.",
	})

	// SyncFailures counts remote operations that failed during a sync run
	// and were left queued for retry.
	SyncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daybook_sync_failures_total",
		Help: "Remote operations that failed during sync and stayed queued.",
	})

	// ReplayedOps counts pending operations confirmed by the server.
	ReplayedOps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daybook_sync_replayed_ops_total",
		Help: "Pending operations successfully replayed to the server.",
	})

	// IntegrityAnomalies counts databases that were expected empty but
	// contained rows, indicating a leaked cross-namespace read.
	IntegrityAnomalies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daybook_integrity_anomalies_total",
		Help: "Namespaces expected empty that contained existing rows.",
	})

	// ExternalSnapshotWrites counts snapshot files rewritten by another
	// process while this one held the namespace open.
	ExternalSnapshotWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daybook_external_snapshot_writes_total",
		Help: "Snapshot writes observed from other processes.",
	})
)
