// Package metrics exposes the Prometheus gauges/counters the sync engine
// updates: blocks ingested, sync lag, source failures. Grounded on the
// teacher's (indirect) prometheus/client_golang dependency, wired here to
// the indexer's own operational surface per SPEC_FULL.md §10.5.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BlocksIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexer_blocks_ingested_total",
		Help: "Blocks successfully ingested, labeled by origin (live, walk).",
	}, []string{"origin"})

	SyncLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "indexer_sync_lag_blocks",
		Help: "sync_start minus sync_end during a walk; 0 once the walk finalizes.",
	})

	SourceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexer_source_failures_total",
		Help: "Block source fetch failures, labeled by host template.",
	}, []string{"source"})

	CursorCorruption = promauto.NewCounter(prometheus.CounterOpts{
		Name: "indexer_cursor_corruption_total",
		Help: "Times the sync driver observed sync_start < sync_end and self-healed.",
	})

	WebsocketReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "indexer_ws_reconnects_total",
		Help: "Live feed reconnect attempts.",
	})
)
