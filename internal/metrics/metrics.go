package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Verdicts counts final classifications by verdict and tier.
	Verdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commentguard_verdicts_total",
			Help: "Total number of comment classifications by verdict and tier",
		},
		[]string{"verdict", "tier"},
	)

	// SemanticCalls counts semantic tier calls by outcome.
	SemanticCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commentguard_semantic_calls_total",
			Help: "Total number of semantic tier calls by outcome",
		},
		[]string{"outcome"},
	)

	// Scans counts completed scans by trigger.
	Scans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commentguard_scans_total",
			Help: "Total number of comment scans by trigger",
		},
		[]string{"trigger"},
	)

	// ScanDuration tracks how long a full scan takes.
	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "commentguard_scan_duration_seconds",
			Help:    "Duration of comment scans",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)

	// LedgerEntries is the number of unique comments in the active session.
	LedgerEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "commentguard_ledger_entries",
			Help: "Number of unique comments classified in the active session",
		},
	)

	// Sessions counts content-unit sessions started.
	Sessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "commentguard_sessions_total",
			Help: "Total number of content-unit sessions started",
		},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
