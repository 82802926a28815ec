// Package metrics provides Prometheus metrics for the sync daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics collects and exposes synchronization metrics.
type SyncMetrics struct {
	registry *prometheus.Registry

	// Cache metrics
	CacheOps       *prometheus.CounterVec
	CacheEvictions prometheus.Counter

	// Poller metrics
	PollsTotal   *prometheus.CounterVec
	BackoffLevel *prometheus.GaugeVec

	// Fallback chain metrics
	FetchAttempts *prometheus.CounterVec
	FetchServed   *prometheus.CounterVec

	// Reconciliation metrics
	ReconcileRuns     *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram

	// Connectivity metrics
	BackendReachable prometheus.Gauge
	Online           prometheus.Gauge

	// Streaming metrics
	DashboardClients prometheus.Gauge
}

// NewSyncMetrics creates a sync metrics collector with its own registry.
func NewSyncMetrics() *SyncMetrics {
	registry := prometheus.NewRegistry()

	m := &SyncMetrics{
		registry: registry,

		CacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betsync_cache_ops_total",
				Help: "Cache operations by outcome",
			},
			[]string{"op"},
		),
		CacheEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "betsync_cache_evictions_total",
				Help: "Entries evicted after capacity exhaustion",
			},
		),

		PollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betsync_polls_total",
				Help: "Poll executions by poller and outcome",
			},
			[]string{"poller", "outcome"},
		),
		BackoffLevel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "betsync_poll_backoff_multiplier",
				Help: "Current backoff multiplier per poller",
			},
			[]string{"poller"},
		),

		FetchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betsync_fetch_attempts_total",
				Help: "Fallback tier attempts by domain, tier and outcome",
			},
			[]string{"domain", "tier", "outcome"},
		),
		FetchServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betsync_fetch_served_total",
				Help: "Fetches served by domain and winning tier",
			},
			[]string{"domain", "tier"},
		),

		ReconcileRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betsync_reconcile_runs_total",
				Help: "Reconciliation passes by status",
			},
			[]string{"status"},
		),
		ReconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "betsync_reconcile_duration_seconds",
				Help:    "Reconciliation pass duration",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
		),

		BackendReachable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "betsync_backend_reachable",
				Help: "Whether the backend is reachable (1=yes, 0=no)",
			},
		),
		Online: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "betsync_online",
				Help: "Whether the network is considered up (1=yes, 0=no)",
			},
		),

		DashboardClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "betsync_dashboard_clients",
				Help: "Connected dashboard WebSocket clients",
			},
		),
	}

	m.registerAll()
	return m
}

func (m *SyncMetrics) registerAll() {
	m.registry.MustRegister(
		m.CacheOps,
		m.CacheEvictions,
		m.PollsTotal,
		m.BackoffLevel,
		m.FetchAttempts,
		m.FetchServed,
		m.ReconcileRuns,
		m.ReconcileDuration,
		m.BackendReachable,
		m.Online,
		m.DashboardClients,
	)
}

// Registry returns the prometheus registry.
func (m *SyncMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCacheEvent maps a cache event name onto the counters.
func (m *SyncMetrics) RecordCacheEvent(event string) {
	if event == "evict" {
		m.CacheEvictions.Inc()
		return
	}
	m.CacheOps.WithLabelValues(event).Inc()
}

// RecordPoll records a poll execution.
func (m *SyncMetrics) RecordPoll(poller string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.PollsTotal.WithLabelValues(poller, outcome).Inc()
}

// SetBackoff updates a poller's backoff gauge.
func (m *SyncMetrics) SetBackoff(poller string, multiplier int) {
	m.BackoffLevel.WithLabelValues(poller).Set(float64(multiplier))
}

// RecordFetchAttempt records one fallback tier attempt.
func (m *SyncMetrics) RecordFetchAttempt(domain, tier string, count int, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case count == 0:
		outcome = "empty"
	}
	m.FetchAttempts.WithLabelValues(domain, tier, outcome).Inc()
}

// RecordFetchServed records the tier that won a chain fetch. An empty tier
// means every source was exhausted.
func (m *SyncMetrics) RecordFetchServed(domain, tier string) {
	if tier == "" {
		tier = "none"
	}
	m.FetchServed.WithLabelValues(domain, tier).Inc()
}

// RecordReconcile records a reconciliation pass.
func (m *SyncMetrics) RecordReconcile(failed int, durationSec float64) {
	status := "ok"
	if failed > 0 {
		status = "partial"
	}
	m.ReconcileRuns.WithLabelValues(status).Inc()
	m.ReconcileDuration.Observe(durationSec)
}

// UpdateConnectivity updates the connectivity gauges.
func (m *SyncMetrics) UpdateConnectivity(online, reachable bool) {
	m.Online.Set(boolGauge(online))
	m.BackendReachable.Set(boolGauge(reachable))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
