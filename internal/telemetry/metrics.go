package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for all four subsystems. Pass
// the single instance constructed at startup to every service that needs
// to record a counter or observation.
type Metrics struct {
	// SecurityTap
	ScansTotal      *prometheus.CounterVec
	ScanDuration    *prometheus.HistogramVec
	ThreatsDetected prometheus.Counter
	EngineErrors    prometheus.Counter
	ScanQueueDepth  prometheus.Gauge

	// Quarantine
	QuarantineStored   prometheus.Counter
	QuarantineRestored prometheus.Counter
	QuarantineDeleted  prometheus.Counter
	QuarantineFailures *prometheus.CounterVec

	// TrafficMonitor
	TrafficAlertsTotal *prometheus.CounterVec
	DomainsTracked     prometheus.Gauge

	// PolicyGraph
	PolicyDecisionsTotal *prometheus.CounterVec
	PolicyCacheHits      prometheus.Counter
	PolicyCacheMisses    prometheus.Counter
	BreakerState         prometheus.Gauge
}

// NewMetrics creates and registers every instrument with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	const ns = "contentsec"

	return &Metrics{
		ScansTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{Namespace: ns, Name: "scans_total", Help: "Total content scans by size tier."},
			[]string{"tier"}, // small/medium/large/oversized
		),
		ScanDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{Namespace: ns, Name: "scan_duration_seconds", Help: "Scan duration in seconds.", Buckets: prometheus.DefBuckets},
			[]string{"tier"},
		),
		ThreatsDetected: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{Namespace: ns, Name: "threats_detected_total", Help: "Total scans resulting in a threat verdict."},
		),
		EngineErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{Namespace: ns, Name: "engine_errors_total", Help: "Total signature-engine errors (fail-open)."},
		),
		ScanQueueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{Namespace: ns, Name: "scan_queue_depth", Help: "Current depth of the async scan queue."},
		),

		QuarantineStored: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{Namespace: ns, Name: "quarantine_stored_total", Help: "Total payloads moved into quarantine."},
		),
		QuarantineRestored: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{Namespace: ns, Name: "quarantine_restored_total", Help: "Total quarantined payloads restored by the user."},
		),
		QuarantineDeleted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{Namespace: ns, Name: "quarantine_deleted_total", Help: "Total quarantined payloads permanently deleted."},
		),
		QuarantineFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{Namespace: ns, Name: "quarantine_failures_total", Help: "Total quarantine operation failures by operation."},
			[]string{"operation"}, // store/restore/delete
		),

		TrafficAlertsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{Namespace: ns, Name: "traffic_alerts_total", Help: "Total behavioral traffic alerts by pattern."},
			[]string{"pattern"}, // dga/beaconing/exfiltration/dns_tunnel/combined
		),
		DomainsTracked: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{Namespace: ns, Name: "traffic_domains_tracked", Help: "Number of domains currently tracked by TrafficMonitor."},
		),

		PolicyDecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{Namespace: ns, Name: "policy_decisions_total", Help: "Total PolicyGraph decisions by action."},
			[]string{"action"}, // allow/block/quarantine/warn_user
		),
		PolicyCacheHits: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{Namespace: ns, Name: "policy_cache_hits_total", Help: "Total decision cache hits."},
		),
		PolicyCacheMisses: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{Namespace: ns, Name: "policy_cache_misses_total", Help: "Total decision cache misses."},
		),
		BreakerState: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{Namespace: ns, Name: "policy_graph_breaker_state", Help: "PolicyGraph database health: 0=healthy, 1=degraded, 2=failed/critical."},
		),
	}
}
