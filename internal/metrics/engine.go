package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Store metrics.
var (
	DBQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "query_duration_seconds",
		Help:      "SQLite statement latency by store operation.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 9),
	}, []string{"operation"})

	DBQueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "queries_total",
		Help:      "SQLite statements by store operation and outcome.",
	}, []string{"operation", "status"})
)

// Topology, concern and upgrade metrics.
var (
	UpgradePhases = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upgrade",
		Name:      "phases_total",
		Help:      "Upgrade state machine transitions by target phase.",
	}, []string{"phase"})

	UpgradeRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upgrade",
		Name:      "rejections_total",
		Help:      "Upgrades refused by validation, by failed rule.",
	}, []string{"reason"})

	UpgradeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "upgrade",
		Name:      "duration_seconds",
		Help:      "Time from validation to the final phase.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 5, 8),
	}, []string{"phase"})

	GraphBuildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "hierarchy",
		Name:      "build_duration_seconds",
		Help:      "Hierarchy graph construction time by root kind.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 3, 8),
	}, []string{"root_kind"})

	GraphNodes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "hierarchy",
		Name:      "nodes",
		Help:      "Node count of the last graph built per root kind.",
	}, []string{"root_kind"})

	ConcernOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "concern",
		Name:      "operations_total",
		Help:      "Concern raises and clears by kind.",
	}, []string{"kind", "operation"})

	LocksActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "concern",
		Name:      "locks_active",
		Help:      "Lock concerns currently held.",
	})
)

// Inventory metrics.
var (
	EntityOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entity_operations_total",
		Help:      "Entity mutations by kind and operation.",
	}, []string{"kind", "operation"})

	BundleOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bundle_operations_total",
		Help:      "Bundle loads and deletes by outcome.",
	}, []string{"operation", "status"})

	TaskCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Job task transitions by status.",
	}, []string{"status"})
)

func engineCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		DBQueryDuration, DBQueriesTotal,
		UpgradePhases, UpgradeRejections, UpgradeDuration,
		GraphBuildDuration, GraphNodes, ConcernOperations, LocksActive,
		EntityOperations, BundleOperations, TaskCount,
	}
}

// RecordDBQuery observes the latency and outcome of one store operation.
func RecordDBQuery(operation string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	DBQueriesTotal.WithLabelValues(operation, status).Inc()
}
