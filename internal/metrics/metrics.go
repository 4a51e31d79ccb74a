// Package metrics holds the Prometheus instruments of the deploy platform.
// Collectors are registered with the global registry and exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RuntimeQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploy_runtime_queries_total",
			Help: "Runtime queries by caller mode (authenticated, anonymous) and outcome.",
		}, []string{"mode", "outcome"})

	DatabaseProvisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploy_database_provision_total",
			Help: "Database provisioning attempts by outcome (created, existing, failed).",
		}, []string{"outcome"})

	FilesUploadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deploy_files_uploaded_total",
			Help: "Cumulative number of site files written to object storage.",
		})

	ResolveCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploy_resolve_cache_total",
			Help: "Hostname resolution cache lookups by result (hit, miss).",
		}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		RuntimeQueriesTotal,
		DatabaseProvisionTotal,
		FilesUploadedTotal,
		ResolveCacheTotal,
	)
}
