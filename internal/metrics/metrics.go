// Package metrics exposes the shipctl prometheus metrics for
// deployments, adapter calls and the transaction store, grounded on
// the teacher's promauto-vector style.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DeploymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipctl_deployments_total",
			Help: "Total number of deployment transactions started",
		},
		[]string{"pipeline", "status"},
	)

	DeploymentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shipctl_deployment_duration_seconds",
			Help:    "Deployment transaction wall-clock duration",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		},
		[]string{"pipeline"},
	)

	AdapterCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipctl_adapter_calls_total",
			Help: "Total adapter lifecycle operation invocations",
		},
		[]string{"platform", "operation", "kind"},
	)

	AdapterCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shipctl_adapter_call_duration_seconds",
			Help:    "Adapter lifecycle operation duration",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"platform", "operation"},
	)

	DeployRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipctl_deploy_retries_total",
			Help: "Total deploy retry attempts due to transient failures",
		},
		[]string{"platform"},
	)

	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipctl_rollbacks_total",
			Help: "Total rollback transactions opened",
		},
		[]string{"reason", "status"},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shipctl_store_operation_duration_seconds",
			Help:    "Transaction store primitive call duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	InFlightDeployments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shipctl_in_flight_deployments",
			Help: "Number of deployment transactions currently in progress",
		},
	)
)

// Handler returns the HTTP handler serving the registered metrics in
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
