// Package metrics exposes Prometheus counters for the analytics and page cache paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service counters.
type Metrics struct {
	StoreWrites       *prometheus.CounterVec
	StoreReadFailures *prometheus.CounterVec
	DualReadFallbacks prometheus.Counter
	PageCacheLookups  *prometheus.CounterVec
	BackgroundTasks   *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the counters on reg. Pass prometheus.NewRegistry() in tests
// to avoid duplicate registration on the default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StoreWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_store_writes_total",
			Help: "Writes by backing store and operation",
		}, []string{"store", "operation"}),
		StoreReadFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_store_read_failures_total",
			Help: "Failed reads by backing store and operation",
		}, []string{"store", "operation"}),
		DualReadFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "analytics_dual_read_fallbacks_total",
			Help: "Dual reads that degraded to columnar-only results",
		}),
		PageCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "page_cache_lookups_total",
			Help: "Page cache lookups by outcome (strategy name, miss, corrupt, memo)",
		}, []string{"outcome"}),
		BackgroundTasks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "background_tasks_total",
			Help: "Background tasks by name and result",
		}, []string{"task", "result"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
