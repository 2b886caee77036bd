package worker

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 汇总所有站点 worker 的策略结果；方法对 nil 接收者安全。
type Metrics struct {
	registry      *prometheus.Registry
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	revalidations *prometheus.CounterVec
	lifecycle     *prometheus.CounterVec
	storesDeleted *prometheus.CounterVec
}

// NewMetrics 在独立 Registry 上注册指标，测试之间互不干扰。
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offline_hub",
			Name:      "fetch_total",
			Help:      "Intercepted requests by site, strategy and outcome.",
		}, []string{"site", "strategy", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "offline_hub",
			Name:      "fetch_duration_seconds",
			Help:      "Time to produce a response for an intercepted request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"site", "strategy"}),
		revalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offline_hub",
			Name:      "revalidations_total",
			Help:      "Background stale-while-revalidate refreshes by result.",
		}, []string{"site", "result"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offline_hub",
			Name:      "lifecycle_events_total",
			Help:      "Worker lifecycle events by result.",
		}, []string{"site", "event", "result"}),
		storesDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offline_hub",
			Name:      "stores_deleted_total",
			Help:      "Outdated cache stores removed during activation.",
		}, []string{"site"}),
	}
	m.registry.MustRegister(m.fetches, m.fetchDuration, m.revalidations, m.lifecycle, m.storesDeleted)
	return m
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler 返回 Prometheus 文本格式的 http.Handler。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeFetch(site, strategy string, outcome Outcome, started time.Time) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(site, strategy, string(outcome)).Inc()
	m.fetchDuration.WithLabelValues(site, strategy).Observe(time.Since(started).Seconds())
}

func (m *Metrics) observeRevalidation(site, result string) {
	if m == nil {
		return
	}
	m.revalidations.WithLabelValues(site, result).Inc()
}

func (m *Metrics) observeLifecycle(site, event string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.lifecycle.WithLabelValues(site, event, result).Inc()
}

func (m *Metrics) observeStoresDeleted(site string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.storesDeleted.WithLabelValues(site).Add(float64(count))
}
