// Package metrics exposes pipeline, limiter and coordination statistics in
// Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/dyluth/patchbay/internal/ratelimit"
	"github.com/dyluth/patchbay/pkg/coordination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "patchbay"

// LimiterSource provides rate limiter statistics.
type LimiterSource interface {
	Stats() ratelimit.Stats
}

// BusSource provides coordination bus statistics.
type BusSource interface {
	Stats() coordination.BusStats
}

// Metrics owns a private registry with the pipeline instruments and a
// collector that reads limiter and bus stats on scrape.
type Metrics struct {
	registry *prometheus.Registry
	latency  prometheus.Histogram
	outcomes *prometheus.CounterVec
}

// New creates the registry. Either source may be nil.
func New(limiter LimiterSource, bus BusSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_latency_seconds",
			Help:      "End-to-end command pipeline latency",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Chat messages processed, by outcome",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.latency, m.outcomes, &statsCollector{limiter: limiter, bus: bus})
	return m
}

// ObserveCommand records one pipeline run.
func (m *Metrics) ObserveCommand(outcome string, elapsed time.Duration) {
	m.outcomes.WithLabelValues(outcome).Inc()
	m.latency.Observe(elapsed.Seconds())
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

var (
	limiterRequestsDesc = prometheus.NewDesc(
		namespace+"_ratelimit_requests_total", "Rate limit checks performed", nil, nil)
	limiterBlocksDesc = prometheus.NewDesc(
		namespace+"_ratelimit_blocks_total", "Rate limit rejections by tier", []string{"tier"}, nil)
	limiterAdminDesc = prometheus.NewDesc(
		namespace+"_ratelimit_admin_overrides_total", "Admin fast-path admissions", nil, nil)
	limiterDegradedDesc = prometheus.NewDesc(
		namespace+"_ratelimit_degraded_total", "Checks decided without the cooldown store", nil, nil)
	systemTokensDesc = prometheus.NewDesc(
		namespace+"_ratelimit_system_tokens", "Tokens left in the system bucket", nil, nil)
	variableBucketsDesc = prometheus.NewDesc(
		namespace+"_ratelimit_variable_buckets", "Tracked per-variable buckets", nil, nil)

	busEventsDesc = prometheus.NewDesc(
		namespace+"_coordination_events_total", "Coordination bus events by result", []string{"result"}, nil)
)

// statsCollector turns stats snapshots into const metrics at scrape time.
type statsCollector struct {
	limiter LimiterSource
	bus     BusSource
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- limiterRequestsDesc
	ch <- limiterBlocksDesc
	ch <- limiterAdminDesc
	ch <- limiterDegradedDesc
	ch <- systemTokensDesc
	ch <- variableBucketsDesc
	ch <- busEventsDesc
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.limiter != nil {
		s := c.limiter.Stats()
		ch <- prometheus.MustNewConstMetric(limiterRequestsDesc, prometheus.CounterValue, float64(s.TotalRequests))
		ch <- prometheus.MustNewConstMetric(limiterBlocksDesc, prometheus.CounterValue, float64(s.UserBlocks), "user")
		ch <- prometheus.MustNewConstMetric(limiterBlocksDesc, prometheus.CounterValue, float64(s.SystemBlocks), "system")
		ch <- prometheus.MustNewConstMetric(limiterBlocksDesc, prometheus.CounterValue, float64(s.VariableBlocks), "variable")
		ch <- prometheus.MustNewConstMetric(limiterBlocksDesc, prometheus.CounterValue, float64(s.AdminBlocks), "admin")
		ch <- prometheus.MustNewConstMetric(limiterAdminDesc, prometheus.CounterValue, float64(s.AdminOverrides))
		ch <- prometheus.MustNewConstMetric(limiterDegradedDesc, prometheus.CounterValue, float64(s.Degraded))
		ch <- prometheus.MustNewConstMetric(systemTokensDesc, prometheus.GaugeValue, float64(s.System.Tokens))
		ch <- prometheus.MustNewConstMetric(variableBucketsDesc, prometheus.GaugeValue, float64(s.VariableBuckets))
	}
	if c.bus != nil {
		s := c.bus.Stats()
		ch <- prometheus.MustNewConstMetric(busEventsDesc, prometheus.CounterValue, float64(s.Published), "published")
		ch <- prometheus.MustNewConstMetric(busEventsDesc, prometheus.CounterValue, float64(s.PublishFailures), "publish_failed")
		ch <- prometheus.MustNewConstMetric(busEventsDesc, prometheus.CounterValue, float64(s.Received), "received")
		ch <- prometheus.MustNewConstMetric(busEventsDesc, prometheus.CounterValue, float64(s.SelfFiltered), "self_filtered")
		ch <- prometheus.MustNewConstMetric(busEventsDesc, prometheus.CounterValue, float64(s.DecodeErrors), "decode_error")
	}
}
