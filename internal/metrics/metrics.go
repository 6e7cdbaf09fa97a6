// Package metrics 导出 Prometheus 指标
package metrics

import (
	"context"
	"net/http"

	"talent-search/internal/ingest"
	"talent-search/internal/search"
	"talent-search/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "talent_search"

// Exporter 检索服务的指标集合
type Exporter struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	tokens      *prometheus.CounterVec
	ingested    *prometheus.CounterVec
	rateLimited prometheus.Counter
}

// Config 指标配置
type Config struct {
	Registry       *prometheus.Registry // 为空时新建
	LatencyBuckets []float64
}

// DefaultConfig 模型调用通常在秒级，桶的上限放到 60s
func DefaultConfig() Config {
	return Config{LatencyBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60}}
}

// NewExporter 创建并注册指标
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	e := &Exporter{registry: registry}
	e.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Search requests by source, status and error kind.",
	}, []string{"source", "status", "kind"})
	e.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Search request latency in seconds.",
		Buckets:   cfg.LatencyBuckets,
	}, []string{"source"})
	e.tokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_tokens_total",
		Help:      "Language model tokens consumed, by direction (input/output).",
	}, []string{"direction"})
	e.ingested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingested_documents_total",
		Help:      "External documents processed during ingestion, by outcome.",
	}, []string{"outcome"})
	e.rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-principal rate limit.",
	})

	registry.MustRegister(e.requests, e.duration, e.tokens, e.ingested, e.rateLimited)
	return e
}

var (
	_ search.Observer = (*Exporter)(nil)
	_ ingest.Recorder = (*Exporter)(nil)
)

// sourceLabel 把来源别名归一，非法来源统一为 invalid，避免标签基数失控
func sourceLabel(s string) string {
	src, err := types.ParseSource(s)
	if err != nil {
		return "invalid"
	}
	return string(src)
}

// ObserveSearch 记录一次检索请求
func (e *Exporter) ObserveSearch(_ context.Context, ev search.SearchEvent) {
	source := sourceLabel(ev.Source)
	e.requests.WithLabelValues(source, ev.Status, ev.Kind).Inc()
	e.duration.WithLabelValues(source).Observe(ev.Latency.Seconds())
	if ev.Usage.InputTokens > 0 {
		e.tokens.WithLabelValues("input").Add(float64(ev.Usage.InputTokens))
	}
	if ev.Usage.OutputTokens > 0 {
		e.tokens.WithLabelValues("output").Add(float64(ev.Usage.OutputTokens))
	}
}

// ObserveIngestedDocument 记录一个外部文档的导入结果
func (e *Exporter) ObserveIngestedDocument(outcome string) {
	e.ingested.WithLabelValues(outcome).Inc()
}

// RecordRateLimited 记录一次限流拒绝
func (e *Exporter) RecordRateLimited() {
	e.rateLimited.Inc()
}

// Registry 底层注册表
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler /metrics 的 net/http handler
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
