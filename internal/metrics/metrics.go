// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the capture, index and query paths.
type Metrics struct {
	CapturesTotal   *prometheus.CounterVec
	CaptureDuration prometheus.Histogram
	EvictionsTotal  *prometheus.CounterVec

	IndexQueueDepth    prometheus.Gauge
	IndexedTotal       prometheus.Counter
	IndexFailuresTotal *prometheus.CounterVec
	IndexSize          prometheus.Gauge
	EmbedDuration      prometheus.Histogram

	SearchesTotal  *prometheus.CounterVec
	SearchDuration *prometheus.HistogramVec
	QueryCacheHits prometheus.Counter
	QueryCacheMiss prometheus.Counter

	AnswersTotal *prometheus.CounterVec
	LLMDuration  prometheus.Histogram
}

// NewMetrics creates and registers the collectors. Registration happens once
// per process; later calls return the same instance.
//
// Metrics:
//   - mnemo_captures_total{source,status}
//   - mnemo_capture_duration_seconds
//   - mnemo_evictions_total{source}
//   - mnemo_index_queue_depth
//   - mnemo_indexed_total
//   - mnemo_index_failures_total{kind}
//   - mnemo_index_size
//   - mnemo_embed_duration_seconds
//   - mnemo_searches_total{mode,status}
//   - mnemo_search_duration_seconds{mode}
//   - mnemo_query_cache_hits_total, mnemo_query_cache_misses_total
//   - mnemo_answers_total{status}
//   - mnemo_llm_duration_seconds
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			CapturesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "mnemo_captures_total",
				Help: "Capture events by source and outcome",
			}, []string{"source", "status"}),
			CaptureDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "mnemo_capture_duration_seconds",
				Help:    "Time spent in the synchronous capture path",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
			}),
			EvictionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "mnemo_evictions_total",
				Help: "Entries removed by retention limits",
			}, []string{"source"}),

			IndexQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "mnemo_index_queue_depth",
				Help: "Entries waiting for an embedding",
			}),
			IndexedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "mnemo_indexed_total",
				Help: "Entries embedded and added to the vector index",
			}),
			IndexFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "mnemo_index_failures_total",
				Help: "Embedding failures by kind (retry, permanent, dropped)",
			}, []string{"kind"}),
			IndexSize: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "mnemo_index_size",
				Help: "Vectors held in the in-memory index",
			}),
			EmbedDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "mnemo_embed_duration_seconds",
				Help:    "Embedding provider latency",
				Buckets: prometheus.DefBuckets,
			}),

			SearchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "mnemo_searches_total",
				Help: "Searches by mode and status",
			}, []string{"mode", "status"}),
			SearchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "mnemo_search_duration_seconds",
				Help:    "Search latency by mode",
				Buckets: prometheus.DefBuckets,
			}, []string{"mode"}),
			QueryCacheHits: promauto.NewCounter(prometheus.CounterOpts{
				Name: "mnemo_query_cache_hits_total",
				Help: "Query embeddings served from cache",
			}),
			QueryCacheMiss: promauto.NewCounter(prometheus.CounterOpts{
				Name: "mnemo_query_cache_misses_total",
				Help: "Query embeddings computed by the provider",
			}),

			AnswersTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "mnemo_answers_total",
				Help: "Ask requests by status (answered, degraded, empty)",
			}, []string{"status"}),
			LLMDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "mnemo_llm_duration_seconds",
				Help:    "LLM generation latency",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			}),
		}
	})
	return globalMetrics
}
