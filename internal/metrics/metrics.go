// Package metrics exposes Prometheus collectors for retrieval, reranking and
// embedding. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ltm"

type Metrics struct {
	retrievalDuration *prometheus.HistogramVec
	retrievalResults  prometheus.Histogram
	rerankOutcomes    *prometheus.CounterVec
	lexicalSkipped    *prometheus.CounterVec
	noiseFiltered     prometheus.Counter
	embeddingCache    *prometheus.CounterVec
	vendorRequests    *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		retrievalDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Time spent in Retrieve, by retrieval mode.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		retrievalResults: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "results",
			Help:      "Number of results returned per Retrieve call.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 20},
		}),
		rerankOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "rerank_total",
			Help:      "Rerank attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		lexicalSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "lexical_skipped_total",
			Help:      "Hybrid retrievals that ran without lexical candidates.",
		}, []string{"reason"}),
		noiseFiltered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "noise_filtered_total",
			Help:      "Candidates dropped by the noise filter.",
		}),
		embeddingCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "cache_total",
			Help:      "Embedding cache lookups by result.",
		}, []string{"result"}),
		vendorRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vendor",
			Name:      "requests_total",
			Help:      "Requests sent to embedding and rerank vendors.",
		}, []string{"provider", "status"}),
	}
}

func (m *Metrics) ObserveRetrieval(mode string, elapsed time.Duration, results int) {
	if m == nil {
		return
	}
	m.retrievalDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	m.retrievalResults.Observe(float64(results))
}

func (m *Metrics) Rerank(strategy, outcome string) {
	if m == nil {
		return
	}
	m.rerankOutcomes.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) LexicalSkipped(reason string) {
	if m == nil {
		return
	}
	m.lexicalSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) NoiseFiltered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.noiseFiltered.Add(float64(n))
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.embeddingCache.WithLabelValues("hit").Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.embeddingCache.WithLabelValues("miss").Inc()
}

// VendorRequest counts one vendor call. Status 0 means a transport failure.
func (m *Metrics) VendorRequest(provider string, status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.vendorRequests.WithLabelValues(provider, label).Inc()
}
