package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	turnOutcome = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supportrag_turns_total",
		Help: "Query turns by terminal outcome (answered, cached, suppressed, failed)",
	}, []string{"outcome"})

	stageLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supportrag_stage_latency_ms",
		Help:    "Latency of pipeline stages in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800, 1600, 3200, 6400, 12800},
	}, []string{"stage"})

	cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supportrag_cache_lookups_total",
		Help: "Result cache lookups by result (hit/miss)",
	}, []string{"result"})

	retrievalResults = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supportrag_retrieval_results",
		Help:    "Number of matches returned by a vector backend",
		Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50},
	}, []string{"backend"})

	retryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supportrag_retry_attempts_total",
		Help: "Retried attempts per operation",
	}, []string{"op"})

	enrichmentFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supportrag_enrichment_failures_total",
		Help: "Failed enrichment API calls",
	}, []string{"api"})
)

// Register adds the collectors to the default registry. It is safe to call
// more than once.
func Register() {
	ensureRegistered()
}

func ensureRegistered() {
	once.Do(func() {
		prometheus.MustRegister(Collectors()...)
	})
}

// IncTurn counts a finished turn by outcome.
func IncTurn(outcome string) {
	ensureRegistered()
	turnOutcome.WithLabelValues(outcome).Inc()
}

// ObserveStage records the latency of one pipeline stage.
func ObserveStage(stage string, start time.Time) {
	ensureRegistered()
	stageLatency.WithLabelValues(stage).Observe(float64(time.Since(start).Milliseconds()))
}

// ObserveCache records a result cache lookup.
func ObserveCache(hit bool) {
	ensureRegistered()
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveRetrieval records latency and result size for a backend.
func ObserveRetrieval(backend string, start time.Time, results int) {
	ensureRegistered()
	stageLatency.WithLabelValues("search_" + backend).Observe(float64(time.Since(start).Milliseconds()))
	retrievalResults.WithLabelValues(backend).Observe(float64(results))
}

// IncRetry counts one retried attempt.
func IncRetry(op string) {
	ensureRegistered()
	retryAttempts.WithLabelValues(op).Inc()
}

// IncEnrichmentFailure counts a failed enrichment call.
func IncEnrichmentFailure(api string) {
	ensureRegistered()
	enrichmentFailures.WithLabelValues(api).Inc()
}

// Collectors exposes all collectors for external registration with a custom registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		turnOutcome, stageLatency, cacheLookups, retrievalResults, retryAttempts, enrichmentFailures,
	}
}
