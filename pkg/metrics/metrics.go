package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	generationAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brief_generation_attempts_total",
		Help: "Generation round trips by model and outcome",
	}, []string{"model", "outcome"})

	generationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brief_generation_latency_seconds",
		Help:    "Latency of a complete generation call including retries",
		Buckets: []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 120},
	}, []string{"model"})

	fetchResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brief_fetch_total",
		Help: "Page and policy fetches by kind and outcome",
	}, []string{"kind", "outcome"})

	pipelineOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brief_pipeline_total",
		Help: "Summarize and ask invocations by operation and outcome",
	}, []string{"operation", "outcome"})
)

func ensureRegistered() {
	once.Do(func() {
		prometheus.MustRegister(generationAttempts, generationLatency, fetchResults, pipelineOutcomes)
	})
}

// ObserveAttempt counts a single generation round trip.
func ObserveAttempt(model, outcome string) {
	ensureRegistered()
	generationAttempts.WithLabelValues(model, outcome).Inc()
}

// ObserveGeneration records how long a whole Complete call took.
func ObserveGeneration(model string, start time.Time) {
	ensureRegistered()
	generationLatency.WithLabelValues(model).Observe(time.Since(start).Seconds())
}

func IncFetch(kind, outcome string) {
	ensureRegistered()
	fetchResults.WithLabelValues(kind, outcome).Inc()
}

func IncPipeline(operation, outcome string) {
	ensureRegistered()
	pipelineOutcomes.WithLabelValues(operation, outcome).Inc()
}
