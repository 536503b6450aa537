package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querylift_query_duration_seconds",
			Help:    "End-to-end query processing duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylift_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querylift_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)

	FallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylift_fallback_total",
			Help: "Total fallbacks taken, by reason",
		},
		[]string{"reason"},
	)

	FactInjectionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querylift_fact_injection_total",
			Help: "Total rewrites rejected for introducing new facts",
		},
	)

	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylift_cache_requests_total",
			Help: "Cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	BackendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylift_backend_errors_total",
			Help: "Errors returned by external backends",
		},
		[]string{"backend"},
	)

	UpliftConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querylift_uplift_confidence",
			Help:    "Uplift confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	ExpansionsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querylift_expansions_count",
			Help:    "Number of accepted expansions per query",
			Buckets: []float64{0, 1, 2, 3, 5},
		},
	)

	RetrievalResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querylift_retrieval_results_count",
			Help:    "Number of results per backend per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"source"},
	)

	ProfileSelected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylift_retrieval_profile_total",
			Help: "Retrieval profiles selected",
		},
		[]string{"profile"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylift_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(QueryDuration)
		prometheus.MustRegister(QueryTotal)
		prometheus.MustRegister(StageDuration)
		prometheus.MustRegister(FallbackTotal)
		prometheus.MustRegister(FactInjectionTotal)
		prometheus.MustRegister(CacheRequests)
		prometheus.MustRegister(BackendErrors)
		prometheus.MustRegister(UpliftConfidence)
		prometheus.MustRegister(ExpansionsCount)
		prometheus.MustRegister(RetrievalResults)
		prometheus.MustRegister(ProfileSelected)
		prometheus.MustRegister(LLMTokensUsed)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
