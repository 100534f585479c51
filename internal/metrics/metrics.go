// Package metrics holds the process-wide Prometheus collectors for the ask
// pipeline. Collaborators record through the helper funcs here so the rest
// of the tree carries no Prometheus imports.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	asksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asks_total",
		Help: "Finished ask requests by final status.",
	}, []string{"status"})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ask_cache_hits_total",
		Help: "Ask responses served from the response cache.",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ask_cache_misses_total",
		Help: "Ask cache lookups that fell through to the pipeline.",
	})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Model tokens consumed, split into prompt and completion.",
	}, []string{"kind"})

	llmCostUSD = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llm_cost_usd_total",
		Help: "Estimated model spend in USD.",
	})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "query_duration_seconds",
		Help:    "Wall-clock duration of executed analysis queries.",
		Buckets: prometheus.DefBuckets,
	})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limited_total",
		Help: "Requests rejected by the rate limiter, by bucket.",
	}, []string{"bucket"})
)

// Handler serves the default registry. The server mounts it at /metrics.
func Handler() http.Handler { return promhttp.Handler() }

// ObserveAsk records one finished ask request with its final status.
func ObserveAsk(status string) { asksTotal.WithLabelValues(status).Inc() }

// CacheHit records an ask response served from cache.
func CacheHit() { cacheHits.Inc() }

// CacheMiss records an ask cache lookup that missed.
func CacheMiss() { cacheMisses.Inc() }

// ModelUsage records token counts and estimated spend for one model call.
func ModelUsage(promptTokens, completionTokens int, usd float64) {
	llmTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	llmTokens.WithLabelValues("completion").Add(float64(completionTokens))
	llmCostUSD.Add(usd)
}

// QueryDuration records the wall-clock duration of one executed query.
func QueryDuration(seconds float64) { queryDuration.Observe(seconds) }

// RateLimited records a request rejected by the named bucket.
func RateLimited(bucket string) { rateLimited.WithLabelValues(bucket).Inc() }
