package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LaunchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lti_launches_total",
		Help: "LTI launch attempts by outcome (ok|rejected).",
	}, []string{"outcome"})

	GradeSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ags_grade_sync_total",
		Help: "AGS score submissions by outcome (sent|skipped|failed).",
	}, []string{"outcome"})

	ProviderCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_provider_calls_total",
		Help: "Upstream LLM calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	ChatLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tutor_chat_duration_seconds",
		Help:    "End-to-end chat relay latency.",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler serves the prometheus scrape endpoint.
func Handler() http.Handler { return promhttp.Handler() }
