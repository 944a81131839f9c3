// Package metrics exposes Prometheus collectors for the scraper engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsDispatchedTotal    *prometheus.CounterVec
	postsIngestedTotal         *prometheus.CounterVec
	webhooksTotal              *prometheus.CounterVec
	sweeperPollsTotal          *prometheus.CounterVec
	providerCallSeconds        *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		requestsDispatchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_requests_dispatched_total",
				Help: "Total collection requests dispatched, labeled by platform and resulting status.",
			},
			[]string{"platform", "status"},
		)

		postsIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_posts_ingested_total",
				Help: "Total normalized posts upserted, labeled by platform and delivery channel.",
			},
			[]string{"platform", "channel"},
		)

		webhooksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_webhooks_total",
				Help: "Total inbound webhook deliveries, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		sweeperPollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_sweeper_polls_total",
				Help: "Total reconciliation sweeper polls, labeled by result.",
			},
			[]string{"result"},
		)

		providerCallSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_provider_call_duration_seconds",
				Help:    "Histogram of outbound provider call latencies, labeled by provider and operation.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider", "op"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RequestDispatched increments the dispatch counter.
func RequestDispatched(platform, status string) {
	if requestsDispatchedTotal == nil {
		return
	}
	requestsDispatchedTotal.WithLabelValues(platform, status).Inc()
}

// PostsIngested adds to the ingest counter.
func PostsIngested(platform, channel string, count int) {
	if postsIngestedTotal == nil || count <= 0 {
		return
	}
	postsIngestedTotal.WithLabelValues(platform, channel).Add(float64(count))
}

// WebhookReceived increments the webhook delivery counter.
func WebhookReceived(provider, outcome string) {
	if webhooksTotal == nil {
		return
	}
	webhooksTotal.WithLabelValues(provider, outcome).Inc()
}

// SweeperPoll increments the sweeper poll counter.
func SweeperPoll(result string) {
	if sweeperPollsTotal == nil {
		return
	}
	sweeperPollsTotal.WithLabelValues(result).Inc()
}

// ObserveProviderCall records the duration of one outbound provider call.
func ObserveProviderCall(provider, op string, duration time.Duration) {
	if providerCallSeconds == nil {
		return
	}
	providerCallSeconds.WithLabelValues(provider, op).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
