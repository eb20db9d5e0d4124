// Package metrics exposes Prometheus collectors for the ImportScout service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	ingestionsTotal            *prometheus.CounterVec
	ingestionDurationSeconds   prometheus.Histogram
	leadsTotal                 prometheus.Counter
	agentDurationSeconds       *prometheus.HistogramVec
	agentWaitSeconds           prometheus.Histogram
	deliveriesTotal            *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)

		ingestionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "importscout_ingestions_total",
				Help: "Total ingestion runs, labeled by result.",
			},
			[]string{"result"},
		)

		ingestionDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "importscout_ingestion_duration_seconds",
				Help:    "Wall time per ingestion run.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
		)

		leadsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "importscout_leads_total",
				Help: "Total leads produced by successful ingestion runs.",
			},
		)

		agentDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "importscout_agent_duration_seconds",
				Help:    "Latency of search agent calls, labeled by result.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"result"},
		)

		agentWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "importscout_agent_rate_limit_wait_seconds",
				Help:    "Histogram of rate limit waits before agent calls.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30},
			},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "importscout_deliveries_total",
				Help: "Webhook deliveries, labeled by kind (batch, probe) and outcome.",
			},
			[]string{"kind", "outcome"},
		)
	})
}

// EndpointHost reduces a URL to a lowercase hostname so that webhook paths and
// query strings never reach logs or labels. It returns "unknown" if the URL is invalid.
func EndpointHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveIngestion records one finished ingestion run.
func ObserveIngestion(result string, leads int, duration time.Duration) {
	Init()
	ingestionsTotal.WithLabelValues(result).Inc()
	ingestionDurationSeconds.Observe(duration.Seconds())
	if leads > 0 {
		leadsTotal.Add(float64(leads))
	}
}

// ObserveAgentCall records the latency of one agent call.
func ObserveAgentCall(result string, duration time.Duration) {
	Init()
	agentDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveAgentWait records the duration of a rate limit wait.
func ObserveAgentWait(duration time.Duration) {
	Init()
	agentWaitSeconds.Observe(duration.Seconds())
}

// ObserveDelivery increments the delivery counter.
func ObserveDelivery(kind, outcome string) {
	Init()
	deliveriesTotal.WithLabelValues(kind, outcome).Inc()
}
