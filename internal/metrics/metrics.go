// Package metrics holds the Prometheus collectors of the proxy.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/eternisai/content-planner-proxy/internal/googleauth"
	"github.com/eternisai/content-planner-proxy/internal/httpclient"
	"github.com/eternisai/content-planner-proxy/internal/keypool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	prommodel "github.com/prometheus/common/model"
)

const namespace = "planner"

// Metrics groups all collectors. Create one per process with New and pass it around.
type Metrics struct {
	registry *prometheus.Registry

	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec

	keyAttempts  *prometheus.CounterVec
	keyExhausted *prometheus.CounterVec

	tokenFetches       *prometheus.CounterVec
	tokenFetchDuration prometheus.Histogram

	webhookEvents      *prometheus.CounterVec
	premiumActivations *prometheus.CounterVec
}

var (
	_ keypool.Observer         = (*Metrics)(nil)
	_ googleauth.FetchObserver = (*Metrics)(nil)
)

// New creates the collectors and registers them, plus the Go and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Requests sent to upstream APIs by upstream, method and status code.",
		}, []string{"upstream", "method", "code"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of upstream API requests.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"upstream", "method", "code"}),
		keyAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keypool_attempts_total",
			Help:      "Gemini attempts by retry strategy, key source and outcome.",
		}, []string{"strategy", "source", "outcome"}),
		keyExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keypool_exhausted_total",
			Help:      "Requests that failed after every allowed attempt.",
		}, []string{"strategy"}),
		tokenFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_token_fetches_total",
			Help:      "Service account token exchanges by result.",
		}, []string{"result"}),
		tokenFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "access_token_fetch_duration_seconds",
			Help:      "Latency of service account token exchanges.",
			Buckets:   prometheus.DefBuckets,
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Payment webhook deliveries by provider and event status.",
		}, []string{"provider", "status"}),
		premiumActivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "premium_activations_total",
			Help:      "Accounts upgraded to premium by payment source.",
		}, []string{"source"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.upstreamRequests,
		m.upstreamDuration,
		m.keyAttempts,
		m.keyExhausted,
		m.tokenFetches,
		m.tokenFetchDuration,
		m.webhookEvents,
		m.premiumActivations,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// InstrumentUpstream returns a round tripper middleware counting and timing requests to upstream.
func (m *Metrics) InstrumentUpstream(upstream string) httpclient.Middleware {
	labels := prometheus.Labels{"upstream": upstream}
	counter := m.upstreamRequests.MustCurryWith(labels)
	duration := m.upstreamDuration.MustCurryWith(labels)

	return func(next http.RoundTripper) http.RoundTripper {
		return promhttp.InstrumentRoundTripperCounter(counter,
			promhttp.InstrumentRoundTripperDuration(duration, next))
	}
}

// ObserveAttempt implements keypool.Observer.
func (m *Metrics) ObserveAttempt(strategy keypool.Strategy, source keypool.Source, outcome keypool.Outcome) {
	m.keyAttempts.WithLabelValues(string(strategy), string(source), outcome.String()).Inc()
}

// ObserveExhausted implements keypool.Observer.
func (m *Metrics) ObserveExhausted(strategy keypool.Strategy) {
	m.keyExhausted.WithLabelValues(string(strategy)).Inc()
}

// ObserveTokenFetch implements googleauth.FetchObserver.
func (m *Metrics) ObserveTokenFetch(err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
		var tokenErr *googleauth.TokenError
		if errors.As(err, &tokenErr) {
			result = "rejected"
		}
	}

	m.tokenFetches.WithLabelValues(result).Inc()
	m.tokenFetchDuration.Observe(duration.Seconds())
}

// WebhookEvent counts a webhook delivery. status comes from the request body, so it is sanitized.
func (m *Metrics) WebhookEvent(provider, status string) {
	m.webhookEvents.WithLabelValues(provider, labelValue(status)).Inc()
}

// PremiumActivated counts a successful premium upgrade.
func (m *Metrics) PremiumActivated(source string) {
	m.premiumActivations.WithLabelValues(source).Inc()
}

// labelValue keeps label cardinality bounded for values taken from untrusted input.
func labelValue(v string) string {
	if v == "" || len(v) > 64 || !prommodel.LabelValue(v).IsValid() {
		return "other"
	}
	return v
}
