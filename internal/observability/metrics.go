package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/upb/ai-gateway/services/usage"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Gateway metrics
	chatRequests   *prometheus.CounterVec
	chatTokens     *prometheus.CounterVec
	chatCost       *prometheus.CounterVec
	chatDuration   *prometheus.HistogramVec
	chatUnpriced   *prometheus.CounterVec
	credentialsSet prometheus.Gauge
}

// NewMetrics creates a registry with runtime collectors and gateway metrics
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),

		chatRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_chat_requests_total",
				Help: "Chat calls by provider, model and outcome",
			},
			[]string{"provider", "model", "status"},
		),
		chatTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_chat_tokens_total",
				Help: "Tokens consumed by provider, model and direction",
			},
			[]string{"provider", "model", "direction"},
		),
		chatCost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_chat_cost_usd_total",
				Help: "Accumulated cost in the reference currency",
			},
			[]string{"provider", "model"},
		),
		chatDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_chat_duration_seconds",
				Help:    "Vendor call duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider", "model", "status"},
		),
		chatUnpriced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_chat_unpriced_total",
				Help: "Successful calls whose model had no price entry",
			},
			[]string{"provider", "model"},
		),
		credentialsSet: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_configured_providers",
				Help: "Number of providers with active credentials",
			},
		),
	}

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestsInFlight,
		m.chatRequests,
		m.chatTokens,
		m.chatCost,
		m.chatDuration,
		m.chatUnpriced,
		m.credentialsSet,
	)
	return m
}

// RecordRequest records metrics for an HTTP request
func (m *Metrics) RecordRequest(method, path string, status int, duration float64) {
	m.httpRequestsTotal.WithLabelValues(method, path, statusToString(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests
func (m *Metrics) InFlightInc() {
	m.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests
func (m *Metrics) InFlightDec() {
	m.httpRequestsInFlight.Dec()
}

// SetConfiguredProviders sets the configured provider gauge
func (m *Metrics) SetConfiguredProviders(n int) {
	m.credentialsSet.Set(float64(n))
}

// Record implements usage.Sink
func (m *Metrics) Record(rec usage.UsageRecord) {
	status := "success"
	if !rec.Success {
		status = rec.ErrorKind
		if status == "" {
			status = "error"
		}
	}

	m.chatRequests.WithLabelValues(rec.Provider, rec.Model, status).Inc()
	m.chatDuration.WithLabelValues(rec.Provider, rec.Model, status).Observe(float64(rec.DurationMs) / 1000)

	if !rec.Success {
		return
	}
	m.chatTokens.WithLabelValues(rec.Provider, rec.Model, "prompt").Add(float64(rec.PromptTokens))
	m.chatTokens.WithLabelValues(rec.Provider, rec.Model, "completion").Add(float64(rec.CompletionTokens))
	m.chatCost.WithLabelValues(rec.Provider, rec.Model).Add(rec.Cost)
	if !rec.Priced {
		m.chatUnpriced.WithLabelValues(rec.Provider, rec.Model).Inc()
	}
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
