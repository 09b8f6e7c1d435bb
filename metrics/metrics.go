// Package metrics provides Prometheus metrics for the agent
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Turn metrics
	TurnsTotal           *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec
	ProviderErrorsTotal  *prometheus.CounterVec
	SessionsCreated      prometheus.Counter
}

// New creates all metrics on a dedicated registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_turns_total",
				Help: "Total number of processed turns",
			},
			[]string{"input", "outcome"},
		),
		ProviderCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_provider_call_duration_seconds",
				Help:    "Duration of external provider calls in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		ProviderErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_provider_errors_total",
				Help: "Total number of failed external provider calls",
			},
			[]string{"kind"},
		),
		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_sessions_created_total",
				Help: "Total number of sessions seeded with the system message",
			},
		),
	}
}

// TrackSessions exports held as the number of sessions in process memory.
// Only backends that can count cheaply are tracked.
func (m *Metrics) TrackSessions(held func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "agent_sessions_held",
			Help: "Number of sessions held in process memory",
		},
		func() float64 { return float64(held()) },
	))
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn counts a finished turn
func (m *Metrics) RecordTurn(input, outcome string) {
	m.TurnsTotal.WithLabelValues(input, outcome).Inc()
}

// RecordProviderCall observes a provider call and counts it as failed if err is set
func (m *Metrics) RecordProviderCall(kind string, duration time.Duration, err error) {
	m.ProviderCallDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if err != nil {
		m.ProviderErrorsTotal.WithLabelValues(kind).Inc()
	}
}

// Middleware records request counts and latency per matched route
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
