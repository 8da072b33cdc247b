// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the gateway registers, along
// with the registry they're registered to. Each instance owns its own
// registry rather than registering into prometheus's global default one,
// so multiple instances (as in tests) never collide on duplicate metric
// names.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge

	sponsorshipTotal *prometheus.CounterVec
	signerDuration   *prometheus.HistogramVec
	mempoolTotal     *prometheus.CounterVec
	policyRejections *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paymaster_relay_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paymaster_relay_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		activeRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "paymaster_relay_active_requests",
				Help: "Number of currently active requests",
			},
		),
		sponsorshipTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paymaster_relay_sponsorship_total",
				Help: "Total number of pm_sponsorUserOperation outcomes",
			},
			[]string{"result"},
		),
		signerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paymaster_relay_signer_duration_seconds",
				Help:    "Time spent producing a sponsorship signature",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		mempoolTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paymaster_relay_mempool_submissions_total",
				Help: "Total number of UserOperations submitted to the bundler",
			},
			[]string{"result"},
		),
		policyRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paymaster_relay_policy_rejections_total",
				Help: "Total number of sponsorship requests rejected by a policy rule",
			},
			[]string{"rule"},
		),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeRequests,
		m.sponsorshipTotal,
		m.signerDuration,
		m.mempoolTotal,
		m.policyRejections,
	)

	return m
}

// Middleware returns a Gin middleware that records HTTP request metrics.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		m.activeRequests.Inc()

		c.Next()

		m.activeRequests.Dec()
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		m.requestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), status).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, c.FullPath()).Observe(duration)
	}
}

// RecordSponsorship records the terminal outcome of one sponsorship request.
func (m *Metrics) RecordSponsorship(result string) {
	m.sponsorshipTotal.WithLabelValues(result).Inc()
}

// RecordSignerDuration records how long a signer backend took to sign.
func (m *Metrics) RecordSignerDuration(backend string, d time.Duration) {
	m.signerDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordMempoolSubmission records whether the bundler accepted or rejected
// a submission.
func (m *Metrics) RecordMempoolSubmission(result string) {
	m.mempoolTotal.WithLabelValues(result).Inc()
}

// RecordPolicyRejection records which rule rejected a request.
func (m *Metrics) RecordPolicyRejection(rule string) {
	m.policyRejections.WithLabelValues(rule).Inc()
}

// Handler returns the Prometheus scrape endpoint handler.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
