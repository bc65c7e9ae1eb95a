package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "picshare_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "picshare_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	oauthLoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "picshare_oauth_logins_total",
		Help: "Social login callbacks by provider and outcome.",
	}, []string{"provider", "outcome"})

	accountLinksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "picshare_account_links_total",
		Help: "Account link operations by provider, operation, and outcome.",
	}, []string{"provider", "op", "outcome"})

	healthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "picshare_health_checks_total",
		Help: "Dependency health probes by component and result.",
	}, []string{"component", "result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordHealthCheck records a dependency probe result.
func RecordHealthCheck(component string, success bool) {
	if success {
		healthChecksTotal.WithLabelValues(component, "success").Inc()
	} else {
		healthChecksTotal.WithLabelValues(component, "failure").Inc()
	}
}

// outcome labels err by its error code.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return classify(err).Code
}

func recordLogin(provider string, isNew bool, err error) {
	o := outcome(err)
	if err == nil && isNew {
		o = "new_account"
	}
	oauthLoginsTotal.WithLabelValues(provider, o).Inc()
}

func recordLink(provider, op string, err error) {
	accountLinksTotal.WithLabelValues(provider, op, outcome(err)).Inc()
}
