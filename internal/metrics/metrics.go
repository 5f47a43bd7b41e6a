// Package metrics registers the Prometheus collectors shared across the
// pipeline and the HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ScrapesTotal counts finished scrapes by extraction path and outcome.
	ScrapesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxdstory_scrapes_total",
			Help: "Finished scrapes by path (unfurl, dom, browser) and outcome",
		},
		[]string{"path", "outcome"},
	)

	// RelayAttempts counts individual relay tries by endpoint and result.
	// Used to tune the relay priority list.
	RelayAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxdstory_relay_attempts_total",
			Help: "CORS relay attempts by endpoint and result",
		},
		[]string{"relay", "result"},
	)

	// EnrichmentLookups counts metadata enrichment calls by result.
	EnrichmentLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxdstory_enrichment_lookups_total",
			Help: "TMDB enrichment lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxdstory_http_requests_total",
			Help: "HTTP requests by method, endpoint and status",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boxdstory_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func init() {
	prometheus.MustRegister(
		ScrapesTotal,
		RelayAttempts,
		EnrichmentLookups,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// Middleware records request counts and latencies for every route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
