// Package metrics holds the gateway's Prometheus collectors.
//
// A Collector owns its registry, so several gateways (or tests) can live in
// one process without colliding on the default registerer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "toolgate"

// Collector records tool call, batch and HTTP metrics.
type Collector struct {
	registry *prometheus.Registry

	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	batches      *prometheus.CounterVec
	batchSize    prometheus.Histogram
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a Collector with Go runtime and process collectors attached.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Tool calls by backend, tool and outcome.",
			},
			[]string{"server", "tool", "outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Tool call duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"server", "tool"},
		),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Batch requests by status.",
			},
			[]string{"status"},
		),
		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_calls",
				Help:      "Number of calls per accepted batch.",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	c.registry.MustRegister(
		c.toolCalls, c.toolDuration, c.batches, c.batchSize, c.httpRequests, c.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveCall records one routed tool call.
func (c *Collector) ObserveCall(server, tool, outcome string, elapsed time.Duration) {
	c.toolCalls.WithLabelValues(server, tool, outcome).Inc()
	c.toolDuration.WithLabelValues(server, tool).Observe(elapsed.Seconds())
}

// ObserveBatch records one batch request. calls is ignored for rejected
// batches.
func (c *Collector) ObserveBatch(status string, calls int) {
	c.batches.WithLabelValues(status).Inc()
	if status == "ok" {
		c.batchSize.Observe(float64(calls))
	}
}

// Middleware records HTTP request counts and durations.
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		path := ctx.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(ctx.Writer.Status())
		c.httpRequests.WithLabelValues(ctx.Request.Method, path, status).Inc()
		c.httpDuration.WithLabelValues(ctx.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
