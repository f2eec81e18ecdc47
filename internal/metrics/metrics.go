// Package metrics holds the Prometheus collectors of a citypulse process.
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

const namespace = "citypulse"

// Metrics owns a private registry so tests and embedders can create as
// many as they like. All methods are safe on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	rowsFetched   *prometheus.GaugeVec
	seriesBuckets *prometheus.GaugeVec
	stageDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates and registers every collector.
func New(version string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Source fetches by outcome.",
		}, []string{"source", "status"}),
		rowsFetched: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_rows",
			Help:      "Rows returned by the last fetch of a source.",
		}, []string{"source"}),
		seriesBuckets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "series_buckets",
			Help:      "Buckets in the last resampled series.",
		}, []string{"series"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"status"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "endpoint", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information.",
	}, []string{"version"})
	info.WithLabelValues(version).Set(1)

	reg.MustRegister(
		m.fetches, m.rowsFetched, m.seriesBuckets, m.stageDuration,
		m.runs, m.lastSuccess, m.httpRequests, m.httpDuration, info,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveFetch records one source fetch.
func (m *Metrics) ObserveFetch(source string, rows int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues("fetch").Observe(d.Seconds())
	if err != nil {
		m.fetches.WithLabelValues(source, "error").Inc()
		return
	}
	m.fetches.WithLabelValues(source, "ok").Inc()
	m.rowsFetched.WithLabelValues(source).Set(float64(rows))
}

// ObserveStage records the duration of a named stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveSeries records the size of a produced series.
func (m *Metrics) ObserveSeries(name string, buckets int) {
	if m == nil {
		return
	}
	m.seriesBuckets.WithLabelValues(name).Set(float64(buckets))
}

// ObserveRun records the outcome of a pipeline run.
func (m *Metrics) ObserveRun(finished time.Time, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.runs.WithLabelValues("error").Inc()
		return
	}
	m.runs.WithLabelValues("ok").Inc()
	m.lastSuccess.Set(float64(finished.Unix()))
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Middleware returns gin middleware that counts requests.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		method := c.Request.Method
		m.httpRequests.WithLabelValues(method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	}
}
