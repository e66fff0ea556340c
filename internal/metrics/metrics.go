// Package metrics exposes Prometheus collectors for the harvester.
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
	pagesTotal                 *prometheus.CounterVec
	bytesTotal                 *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	recordsTotal               *prometheus.CounterVec
	flushesTotal               *prometheus.CounterVec
	robotsFallbackTotal        prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	residentMemoryBytes        prometheus.Gauge
	residentMemoryPeakBytes    prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Total number of pages fetched, labeled by phase and status.",
			},
			[]string{"phase", "status"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by engine.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"engine"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_total",
				Help: "Records and URLs by outcome; failures carry the failure kind.",
			},
			[]string{"outcome", "kind"},
		)

		flushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_flushes_total",
				Help: "Batch upserts, labeled by status.",
			},
			[]string{"status"},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_robots_fallback_total",
				Help: "Times robots.txt could not be fetched and allow-all was assumed.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		residentMemoryBytes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_resident_memory_bytes",
				Help: "Most recent resident set size sample.",
			},
		)

		residentMemoryPeakBytes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_resident_memory_peak_bytes",
				Help: "Highest resident set size sampled during the run.",
			},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
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

// ObservePage counts one fetched page for a phase ("discover" or "extract").
func ObservePage(phase, site string, success bool, bytesFetched int) {
	if pagesTotal == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	pagesTotal.WithLabelValues(phase, status).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
}

// ObserveFetch records how long one fetch took.
func ObserveFetch(headless bool, duration time.Duration) {
	if fetchDurationSeconds == nil {
		return
	}
	engine := "http"
	if headless {
		engine = "headless"
	}
	fetchDurationSeconds.WithLabelValues(engine).Observe(duration.Seconds())
}

// ObserveRecords adds n records that were upserted successfully.
func ObserveRecords(n int) {
	if recordsTotal == nil || n <= 0 {
		return
	}
	recordsTotal.WithLabelValues("success", "").Add(float64(n))
}

// ObserveFailure counts n failures of the given kind.
func ObserveFailure(kind string, n int) {
	if recordsTotal == nil || n <= 0 {
		return
	}
	recordsTotal.WithLabelValues("failed", kind).Add(float64(n))
}

// ObserveFlush counts one batch upsert.
func ObserveFlush(ok bool) {
	if flushesTotal == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	flushesTotal.WithLabelValues(status).Inc()
}

// ObserveRobotsFallback increments the robots.txt allow-all fallback counter.
func ObserveRobotsFallback() {
	if robotsFallbackTotal == nil {
		return
	}
	robotsFallbackTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if rateLimitDelaysSeconds == nil {
		return
	}
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveMemory publishes the latest and peak RSS samples.
func ObserveMemory(current, peak uint64) {
	if residentMemoryBytes == nil {
		return
	}
	residentMemoryBytes.Set(float64(current))
	residentMemoryPeakBytes.Set(float64(peak))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
