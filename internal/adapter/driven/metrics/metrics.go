// Package metrics exports refresh-scheduler and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/authenticator/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RefreshMetrics = (*Collector)(nil)

const namespace = "authenticator"

// Collector records scheduler tick outcomes and API request metrics.
type Collector struct {
	ticks       *prometheus.CounterVec
	tickLatency prometheus.Histogram
	retries     prometheus.Counter
	tracked     prometheus.Gauge
	requests    *prometheus.CounterVec
	reqLatency  *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_ticks_total",
			Help:      "Refresh ticks by outcome.",
		}, []string{"outcome"}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_tick_duration_seconds",
			Help:      "Time spent fetching the secret and computing a pin.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_retries_total",
			Help:      "Backoff retries scheduled after failed ticks.",
		}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_tracked_accounts",
			Help:      "Accounts currently tracked by the refresh scheduler.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		reqLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	// Outcomes are pre-declared so they export as zero before the first tick.
	for _, outcome := range []string{driven.TickOK, driven.TickFailed, driven.TickPruned} {
		c.ticks.WithLabelValues(outcome)
	}

	reg.MustRegister(
		c.ticks,
		c.tickLatency,
		c.retries,
		c.tracked,
		c.requests,
		c.reqLatency,
	)

	return c
}

// ObserveTick records one scheduler tick.
func (c *Collector) ObserveTick(outcome string, latency time.Duration) {
	c.ticks.WithLabelValues(outcome).Inc()
	c.tickLatency.Observe(latency.Seconds())
}

// RetryScheduled counts a backoff retry.
func (c *Collector) RetryScheduled() {
	c.retries.Inc()
}

// SetTracked sets the number of tracked accounts.
func (c *Collector) SetTracked(n int) {
	c.tracked.Set(float64(n))
}

// ObserveRequest records one API request. route is the mux pattern, not the
// raw path, to keep label cardinality bounded.
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.reqLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewRegistry returns a private registry preloaded with the Go runtime and
// process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
