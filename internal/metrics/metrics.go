package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusmarket_http_requests_total",
			Help: "Total number of HTTP requests processed by the marketplace service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campusmarket_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	storeOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusmarket_store_ops_total",
			Help: "Table loads and saves against the persistence substrate.",
		},
		[]string{"table", "op", "result"},
	)
	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusmarket_events_published_total",
			Help: "Marketplace events handed to the event publisher.",
		},
		[]string{"event", "result"},
	)
	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusmarket_rate_limited_total",
			Help: "Requests rejected by the per-user rate limiter.",
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		storeOpsTotal,
		eventsPublishedTotal,
		rateLimitedTotal,
	)
}

// ObserveHTTP records one served request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveStoreOp records a substrate load or save.
func ObserveStoreOp(table, op string, err error) {
	storeOpsTotal.WithLabelValues(table, op, result(err)).Inc()
}

// ObserveEvent records an event publish attempt.
func ObserveEvent(event string, err error) {
	eventsPublishedTotal.WithLabelValues(event, result(err)).Inc()
}

// IncRateLimited counts a request blocked by the limiter.
func IncRateLimited(action string) {
	rateLimitedTotal.WithLabelValues(action).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
