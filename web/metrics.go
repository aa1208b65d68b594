package web

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the Prometheus registry used by this package
	Registry = prometheus.NewRegistry()

	// RequestDuration measures request latency
	RequestDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RequestsTotal counts requests by route and status code
	RequestsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by status code",
		},
		[]string{"method", "path", "code"},
	)

	subscribersGauge = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "web_event_subscribers",
			Help: "Open websocket event streams",
		},
	)

	eventsDropped = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "web_events_dropped_total",
			Help: "Events not delivered to a subscriber that fell behind",
		},
	)
)

// MetricsConfig holds configuration for the metrics middleware
type MetricsConfig struct {
	// Skipper defines a function to skip middleware
	Skipper func(c echo.Context) bool
}

// Metrics returns middleware recording request metrics, /metrics itself is skipped
func Metrics() echo.MiddlewareFunc {
	return MetricsWithConfig(MetricsConfig{
		Skipper: func(c echo.Context) bool { return c.Path() == "/metrics" },
	})
}

// MetricsWithConfig returns the metrics middleware with config
func MetricsWithConfig(config MetricsConfig) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = func(echo.Context) bool { return false }
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Skipper(c) {
				return next(c)
			}

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			// c.Path() is the route pattern, which keeps cardinality low
			method := c.Request().Method
			RequestDuration.WithLabelValues(method, c.Path()).Observe(time.Since(start).Seconds())
			RequestsTotal.WithLabelValues(method, c.Path(), strconv.Itoa(c.Response().Status)).Inc()
			return nil
		}
	}
}
