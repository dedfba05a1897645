package monitoring

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_request_duration_seconds",
		Help: "Duration of HTTP requests.",
	}, []string{"route"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"route", "method", "code"})

	// RequestsCreated counts service requests posted by customers.
	RequestsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weka_service_requests_created_total",
		Help: "Service requests created.",
	})

	// Transitions counts request state machine outcomes by target status and result.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weka_request_transitions_total",
		Help: "Request status transitions by target and result.",
	}, []string{"target", "result"})

	// NotificationsSent counts dispatch attempts per channel and result.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weka_notifications_total",
		Help: "Notification dispatch attempts by channel and result.",
	}, []string{"channel", "result"})

	// ReviewEvents counts review writes by kind (submitted, responded, helpful, updated, deleted).
	ReviewEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weka_review_events_total",
		Help: "Review writes by kind.",
	}, []string{"kind"})

	// PaymentCallbacks counts gateway results by outcome (completed, failed, duplicate, unknown).
	PaymentCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weka_payment_callbacks_total",
		Help: "Mobile-money gateway callbacks by outcome.",
	}, []string{"outcome"})

	DBDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "db_call_duration_seconds",
		Help: "Duration of database calls.",
	}, []string{"operation"})
)

// RecordDBTime times f under the given operation label.
func RecordDBTime(operation string, f func() error) error {
	start := time.Now()
	err := f()
	DBDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return err
}

// Middleware records request count and latency per matched route.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		code := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			code = fe.Code
		}
		route := c.Route().Path
		httpRequestsTotal.WithLabelValues(route, c.Method(), strconv.Itoa(code)).Inc()
		httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler exposes the default registry.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
