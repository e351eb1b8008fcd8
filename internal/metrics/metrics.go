package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "petboarding"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking attempts by result.",
		},
		[]string{"result"},
	)

	capacityRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capacity_rejections_total",
			Help:      "Slot claims refused because the slot was full or missing.",
		},
	)

	payments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Payment outcomes.",
		},
		[]string{"outcome"},
	)

	sweepItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_items_total",
			Help:      "Expired holds reclaimed by sweep.",
		},
		[]string{"sweep"},
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Sweep run duration.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_tasks_total",
			Help:      "Notification deliveries by final status.",
		},
		[]string{"status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookings, capacityRejections, payments, sweepItems, sweepDuration, notifications)
	})
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncBooking counts a booking attempt by result: created, unavailable, invalid, rate_limited or error.
func IncBooking(result string) {
	bookings.WithLabelValues(result).Inc()
}

func IncCapacityRejection() {
	capacityRejections.Inc()
}

func IncPayment(outcome string) {
	payments.WithLabelValues(outcome).Inc()
}

func ObserveSweep(sweep string, items int, started time.Time) {
	sweepItems.WithLabelValues(sweep).Add(float64(items))
	sweepDuration.WithLabelValues(sweep).Observe(time.Since(started).Seconds())
}

func IncNotification(status string) {
	notifications.WithLabelValues(status).Inc()
}
