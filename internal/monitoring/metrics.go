package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the booking service collectors
type Metrics struct {
	BookingOperations   *prometheus.CounterVec
	MirrorFailures      *prometheus.CounterVec
	NotificationResults *prometheus.CounterVec
	SeatLockDuration    *prometheus.HistogramVec
	PaymentDuration     *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in the server and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BookingOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_operations_total",
				Help: "Booking create and cancel outcomes",
			},
			[]string{"operation", "outcome"},
		),
		MirrorFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_mirror_failures_total",
				Help: "Mirror writes that failed after the canonical commit",
			},
			[]string{"operation"},
		),
		NotificationResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_notifications_total",
				Help: "Notification deliveries per channel",
			},
			[]string{"channel", "status"},
		),
		SeatLockDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "booking_seat_lock_duration_seconds",
				Help:    "Time the inventory row lock was held",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"operation"},
		),
		PaymentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "booking_payment_duration_seconds",
				Help:    "Payment gateway call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
	}
}

// RecordOperation counts one create or cancel outcome
func (m *Metrics) RecordOperation(operation, outcome string) {
	m.BookingOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordMirrorFailure counts one failed post-commit mirror write
func (m *Metrics) RecordMirrorFailure(operation string) {
	m.MirrorFailures.WithLabelValues(operation).Inc()
}

// RecordNotification counts one channel delivery
func (m *Metrics) RecordNotification(channel string, err error) {
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.NotificationResults.WithLabelValues(channel, status).Inc()
}
