package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "parkly"

var (
	once sync.Once

	checkIns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_ins_total",
			Help:      "Count of check-in attempts by outcome.",
		},
		[]string{"outcome"},
	)

	checkOuts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_outs_total",
			Help:      "Count of check-out attempts by outcome.",
		},
		[]string{"outcome"},
	)

	charges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charges_total",
			Help:      "Count of per-reservation charge attempts by result.",
		},
		[]string{"result"},
	)

	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "charge_tick_duration_seconds",
			Help:      "Time to run one charge tick.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60},
		},
	)

	openReservations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_reservations",
			Help:      "Open reservations seen by the last charge tick.",
		},
	)

	limitWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limit_warnings_total",
			Help:      "Count of balance limit warnings by delivery status.",
		},
		[]string{"status"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Count of notification deliveries by channel and status.",
		},
		[]string{"channel", "status"},
	)

	notificationRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_retries_total",
			Help:      "Count of notification retry attempts.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by route and status code.",
		},
		[]string{"route", "code"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			checkIns, checkOuts, charges, tickDuration, openReservations,
			limitWarnings, notifications, notificationRetries, httpRequests,
		)
	})
}

func IncCheckIn(outcome string) {
	checkIns.WithLabelValues(outcome).Inc()
}

func IncCheckOut(outcome string) {
	checkOuts.WithLabelValues(outcome).Inc()
}

func IncCharge(result string) {
	charges.WithLabelValues(result).Inc()
}

func ObserveTick(d time.Duration, open int) {
	tickDuration.Observe(d.Seconds())
	openReservations.Set(float64(open))
}

func IncLimitWarning(status string) {
	limitWarnings.WithLabelValues(status).Inc()
}

func IncNotification(channel, status string) {
	notifications.WithLabelValues(channel, status).Inc()
}

func IncNotificationRetry() {
	notificationRetries.Inc()
}

func IncHTTPRequest(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}
