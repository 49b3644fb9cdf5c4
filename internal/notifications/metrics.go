package notifications

import (
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notifyengine"

var (
	notificationQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_size",
			Help:      "Number of notifications by status",
		},
		[]string{"status"},
	)

	notificationsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "enqueued_total",
			Help:      "Total notifications accepted for delivery",
		},
		[]string{"channel"},
	)

	notificationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "attempts_total",
			Help:      "Total delivery attempts by outcome",
		},
		[]string{"channel", "outcome"},
	)

	notificationSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time spent in the transport per attempt",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	notificationClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "claims_total",
			Help:      "Claim attempts by result (won, lost, error)",
		},
		[]string{"result"},
	)

	notificationsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_fetched_total",
			Help:      "Total due notifications fetched from queue before claiming",
		},
	)

	notificationsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "reaped_total",
			Help:      "Total stalled in_flight notifications returned to pending",
		},
	)

	notificationsAbandoned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "abandoned_attempts_total",
			Help:      "Attempts whose result could not be persisted",
		},
	)
)

func recordEnqueued(channel domain.Channel) {
	notificationsEnqueued.WithLabelValues(string(channel)).Inc()
}

func recordAttempt(channel domain.Channel, outcome domain.Outcome, duration time.Duration) {
	notificationAttempts.WithLabelValues(string(channel), string(outcome)).Inc()
	notificationSendDuration.WithLabelValues(string(channel)).Observe(duration.Seconds())
}

func recordClaim(result string) {
	notificationClaims.WithLabelValues(result).Inc()
}

func recordQueueFetched(count int) {
	notificationsFetched.Add(float64(count))
}

func recordReaped(count int) {
	notificationsReaped.Add(float64(count))
}

func recordAbandoned() {
	notificationsAbandoned.Inc()
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *domain.QueueStats) {
	notificationQueueSize.WithLabelValues(string(domain.StatusPending)).Set(float64(stats.Pending))
	notificationQueueSize.WithLabelValues(string(domain.StatusInFlight)).Set(float64(stats.InFlight))
	notificationQueueSize.WithLabelValues(string(domain.StatusSent)).Set(float64(stats.Sent))
	notificationQueueSize.WithLabelValues(string(domain.StatusDead)).Set(float64(stats.Dead))
}
