package webhooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notifyengine"

var (
	webhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhooks",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by event type and result",
		},
		[]string{"event_type", "result"},
	)

	webhookDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhooks",
			Name:      "delivery_duration_seconds",
			Help:      "Time to deliver a webhook including retries",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"event_type"},
	)

	webhookEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhooks",
			Name:      "events_published_total",
			Help:      "Events accepted for fan-out",
		},
		[]string{"event_type"},
	)
)

func recordDelivery(eventType, result string, duration time.Duration) {
	webhookDeliveries.WithLabelValues(eventType, result).Inc()
	webhookDeliveryDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func recordPublished(eventType string) {
	webhookEventsPublished.WithLabelValues(eventType).Inc()
}
