package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for webhook ingestion metrics
	webhookLabels = []string{"provider", "event_kind"}
	// Labels for delivery state transitions
	deliveryLabels = []string{"provider", "status"}

	WebhooksReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephony_engine_webhooks_received_total",
			Help: "Total number of webhook callbacks received, labeled by provider and event kind.",
		},
		webhookLabels,
	)
	WebhooksFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephony_engine_webhooks_failed_total",
			Help: "Total number of webhook callbacks that failed processing after parsing.",
		},
		webhookLabels,
	)
	WebhooksMalformedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephony_engine_webhooks_malformed_total",
			Help: "Total number of webhook callbacks whose payload could not be parsed.",
		},
		[]string{"provider"},
	)

	DeliveryStatusTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephony_engine_delivery_status_total",
			Help: "Total number of delivery status transitions applied, labeled by provider and resulting status.",
		},
		deliveryLabels,
	)
	SpamCooldownTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephony_engine_spam_cooldown_trips_total",
			Help: "Total number of times a market was placed in spam cooldown.",
		},
		[]string{"market_id"},
	)

	ProspectsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephony_engine_prospects_skipped_total",
			Help: "Total number of campaign prospects skipped, labeled by skip reason.",
		},
		[]string{"reason"},
	)

	RelayConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telephony_engine_relay_connections_active",
		Help: "Current number of active prospect relay connections.",
	})
	RelayConnectFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephony_engine_relay_connect_failures_total",
			Help: "Total number of relay connect attempts that failed, labeled by failure kind.",
		},
		[]string{"kind"},
	)

	CallsRoutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephony_engine_calls_routed_total",
			Help: "Total number of inbound calls routed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	ClassifierResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephony_engine_classifier_results_total",
			Help: "Total number of content classification results, labeled by category.",
		},
		[]string{"category"},
	)

	// Histogram of event processing durations through the ingest pipeline.
	EventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telephony_engine_event_processing_duration_seconds",
			Help:    "Histogram of webhook event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		webhookLabels,
	)

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telephony_engine_database_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"operation", "entity", "status"},
	)

	ProviderRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telephony_engine_provider_request_duration_seconds",
			Help:    "Histogram of outbound provider API request durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"provider", "action", "status"},
	)

	JobsQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telephony_engine_jobs_queue_length",
		Help: "Current number of tasks waiting in the background job pool.",
	})
	JobsWorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telephony_engine_jobs_workers_active",
		Help: "Current number of active worker goroutines in the background job pool.",
	})
	JobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephony_engine_jobs_submitted_total",
			Help: "Total number of tasks submitted to the background job pool.",
		},
		[]string{"job"},
	)
	JobsPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telephony_engine_jobs_panics_total",
		Help: "Total number of panics recovered inside background job workers.",
	})
)

// SetMetricsEnabled toggles metric collection, mainly for tests.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled = enabled
}

// IncWebhookReceived increments the received counter for a provider callback.
func IncWebhookReceived(provider, eventKind string) {
	if !metricsEnabled {
		return
	}
	WebhooksReceivedTotal.WithLabelValues(provider, sanitizeLabel(eventKind)).Inc()
}

// IncWebhookFailed increments the failure counter for a provider callback.
func IncWebhookFailed(provider, eventKind string) {
	if !metricsEnabled {
		return
	}
	WebhooksFailedTotal.WithLabelValues(provider, sanitizeLabel(eventKind)).Inc()
}

// IncWebhookMalformed increments the malformed payload counter for a provider.
func IncWebhookMalformed(provider string) {
	if !metricsEnabled {
		return
	}
	WebhooksMalformedTotal.WithLabelValues(provider).Inc()
}

// IncDeliveryStatus records a delivery state transition.
func IncDeliveryStatus(provider, status string) {
	if !metricsEnabled {
		return
	}
	DeliveryStatusTotal.WithLabelValues(provider, sanitizeLabel(status)).Inc()
}

// IncSpamCooldownTrip records a market entering spam cooldown.
func IncSpamCooldownTrip(marketID string) {
	if !metricsEnabled {
		return
	}
	SpamCooldownTripsTotal.WithLabelValues(marketID).Inc()
}

// IncProspectSkipped records a skip decision for a campaign prospect.
func IncProspectSkipped(reason string) {
	if !metricsEnabled {
		return
	}
	ProspectsSkippedTotal.WithLabelValues(sanitizeLabel(reason)).Inc()
}

// IncRelayConnectFailure records a failed relay connect attempt.
func IncRelayConnectFailure(kind string) {
	if !metricsEnabled {
		return
	}
	RelayConnectFailuresTotal.WithLabelValues(sanitizeLabel(kind)).Inc()
}

// IncCallRouted records the outcome of an inbound call routing decision.
func IncCallRouted(outcome string) {
	if !metricsEnabled {
		return
	}
	CallsRoutedTotal.WithLabelValues(sanitizeLabel(outcome)).Inc()
}

// IncClassifierResult records a content classification outcome.
func IncClassifierResult(category string) {
	if !metricsEnabled {
		return
	}
	ClassifierResultsTotal.WithLabelValues(sanitizeLabel(category)).Inc()
}

// ObserveEventProcessingDuration records the end-to-end handling time of a webhook event.
func ObserveEventProcessingDuration(provider, eventKind string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventProcessingDurationSeconds.WithLabelValues(provider, sanitizeLabel(eventKind)).Observe(duration.Seconds())
}

// ObserveDbOperationDuration records the duration and outcome of a database operation.
func ObserveDbOperationDuration(operation, entity string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, status).Observe(duration.Seconds())
}

// ObserveProviderRequestDuration records an outbound provider API call.
func ObserveProviderRequestDuration(provider, action string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	ProviderRequestDurationSeconds.WithLabelValues(provider, action, status).Observe(duration.Seconds())
}

// sanitizeLabel keeps label cardinality bounded for values derived from payloads.
func sanitizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	v = strings.ToLower(v)
	if len(v) > 64 {
		v = v[:64]
	}
	return v
}
