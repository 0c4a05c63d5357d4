// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// StageTransitionsTotal tracks persona handoffs.
	StageTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stage_transitions_total",
			Help: "Total stage transitions by source and target stage",
		},
		[]string{"from", "to"},
	)

	// ConversationsTotal tracks conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// RepetitionVetoesTotal tracks questions, topics and statements flagged as repeats.
	RepetitionVetoesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repetition_vetoes_total",
			Help: "Total repetition checks that reported a repeat",
		},
		[]string{"kind"},
	)

	// DetachedWriteFailuresTotal tracks fire-and-forget writes that failed.
	DetachedWriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detached_write_failures_total",
			Help: "Total detached writes that failed and were dropped",
		},
		[]string{"operation"},
	)

	// TranscriptSavesTotal tracks failsafe pipeline outcomes.
	TranscriptSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcript_saves_total",
			Help: "Total transcript pipeline runs by trigger, status and tier",
		},
		[]string{"trigger", "status", "tier"},
	)

	// ProviderRequestDuration tracks voice provider API latency.
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Voice provider API request duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10},
		},
		[]string{"operation", "status"},
	)

	// TopicDerivationsTotal tracks placeholder topic re-derivation.
	TopicDerivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topic_derivations_total",
			Help: "Total placeholder topic re-derivations by strategy",
		},
		[]string{"strategy"},
	)

	// MemoryTrackedConversations tracks the size of the repetition working set.
	MemoryTrackedConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memory_tracked_conversations",
			Help: "Conversations currently held in the repetition working set",
		},
	)

	// RecoveryItemsTotal tracks operator recovery outcomes.
	RecoveryItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_items_total",
			Help: "Total conversations processed by operator recovery by status",
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTransition records a stage handoff.
func RecordTransition(from, to string) {
	if from == "" {
		from = "none"
	}
	StageTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordTranscriptSave records one failsafe pipeline outcome.
func RecordTranscriptSave(trigger, status, tier string) {
	if tier == "" {
		tier = "none"
	}
	TranscriptSavesTotal.WithLabelValues(trigger, status, tier).Inc()
}

// RecordProviderRequest records a voice provider API call.
func RecordProviderRequest(operation, status string, duration float64) {
	ProviderRequestDuration.WithLabelValues(operation, status).Observe(duration)
}
