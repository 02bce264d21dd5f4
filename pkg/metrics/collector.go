// Package metrics exposes the prometheus collectors shared by bot instances.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbot_events_total",
			Help: "Total number of inbound events labeled by bot, event type and status",
		},
		[]string{"bot", "type", "status"},
	)
	eventDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowbot_event_duration_seconds",
			Help:    "Duration of inbound event handling in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"bot", "type"},
	)
	nodeStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbot_node_steps_total",
			Help: "Total number of executed flow nodes by node type",
		},
		[]string{"type"},
	)
	outboundSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbot_outbound_sends_total",
			Help: "Total number of outbound sends by traffic class and status",
		},
		[]string{"class", "status"},
	)
	broadcastRecipientsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbot_broadcast_recipients_total",
			Help: "Total number of broadcast deliveries by status",
		},
		[]string{"bot", "status"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbot_errors_total",
			Help: "Total number of errors split by kind and severity",
		},
		[]string{"kind", "severity"},
	)
	rateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbot_rate_limited_total",
			Help: "Total number of inbound events dropped by flood control",
		},
		[]string{"bot"},
	)
	sessionsSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowbot_sessions_swept_total",
			Help: "Total number of expired sessions removed by the sweeper",
		},
	)
	instancesByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowbot_instances",
			Help: "Number of bot instances per lifecycle status",
		},
		[]string{"status"},
	)
)

// RecordEvent increments inbound event counters and records duration.
func RecordEvent(bot, eventType, status string, duration time.Duration) {
	eventsTotal.WithLabelValues(bot, orUnknown(eventType), orUnknown(status)).Inc()
	eventDurationSeconds.WithLabelValues(bot, orUnknown(eventType)).Observe(duration.Seconds())
}

func RecordNodeStep(nodeType string) {
	nodeStepsTotal.WithLabelValues(orUnknown(nodeType)).Inc()
}

func RecordSend(class, status string) {
	outboundSendsTotal.WithLabelValues(orUnknown(class), orUnknown(status)).Inc()
}

// RecordBroadcast adds the outcome of one broadcast fan-out.
func RecordBroadcast(bot string, sent, failed int) {
	broadcastRecipientsTotal.WithLabelValues(bot, "sent").Add(float64(sent))
	broadcastRecipientsTotal.WithLabelValues(bot, "failed").Add(float64(failed))
}

// RecordError increments error counters with metadata.
func RecordError(kind, severity string) {
	errorsTotal.WithLabelValues(orUnknown(kind), orUnknown(severity)).Inc()
}

func RecordRateLimited(bot string) {
	rateLimitedTotal.WithLabelValues(bot).Inc()
}

func RecordSessionsSwept(n int) {
	if n > 0 {
		sessionsSweptTotal.Add(float64(n))
	}
}

// SetInstances replaces the per-status instance gauges.
func SetInstances(counts map[string]int) {
	instancesByStatus.Reset()
	for status, n := range counts {
		instancesByStatus.WithLabelValues(orUnknown(status)).Set(float64(n))
	}
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
