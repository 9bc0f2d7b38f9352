// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medbook_notifications_created_total",
			Help: "Notification rows written by the dispatcher",
		},
		[]string{"action_type"},
	)

	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medbook_notifications_failed_total",
			Help: "Notification rows the store rejected",
		},
		[]string{"action_type"},
	)

	NotificationsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medbook_notifications_skipped_total",
			Help: "Recipients skipped because no owning user was resolved",
		},
		[]string{"action_type"},
	)

	ReminderRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medbook_reminder_runs_total",
			Help: "Reminder job ticks by outcome",
		},
		[]string{"job", "outcome"},
	)

	ReminderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medbook_reminder_run_duration_seconds",
			Help:    "Duration of reminder sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	TriggerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medbook_trigger_failures_total",
			Help: "Asynchronous trigger tasks that returned an error or panicked",
		},
		[]string{"task"},
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medbook_delivery_attempts_total",
			Help: "Email and SMS relay attempts by outcome",
		},
		[]string{"channel", "outcome"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medbook_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
