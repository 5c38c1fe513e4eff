package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Enqueue and immediate send metrics
var (
	EmailsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailer_emails_enqueued_total",
			Help: "Total number of emails written to the queue",
		},
		[]string{"priority"}, // urgent, high, normal, low
	)

	EmailsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailer_emails_rejected_total",
			Help: "Total number of emails rejected before reaching the queue",
		},
		[]string{"reason"}, // empty_body, invalid_address, assembly
	)

	ImmediateSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailer_immediate_sends_total",
			Help: "Total number of emails sent bypassing the queue",
		},
		[]string{"result"}, // sent, deferred, already_sent
	)
)

// Runner metrics
var (
	EmailsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailer_runner_emails_processed_total",
			Help: "Total number of emails processed by the queue runner by outcome",
		},
		[]string{"outcome"}, // sent, retry, preparing_error, sending_error
	)

	PrepareDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "emailer_prepare_duration_seconds",
			Help:    "Duration of building transport-ready messages",
			Buckets: prometheus.DefBuckets,
		},
	)

	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "emailer_send_duration_seconds",
			Help:    "Duration of transport send calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	RunnerIdleIterationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emailer_runner_idle_iterations_total",
			Help: "Total number of runner iterations that found nothing due",
		},
	)

	RunnerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailer_runner_runs_total",
			Help: "Total number of runner invocations by result",
		},
		[]string{"result"}, // completed, failed, lease_held
	)
)

// Garbage collector metrics
var (
	GCRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailer_gc_rows_total",
			Help: "Total number of rows removed or cleared by the garbage collector",
		},
		[]string{"step"}, // common_logs, email_logs, html_bodies
	)

	GCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailer_gc_errors_total",
			Help: "Total number of failed garbage collector steps",
		},
		[]string{"step"},
	)
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailer_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emailer_api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// SMTP ingress metrics
var (
	SMTPConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailer_smtp_connections_total",
			Help: "Total number of SMTP connections",
		},
		[]string{"result"},
	)

	SMTPActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emailer_smtp_active_sessions",
			Help: "Number of currently active SMTP sessions",
		},
	)

	SMTPAuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailer_smtp_auth_attempts_total",
			Help: "Total number of SMTP authentication attempts",
		},
		[]string{"result"},
	)

	SMTPMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailer_smtp_messages_total",
			Help: "Total number of messages received over SMTP",
		},
		[]string{"result"},
	)
)

// Queue state, refreshed from the store by the stats endpoint.
var QueueEmails = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "emailer_queue_emails",
		Help: "Number of stored emails per status",
	},
	[]string{"status"},
)
