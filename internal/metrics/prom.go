package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "gamebridge_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "host"},
		},
		[]string{"date", "sha", "version"},
	)

	messagesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamebridge_messages_dispatched_total",
			Help: "Inbound messages dispatched to listeners",
		},
		[]string{"type"},
	)

	messagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamebridge_messages_dropped_total",
			Help: "Inbound events dropped before dispatch",
		},
		[]string{"reason"},
	)

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamebridge_messages_sent_total",
			Help: "Outbound messages by delivery outcome",
		},
		[]string{"type", "outcome"},
	)

	requestsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamebridge_xhr_requests_sent_total",
			Help: "Correlated requests sent by the requester half",
		},
	)

	requestOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamebridge_xhr_request_outcomes_total",
			Help: "Requester outcomes",
		},
		[]string{"outcome"},
	)

	requestsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gamebridge_xhr_requests_pending",
			Help: "Requests waiting for a correlated result",
		},
	)

	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamebridge_xhr_executions_total",
			Help: "Requests executed by the executor half",
		},
		[]string{"method", "outcome"},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gamebridge_xhr_execution_duration_seconds",
			Help:    "Executor duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	guestsConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gamebridge_guests_connected",
			Help: "Connected guest contexts",
		},
		[]string{"transport"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamebridge_guest_notifications_total",
			Help: "Notifications received from guests",
		},
		[]string{"type"},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, messagesDispatched, messagesDropped, messagesSent, requestsSent,
		requestOutcomes, requestsPending, executions, executionDuration, guestsConnected, notifications)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RecordDispatch counts a message handed to listeners.
func RecordDispatch(kind string) {
	messagesDispatched.WithLabelValues(kind).Inc()
}

// RecordDrop counts an inbound event that never reached a listener.
func RecordDrop(reason string) {
	messagesDropped.WithLabelValues(reason).Inc()
}

// RecordSend counts an outbound message.
func RecordSend(kind string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	messagesSent.WithLabelValues(kind, outcome).Inc()
}

// RecordRequestSent increments the sent counter and the pending gauge.
func RecordRequestSent() {
	requestsSent.Inc()
	requestsPending.Inc()
}

// RecordRequestOutcome records how a pending request ended and decrements the pending gauge.
// Outcomes: success, error, timeout, canceled.
func RecordRequestOutcome(outcome string) {
	requestOutcomes.WithLabelValues(outcome).Inc()
	requestsPending.Dec()
}

// ObserveExecution records one executor run.
func ObserveExecution(method string, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	executions.WithLabelValues(method, outcome).Inc()
	executionDuration.WithLabelValues(method).Observe(d.Seconds())
}

// GuestConnected adjusts the connected guest gauge for a transport.
func GuestConnected(transport string, delta int) {
	guestsConnected.WithLabelValues(transport).Add(float64(delta))
}

// RecordNotification counts a guest notification such as a height or settings update.
func RecordNotification(kind string) {
	notifications.WithLabelValues(kind).Inc()
}
