package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(notificationsPublished, notificationsDropped, correlationMisses, liveSessions, queueAvailable)
}

var notificationsPublished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "thumbd_notifications_published_total",
		Help: "Job updates handed to the router, by origin (worker, submit, broker).",
	},
	[]string{"source"},
)

var notificationsDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "thumbd_notifications_dropped_total",
		Help: "Job updates not delivered to a session.",
	},
	[]string{"reason"}, // 'slow_subscriber', 'correlation_miss'
)

var correlationMisses = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "thumbd_correlation_misses_total",
		Help: "Broker lifecycle events that could not be resolved to a job and owner.",
	},
)

var liveSessions = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "thumbd_live_sessions",
		Help: "Currently registered live sessions.",
	},
)

var queueAvailable = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "thumbd_queue_available",
		Help: "1 when the task queue finished initialization successfully.",
	},
)

func IncPublished(source string) {
	notificationsPublished.WithLabelValues(norm(source)).Inc()
}

func IncDropped(reason string) {
	notificationsDropped.WithLabelValues(norm(reason)).Inc()
}

func IncCorrelationMiss() {
	correlationMisses.Inc()
	IncDropped("correlation_miss")
}

func SessionOpened() { liveSessions.Inc() }
func SessionClosed() { liveSessions.Dec() }

func SetQueueAvailable(ok bool) {
	if ok {
		queueAvailable.Set(1)
		return
	}
	queueAvailable.Set(0)
}
