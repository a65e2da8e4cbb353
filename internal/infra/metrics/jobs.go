package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobsSubmittedTotal, jobsFinishedTotal, transcodeDuration) }

var jobsSubmittedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "thumbd_jobs_submitted_total",
		Help: "Jobs accepted by the submission step, labeled by media kind.",
	},
	[]string{"kind"},
)

var jobsFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "thumbd_jobs_finished_total",
		Help: "Jobs that reached a terminal status.",
	},
	[]string{"status"}, // 'completed', 'failed'
)

var transcodeDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "thumbd_transcode_duration_seconds",
		Help:    "Time spent in the transcoder per task.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	},
	[]string{"kind", "success"},
)

func IncJobSubmitted(kind string) {
	jobsSubmittedTotal.WithLabelValues(norm(kind)).Inc()
}

func IncJobFinished(status string) {
	jobsFinishedTotal.WithLabelValues(norm(status)).Inc()
}

func ObserveTranscode(kind string, d time.Duration, success bool) {
	transcodeDuration.WithLabelValues(norm(kind), strconv.FormatBool(success)).Observe(d.Seconds())
}
