package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(jobsFinishedTotal.WithLabelValues("failed"))
	IncJobFinished(" FAILED ")
	if got := testutil.ToFloat64(jobsFinishedTotal.WithLabelValues("failed")); got != before+1 {
		t.Errorf("expected labels to be normalized, got %v", got)
	}

	missBefore := testutil.ToFloat64(correlationMisses)
	IncCorrelationMiss()
	if got := testutil.ToFloat64(correlationMisses); got != missBefore+1 {
		t.Errorf("expected correlation miss counter to grow, got %v", got)
	}

	SetQueueAvailable(true)
	if testutil.ToFloat64(queueAvailable) != 1 {
		t.Error("expected queue gauge to be 1")
	}
	SetQueueAvailable(false)
	if testutil.ToFloat64(queueAvailable) != 0 {
		t.Error("expected queue gauge to be 0")
	}
}

func TestMustRegisterIsIdempotent(t *testing.T) {
	MustRegister()
	MustRegister()
}
