package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.Admission("admitted")
	m.Admission("disabled")
	m.Admission("disabled")
	m.Frame("profiler", "handled")
	m.BusDelivery("dropped")
	m.Notification("email", "skipped")
	m.WorkerQueueDepth(3)
	m.WorkerTask("success", 10*time.Millisecond)

	if got := testutil.ToFloat64(m.sessionsActive); got != 1 {
		t.Errorf("sessions_active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.admissions.WithLabelValues("disabled")); got != 2 {
		t.Errorf("admissions{disabled} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.frames.WithLabelValues("profiler", "handled")); got != 1 {
		t.Errorf("frames{profiler,handled} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.workerQueue); got != 3 {
		t.Errorf("worker_queue_depth = %v, want 3", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("expected registered families")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.SessionOpened()
	m.SessionClosed()
	m.Admission("admitted")
	m.Frame("profiler", "handled")
	m.BusDelivery("delivered")
	m.Notification("web", "sent")
	m.WorkerQueueDepth(1)
	m.WorkerTask("error", time.Second)
}

func TestNew_NilRegisterer(t *testing.T) {
	if New(nil) == nil {
		t.Fatal("New(nil) returned nil")
	}
}
