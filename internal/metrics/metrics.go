// Package metrics holds the prometheus collectors exported on /metrics.
//
// All methods are nil-safe so components can run without metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "edgewatch"

// Metrics groups every edgewatch collector.
type Metrics struct {
	sessionsActive  prometheus.Gauge
	admissions      *prometheus.CounterVec
	frames          *prometheus.CounterVec
	busDeliveries   *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	workerQueue     prometheus.Gauge
	workerTasks     *prometheus.CounterVec
	workerDurations *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Device sessions currently connected",
		}),
		// Labels: result = admitted | unknown_credential | disabled | duplicate | error
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Device connection attempts by admission result",
		}, []string{"result"}),
		// Labels: type = message_type, outcome = handled | dropped | failed | terminated
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Inbound device frames by type and outcome",
		}, []string{"type", "outcome"}),
		// Labels: outcome = delivered | dropped | failed
		busDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_deliveries_total",
			Help:      "Topic bus deliveries to local subscribers",
		}, []string{"outcome"}),
		// Labels: channel = web | email, outcome = sent | skipped | failed
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "User notifications by channel and outcome",
		}, []string{"channel", "outcome"}),
		workerQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queue_depth",
			Help:      "Tasks waiting for a worker",
		}),
		workerTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_tasks_total",
			Help:      "Worker pool tasks by status",
		}, []string{"status"}),
		workerDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_task_duration_seconds",
			Help:      "Time spent running worker pool tasks",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.sessionsActive,
			m.admissions,
			m.frames,
			m.busDeliveries,
			m.notifications,
			m.workerQueue,
			m.workerTasks,
			m.workerDurations,
		)
	}
	return m
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) Admission(result string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(result).Inc()
}

func (m *Metrics) Frame(messageType, outcome string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(messageType, outcome).Inc()
}

func (m *Metrics) BusDelivery(outcome string) {
	if m == nil {
		return
	}
	m.busDeliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Notification(channel, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, outcome).Inc()
}

// WorkerQueueDepth sets the current pool backlog.
func (m *Metrics) WorkerQueueDepth(n int) {
	if m == nil {
		return
	}
	m.workerQueue.Set(float64(n))
}

// WorkerTask records one finished pool task.
func (m *Metrics) WorkerTask(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.workerTasks.WithLabelValues(status).Inc()
	m.workerDurations.WithLabelValues(status).Observe(d.Seconds())
}
