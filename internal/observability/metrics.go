package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveTasks      prometheus.Gauge
	PendingDeletions prometheus.Gauge
	TaskEvents       *prometheus.CounterVec
	ReminderEvents   *prometheus.CounterVec
	RemoteCalls      *prometheus.CounterVec
	RemoteLatency    *prometheus.HistogramVec
	WSClients        prometheus.Gauge
	WSMessages       *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tasks",
			Help:      "Number of tasks in the in-memory task set.",
		}),
		PendingDeletions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_deletions",
			Help:      "Number of completed tasks waiting for deferred deletion.",
		}),
		TaskEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_total",
			Help:      "Task lifecycle events by type.",
		}, []string{"event"}),
		ReminderEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_events_total",
			Help:      "Reminder scheduler events by type.",
		}, []string{"event"}),
		RemoteCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Task store calls by operation and result.",
		}, []string{"op", "result"}),
		RemoteLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_latency_ms",
			Help:      "Task store call latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"op"}),
		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected websocket event clients.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by type and outcome.",
		}, []string{"type", "outcome"}),
	}
}

func (m *Metrics) ObserveTaskEvent(event string) {
	if m == nil {
		return
	}
	m.TaskEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveReminderEvent(event string) {
	if m == nil {
		return
	}
	m.ReminderEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveRemoteCall(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RemoteCalls.WithLabelValues(op, result).Inc()
	m.RemoteLatency.WithLabelValues(op).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) SetTaskGauges(active, pendingDeletion int) {
	if m == nil {
		return
	}
	m.ActiveTasks.Set(float64(active))
	m.PendingDeletions.Set(float64(pendingDeletion))
}

func (m *Metrics) ObserveOutboundMessage(msgType, outcome string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(msgType, outcome).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
