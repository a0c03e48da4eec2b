package cluster

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/seantiz/concord/internal/model"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concord_cluster_tasks_total",
		Help: "Tasks finished by this cluster, by task type and final status.",
	}, []string{"task_type", "status"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "concord_cluster_task_duration_seconds",
		Help:    "Task execution duration in seconds.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600, 3600},
	}, []string{"task_type"})

	tasksRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "concord_cluster_tasks_running",
		Help: "Tasks currently executing.",
	})

	resourceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concord_cluster_resource_requests_total",
		Help: "Endpoint allocation requests by outcome.",
	}, []string{"outcome"})

	logLinesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concord_cluster_log_lines_dropped_total",
		Help: "Log lines dropped for slow live subscribers.",
	})
)

func init() {
	for _, s := range []string{model.TaskCompleted, model.TaskFailed} {
		tasksTotal.WithLabelValues("dummy", s)
	}
	resourceRequestsTotal.WithLabelValues("success")
	resourceRequestsTotal.WithLabelValues("failed")
}
