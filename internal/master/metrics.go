package master

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/concord/internal/model"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_master_job_transitions_total",
			Help: "Total number of job status transitions by target status.",
		},
		[]string{"status"},
	)

	tasksForwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_master_tasks_forwarded_total",
			Help: "Total number of tasks forwarded to the cluster by result.",
		},
		[]string{"result"},
	)

	tasksWonTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "concord_master_tasks_won_total",
			Help: "Total number of tasks received from other parties' proposals.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(tasksForwardedTotal)
	prometheus.MustRegister(tasksWonTotal)

	for _, s := range []string{model.StatusWaiting, model.StatusProposal, model.StatusRunning, model.StatusFailed} {
		jobsTotal.WithLabelValues(s)
	}
	for _, r := range []string{"success", "failed"} {
		tasksForwardedTotal.WithLabelValues(r)
	}
}
