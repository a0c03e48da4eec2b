package cluster

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/seantiz/concord/internal/model"
)

func gatherFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == name {
			return fam
		}
	}
	return nil
}

func TestMetricsRegistered(t *testing.T) {
	for _, name := range []string{
		"concord_cluster_tasks_total",
		"concord_cluster_tasks_running",
		"concord_cluster_resource_requests_total",
		"concord_cluster_log_lines_dropped_total",
	} {
		if gatherFamily(t, name) == nil {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestTasksTotalLabels(t *testing.T) {
	tasksTotal.WithLabelValues("fl_trainer", model.TaskCompleted).Inc()
	taskDuration.WithLabelValues("fl_trainer").Observe(1.5)

	fam := gatherFamily(t, "concord_cluster_tasks_total")
	if fam == nil {
		t.Fatal("tasks_total family not found")
	}

	found := false
	for _, m := range fam.GetMetric() {
		labels := map[string]string{}
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["task_type"] == "fl_trainer" && labels["status"] == model.TaskCompleted {
			found = m.GetCounter().GetValue() >= 1
		}
	}
	if !found {
		t.Error("fl_trainer/completed sample missing")
	}

	hist := gatherFamily(t, "concord_cluster_task_duration_seconds")
	if hist == nil || hist.GetType() != dto.MetricType_HISTOGRAM {
		t.Fatalf("duration family = %v, want histogram", hist)
	}
}
