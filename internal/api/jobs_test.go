package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/concord/internal/model"
)

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSubmitAndQuery(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp := post(t, ts.URL+"/submit", `{"job_type":"dummy","job_config":{"remote_tasks":1},"algorithm_config":""}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d, want 200", resp.StatusCode)
	}
	var sub submitResponse
	decodeJSON(t, resp, &sub)
	if sub.JobID == "" {
		t.Fatal("empty job_id")
	}

	resp = post(t, ts.URL+"/query", `{"job_id":"`+sub.JobID+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query status = %d, want 200", resp.StatusCode)
	}
	var q queryResponse
	decodeJSON(t, resp, &q)
	if q.JobID != sub.JobID || q.Status != model.StatusWaiting {
		t.Errorf("query = %+v, want %s WAITING", q, sub.JobID)
	}
}

func TestSubmitRejections(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{not json`, "invalid JSON body"},
		{"missing job type", `{"job_config":{}}`, "job_type is required"},
		{"unknown job type", `{"job_type":"nope"}`, "unknown job type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+"/submit", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			var body exceptionResponse
			decodeJSON(t, resp, &body)
			if !strings.Contains(body.Exception, tt.want) {
				t.Errorf("exception = %q, want it to contain %q", body.Exception, tt.want)
			}
		})
	}
}

func TestQueryUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp := post(t, ts.URL+"/query", `{"job_id":"missing"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var q queryResponse
	decodeJSON(t, resp, &q)
	if q.Status != model.StatusNotFound {
		t.Errorf("status = %q, want NOTFOUND", q.Status)
	}
}

func seedJobs(t *testing.T, env *testEnv, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		now := time.Now().UTC()
		j := &model.Job{
			ID:        model.NewJobID("party-a"),
			Type:      "dummy",
			Status:    model.StatusWaiting,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := env.store.CreateJob(context.Background(), j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		ids[i] = j.ID
	}
	return ids
}

func TestListAndGetJobs(t *testing.T) {
	env := newTestEnv(t)
	ids := seedJobs(t, env, 3)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs?limit=2")
	if err != nil {
		t.Fatalf("GET /v1/jobs: %v", err)
	}
	defer resp.Body.Close()
	var list listJobsResponse
	decodeJSON(t, resp, &list)
	if list.Total != 3 || len(list.Jobs) != 2 || list.Limit != 2 {
		t.Errorf("list = total %d len %d limit %d, want 3/2/2", list.Total, len(list.Jobs), list.Limit)
	}

	resp, err = http.Get(ts.URL + "/v1/jobs/" + ids[0])
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var j model.Job
	decodeJSON(t, resp, &j)
	if j.ID != ids[0] || j.Type != "dummy" {
		t.Errorf("job = %+v", j)
	}

	resp, err = http.Get(ts.URL + "/v1/jobs/missing")
	if err != nil {
		t.Fatalf("GET missing job: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListJobsEmptyIsArray(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs?limit=1000&offset=-4")
	if err != nil {
		t.Fatalf("GET /v1/jobs: %v", err)
	}
	defer resp.Body.Close()
	var list listJobsResponse
	decodeJSON(t, resp, &list)
	if list.Jobs == nil || len(list.Jobs) != 0 {
		t.Errorf("jobs = %v, want empty array", list.Jobs)
	}
	if list.Limit != defaultListLimit || list.Offset != 0 {
		t.Errorf("limit/offset = %d/%d, want %d/0", list.Limit, list.Offset, defaultListLimit)
	}
}

func TestJobStats(t *testing.T) {
	env := newTestEnv(t)
	seedJobs(t, env, 2)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats: %v", err)
	}
	defer resp.Body.Close()

	var stats struct {
		Total         int            `json:"total"`
		CountByStatus map[string]int `json:"count_by_status"`
	}
	decodeJSON(t, resp, &stats)
	if stats.Total != 2 || stats.CountByStatus[model.StatusWaiting] != 2 {
		t.Errorf("stats = %+v, want 2 waiting", stats)
	}
}
