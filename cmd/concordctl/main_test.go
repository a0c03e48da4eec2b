package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadJobFile(t *testing.T) {
	algo := writeFile(t, "algo.yaml", "lr: 0.01\n")
	path := writeFile(t, "job.yaml", `job_type: paddle_fl
job_config:
  program: mnist
  worker_num: 2
algorithm_config_file: `+algo+"\n")

	body, err := loadJobFile(path)
	require.NoError(t, err)
	assert.Equal(t, "paddle_fl", body.JobType)
	assert.Equal(t, "lr: 0.01\n", body.AlgorithmConfig)
	assert.JSONEq(t, `{"program":"mnist","worker_num":2}`, string(body.JobConfig))
}

func TestLoadJobFileRequiresType(t *testing.T) {
	path := writeFile(t, "job.yaml", "job_config: {}\n")
	_, err := loadJobFile(path)
	assert.ErrorContains(t, err, "job_type is required")
}

func TestSubmitAndWait(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submit":
			var body submitBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "dummy", body.JobType)
			json.NewEncoder(w).Encode(map[string]string{"job_id": "party-a-1"})
		case "/query":
			status := "RUNNING"
			if polls.Add(1) >= 2 {
				status = "SUCCESS"
			}
			json.NewEncoder(w).Encode(map[string]string{"job_id": "party-a-1", "status": status})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	path := writeFile(t, "job.yaml", "job_type: dummy\njob_config:\n  remote_tasks: 2\n")
	out, err := run(t, "--master", srv.URL, "submit", "-f", path, "--wait", "--interval", "10ms")
	require.NoError(t, err)
	assert.Equal(t, "party-a-1\nSUCCESS\n", out)
}

func TestSubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"exception": "unknown job type"})
	}))
	defer srv.Close()

	path := writeFile(t, "job.yaml", "job_type: nope\n")
	_, err := run(t, "--master", srv.URL, "submit", "-f", path)
	assert.EqualError(t, err, "unknown job type")
}

func TestQueryNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"job_id": "x", "status": "NOTFOUND"})
	}))
	defer srv.Close()

	out, err := run(t, "--master", srv.URL, "query", "x")
	require.NoError(t, err)
	assert.Equal(t, "NOTFOUND\n", out)
}

func TestJobsListUsesPagination(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"jobs":[],"total":0}`))
	}))
	defer srv.Close()

	out, err := run(t, "--master", srv.URL, "jobs", "--limit", "5")
	require.NoError(t, err)
	assert.Equal(t, "limit=5&offset=0", gotQuery)
	assert.True(t, strings.Contains(out, `"total": 0`))
}

func TestServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := run(t, "--coordinator", srv.URL, "parties")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
}

func TestRootRequiresSubcommand(t *testing.T) {
	_, err := run(t)
	assert.ErrorIs(t, err, errMissingSubcommand)
}
