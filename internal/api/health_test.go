package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/seantiz/concord/internal/coordinator"
)

func getHealth(t *testing.T, srv *Server) (int, healthResponse) {
	t.Helper()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	var body healthResponse
	decodeJSON(t, resp, &body)
	return resp.StatusCode, body
}

func TestHealthzWithoutChecks(t *testing.T) {
	code, body := getHealth(t, newTestServer(t))

	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if body.Status != "ok" || body.Service != defaultService {
		t.Errorf("body = %+v", body)
	}
	if len(body.Components) != 0 {
		t.Errorf("Components = %v, want none", body.Components)
	}
}

func TestHealthzTracksCoordinatorServing(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	coord := coordinator.New(logger)
	srv := NewServer("127.0.0.1:0", Options{
		Service: "coordinator",
		Health:  map[string]func(context.Context) error{"coordinator": coord.Ready},
		Parties: coord,
	}, logger)

	code, body := getHealth(t, srv)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body.Service != "coordinator" || body.Components["coordinator"] != "ok" {
		t.Errorf("body = %+v", body)
	}

	coord.Shutdown()

	code, body = getHealth(t, srv)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status after shutdown = %d, want 503", code)
	}
	if body.Status != "unavailable" {
		t.Errorf("Status = %q, want unavailable", body.Status)
	}
	if body.Components["coordinator"] != coordinator.ErrNotServing.Error() {
		t.Errorf("coordinator component = %q", body.Components["coordinator"])
	}
}

func TestHealthzOneFailingComponent(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	srv := NewServer("127.0.0.1:0", Options{
		Service: "master",
		Health: map[string]func(context.Context) error{
			"coordinator": func(context.Context) error { return nil },
			"cluster":     func(context.Context) error { return errors.New("channel to cluster is TRANSIENT_FAILURE") },
		},
	}, logger)

	code, body := getHealth(t, srv)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if body.Components["coordinator"] != "ok" {
		t.Errorf("coordinator component = %q, want ok", body.Components["coordinator"])
	}
	if !strings.Contains(body.Components["cluster"], "TRANSIENT_FAILURE") {
		t.Errorf("cluster component = %q", body.Components["cluster"])
	}
}

func TestMetricsCarryServiceLabel(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	srv := NewServer("127.0.0.1:0", Options{Service: "cluster"}, logger)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Make a request to generate metrics.
	http.Get(ts.URL + "/healthz")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") && !strings.Contains(contentType, "text/openmetrics") {
		t.Errorf("Content-Type = %q, expected prometheus format", contentType)
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	body := string(bodyBytes)

	want := `concord_http_requests_total{method="GET",path="/healthz",service="cluster",status="200"}`
	if !strings.Contains(body, want) {
		t.Errorf("metrics output missing %s", want)
	}
	if !strings.Contains(body, `concord_http_request_duration_seconds_count{method="GET",path="/healthz",service="cluster"}`) {
		t.Error("metrics output missing cluster request duration")
	}
}
