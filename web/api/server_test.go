package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hochfrequenz/vat-batch/internal/batch"
	"github.com/hochfrequenz/vat-batch/internal/domain"
	"github.com/hochfrequenz/vat-batch/internal/launcher"
	"github.com/hochfrequenz/vat-batch/internal/ledger"
	"github.com/hochfrequenz/vat-batch/internal/metrics"
	"github.com/hochfrequenz/vat-batch/internal/monitor"
	"github.com/hochfrequenz/vat-batch/internal/store"
)

type discard struct{}

func (discard) Write(context.Context, store.Querier, []int) error { return nil }

func countJob(name string, items int) func() *batch.Job {
	return func() *batch.Job {
		src := batch.SourceFunc[int](func(context.Context) iter.Seq2[int, error] {
			return func(yield func(int, error) bool) {
				for i := 0; i < items; i++ {
					if !yield(i, nil) {
						return
					}
				}
			}
		})
		return batch.NewJob(name, &batch.ChunkStep[int, int]{
			StepName:  name + "Step",
			Source:    src,
			Transform: batch.TransformFunc[int, int](func(_ context.Context, v int) (int, error) { return v, nil }),
			Sink:      discard{},
		})
	}
}

type testEnv struct {
	server *Server
	http   *httptest.Server
	reg    *prometheus.Registry
}

func newTestEnv(t *testing.T, runner launcher.JobRunner, checks ...ReadinessCheck) *testEnv {
	t.Helper()
	ctx := context.Background()

	meta, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { meta.Close() })
	l, err := ledger.New(ctx, meta)
	if err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	hub := NewHub(nil)
	if runner == nil {
		r := batch.NewRunner(l, nil, batch.WithListener(metrics.NewListener(reg)))
		r.AddListener(hub)
		runner = r
	}

	registry := launcher.NewRegistry(
		launcher.Definition{Name: "count", JobName: "countJob", Title: "Count Job", Build: countJob("countJob", 12)},
		launcher.Definition{Name: "dump", JobName: "dumpJob", Title: "Dump Job", OutputLocation: "/tmp/out/", Build: countJob("dumpJob", 3)},
	)

	s := NewServer(Config{
		Launcher: launcher.New(registry, runner, nil),
		Monitor:  monitor.NewService(l, "countJob", "dumpJob"),
		Events:   hub,
		Gatherer: reg,
		Checks:   checks,
	})

	hubCtx, cancel := context.WithCancel(ctx)
	go hub.Run(hubCtx)
	t.Cleanup(cancel)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{server: s, http: srv, reg: reg}
}

func (e *testEnv) do(t *testing.T, method, path string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, body
}

func TestRunJobHandler(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.do(t, http.MethodPost, "/api/batch/run/count")
	if code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %v", code, body)
	}
	if body["message"] != "Count Job started successfully" {
		t.Errorf("message = %v", body["message"])
	}
	if body["status"] != "COMPLETED" {
		t.Errorf("status = %v, want COMPLETED", body["status"])
	}
	if id, _ := body["jobId"].(float64); id <= 0 {
		t.Errorf("jobId = %v", body["jobId"])
	}
	if body["startTime"] == nil {
		t.Error("startTime missing")
	}
	if _, ok := body["outputLocation"]; ok {
		t.Error("outputLocation only belongs to jobs that write files")
	}

	code, body = env.do(t, http.MethodPost, "/api/batch/run/dump")
	if code != http.StatusOK || body["outputLocation"] != "/tmp/out/" {
		t.Errorf("dump = %d %v", code, body)
	}
}

func TestRunJobHandler_UnknownJob(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.do(t, http.MethodPost, "/api/batch/run/cleanup")
	if code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", code)
	}
	if body["error"] == nil {
		t.Errorf("body = %v", body)
	}
}

type brokenRunner struct{}

func (brokenRunner) Run(context.Context, *batch.Job, domain.RunParameters) (*domain.JobExecution, error) {
	return nil, errors.New("metadata store unavailable")
}

func TestRunJobHandler_LaunchError(t *testing.T) {
	env := newTestEnv(t, brokenRunner{})

	code, body := env.do(t, http.MethodPost, "/api/batch/run/count")
	if code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", code)
	}
	if body["error"] != "Failed to start count" {
		t.Errorf("error = %v", body["error"])
	}
	if body["message"] != "metadata store unavailable" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestMonitoringHandlers(t *testing.T) {
	env := newTestEnv(t, nil)

	_, run := env.do(t, http.MethodPost, "/api/batch/run/count")
	id := int64(run["jobId"].(float64))

	code, body := env.do(t, http.MethodGet, "/api/batch/jobs")
	if code != http.StatusOK {
		t.Fatalf("jobs status = %d", code)
	}
	statuses := body["jobStatuses"].(map[string]any)
	if got := statuses["countJob"].(map[string]any)["status"]; got != "COMPLETED" {
		t.Errorf("countJob status = %v", got)
	}
	if got := statuses["dumpJob"].(map[string]any)["status"]; got != monitor.StatusNoExecutions {
		t.Errorf("dumpJob status = %v", got)
	}

	code, body = env.do(t, http.MethodGet, "/api/batch/jobs/countJob")
	if code != http.StatusOK || body["totalInstances"] != float64(1) {
		t.Errorf("history = %d %v", code, body)
	}

	code, body = env.do(t, http.MethodGet, "/api/batch/jobs/cleanupJob")
	if code != http.StatusNotFound || body["error"] != "No job instances found for: cleanupJob" {
		t.Errorf("missing history = %d %v", code, body)
	}

	code, body = env.do(t, http.MethodGet, "/api/batch/executions/"+strconv.FormatInt(id, 10))
	if code != http.StatusOK {
		t.Fatalf("execution status = %d", code)
	}
	steps := body["steps"].([]any)
	if len(steps) != 1 || steps[0].(map[string]any)["commitCount"] != float64(2) {
		t.Errorf("steps = %v", steps)
	}

	code, body = env.do(t, http.MethodGet, "/api/batch/executions/999")
	if code != http.StatusNotFound || body["error"] != "Job execution not found" {
		t.Errorf("missing execution = %d %v", code, body)
	}

	code, _ = env.do(t, http.MethodGet, "/api/batch/executions/abc")
	if code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", code)
	}
}

// launchAsync triggers a run from outside the test goroutine
func (e *testEnv) launchAsync(name string) {
	go func() {
		resp, err := http.Post(e.http.URL+"/api/batch/run/"+name, "application/json", nil)
		if err == nil {
			resp.Body.Close()
		}
	}()
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t, nil,
		ReadinessCheck{Name: "metadata", Check: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "business", Check: func(context.Context) error { return errors.New("down") }},
	)

	code, body := env.do(t, http.MethodGet, "/readyz")
	if code != http.StatusServiceUnavailable || body["status"] != "not_ready" {
		t.Errorf("readyz = %d %v", code, body)
	}

	code, body = env.do(t, http.MethodGet, "/healthz")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v", code, body)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/healthz", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-Id"); got != "abc-123" {
		t.Errorf("X-Request-Id = %q, want abc-123", got)
	}

	resp, err = http.Get(env.http.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("expected generated X-Request-Id")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/batch/run/count")

	resp, err := http.Get(env.http.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`batch_job_started_total{job_name="countJob"} 1`,
		`batch_step_read_count{job_name="countJob",step_name="countJobStep"} 12`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestSSEHandler(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.http.URL+"/api/batch/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	env.launchAsync("dump")

	var types []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if typ, ok := strings.CutPrefix(line, "event: "); ok {
			types = append(types, typ)
			if typ == EventJobFinished {
				break
			}
		}
	}

	want := []string{EventJobStarted, EventStepStarted, EventChunkCommitted, EventStepFinished, EventJobFinished}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", types, want)
	}
}

func TestWebSocketHandler(t *testing.T) {
	env := newTestEnv(t, nil)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/batch/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// the subscription is registered after the upgrade completes
	time.Sleep(50 * time.Millisecond)
	env.launchAsync("count")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var finished struct {
		Type string   `json:"type"`
		Data JobEvent `json:"data"`
	}
	for {
		if err := conn.ReadJSON(&finished); err != nil {
			t.Fatal(err)
		}
		if finished.Type == EventJobFinished {
			break
		}
	}
	if finished.Data.JobName != "countJob" || finished.Data.Status != "COMPLETED" {
		t.Errorf("finished = %+v", finished.Data)
	}
}

func TestMiddleware_LogsRequestIDOnPanic(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := wrap(logger, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/explode", nil)
	req.Header.Set("X-Request-Id", "req-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if got := w.Header().Get("X-Request-Id"); got != "req-42" {
		t.Errorf("X-Request-Id = %q, want req-42", got)
	}
	if !strings.Contains(buf.String(), "request_id=req-42") {
		t.Errorf("log does not carry the request id:\n%s", buf.String())
	}
}
