package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/me/cmdbase/internal/robot"
	"github.com/me/cmdbase/internal/store"
	"github.com/me/cmdbase/pkg/command"
	"github.com/me/cmdbase/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testServer returns a server over a running 1ms robot loop in teleop.
func testServer(t *testing.T, opts ...Option) (*Server, *robot.Loop) {
	t.Helper()
	l := robot.NewLoop(robot.Config{Period: time.Millisecond, Mode: model.RobotModeTeleop}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go l.Start(ctx)
	t.Cleanup(func() {
		cancel()
		l.Stop()
	})
	return New(l, testLogger(), opts...), l
}

// onLoop runs fn on the loop goroutine.
func onLoop(t *testing.T, l *robot.Loop, fn func(s *command.Scheduler)) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Do(ctx, func() { fn(l.Scheduler()) }); err != nil {
		t.Fatalf("loop.Do: %v", err)
	}
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

func do(t *testing.T, srv *Server, method, path, body string, wantStatus int) envelope {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func doGet(t *testing.T, srv *Server, path string) envelope {
	t.Helper()
	return do(t, srv, "GET", path, "", http.StatusOK)
}

func TestDiscovery(t *testing.T) {
	srv, _ := testServer(t)
	env := doGet(t, srv, "/api/v1/")
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
	if env.RequestID == "" {
		t.Error("request_id is empty")
	}

	var data discoveryResponse
	json.Unmarshal(env.Data, &data)
	if data.Name != "cmdbase API" {
		t.Errorf("name = %q, want cmdbase API", data.Name)
	}
	if len(data.Endpoints) != 6 {
		t.Errorf("endpoints count = %d, want 6 without a journal", len(data.Endpoints))
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req_client1")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req_client1" {
		t.Errorf("X-Request-ID = %q, want req_client1", got)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, WithVersion("1.2.3"))
	env := doGet(t, srv, "/api/v1/health")

	var data healthResponse
	json.Unmarshal(env.Data, &data)
	if data.Status != "healthy" {
		t.Errorf("health status = %q, want healthy", data.Status)
	}
	if data.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", data.Version)
	}
	if data.Mode != "teleop" {
		t.Errorf("mode = %q, want teleop", data.Mode)
	}
	if data.Journal != "disabled" {
		t.Errorf("journal = %q, want disabled", data.Journal)
	}
}

func TestGetScheduler(t *testing.T) {
	srv, l := testServer(t)
	arm := command.NewResource("arm")
	drive := command.NewResource("drive")
	onLoop(t, l, func(s *command.Scheduler) {
		s.RegisterResource(arm, drive)
		if err := s.SetDefaultTask(drive, command.Named(drive.Idle(), "Coast")); err != nil {
			t.Errorf("set default: %v", err)
		}
		if err := s.Schedule(command.Named(arm.Run(func() {}), "Hold")); err != nil {
			t.Errorf("schedule: %v", err)
		}
	})

	env := doGet(t, srv, "/api/v1/scheduler")
	var status model.SchedulerStatus
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatal(err)
	}
	if status.Mode != model.RobotModeTeleop {
		t.Errorf("mode = %q, want teleop", status.Mode)
	}
	names := map[string]bool{}
	for _, rt := range status.Running {
		names[rt.Name] = true
	}
	if !names["Hold"] {
		t.Errorf("running = %+v, want Hold", status.Running)
	}
	if len(status.Resources) != 2 {
		t.Fatalf("resources = %+v, want 2", status.Resources)
	}
	if status.Resources[0].Name != "arm" || status.Resources[0].ClaimedBy != "Hold" {
		t.Errorf("arm = %+v, want claimed by Hold", status.Resources[0])
	}
	if status.Resources[1].DefaultTask != "Coast" {
		t.Errorf("drive default = %q, want Coast", status.Resources[1].DefaultTask)
	}
}

func TestCancelTask(t *testing.T) {
	srv, l := testServer(t)
	hold := command.Named(command.Idle(), "Hold")
	var id string
	onLoop(t, l, func(s *command.Scheduler) {
		s.Schedule(hold)
		id, _ = s.TaskID(hold)
	})
	if id == "" {
		t.Fatal("task was not admitted")
	}

	do(t, srv, "POST", "/api/v1/scheduler/tasks/"+id+"/cancel", "", http.StatusOK)

	var scheduled bool
	onLoop(t, l, func(s *command.Scheduler) { scheduled = s.IsScheduled(hold) })
	if scheduled {
		t.Error("task still scheduled after cancel")
	}

	env := do(t, srv, "POST", "/api/v1/scheduler/tasks/"+id+"/cancel", "", http.StatusNotFound)
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %v, want NOT_FOUND", env.Error)
	}
}

func TestCancelAll(t *testing.T) {
	srv, l := testServer(t)
	onLoop(t, l, func(s *command.Scheduler) {
		s.Schedule(command.Idle(), command.Named(command.Idle(), "Other"))
	})

	env := do(t, srv, "POST", "/api/v1/scheduler/cancel-all", "", http.StatusOK)
	var data struct {
		Cancelled int `json:"cancelled"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Cancelled != 2 {
		t.Errorf("cancelled = %d, want 2", data.Cancelled)
	}

	var running int
	onLoop(t, l, func(s *command.Scheduler) { running = len(s.Running()) })
	if running != 0 {
		t.Errorf("running = %d, want 0", running)
	}
}

func TestRobotMode(t *testing.T) {
	srv, l := testServer(t)

	env := doGet(t, srv, "/api/v1/robot/mode")
	var got modeResponse
	json.Unmarshal(env.Data, &got)
	if got.Mode != model.RobotModeTeleop || !got.Enabled {
		t.Errorf("mode = %+v, want enabled teleop", got)
	}

	env = do(t, srv, "PUT", "/api/v1/robot/mode", `{"mode":"disabled"}`, http.StatusAccepted)
	json.Unmarshal(env.Data, &got)
	if got.Requested != model.RobotModeDisabled {
		t.Errorf("requested = %q, want disabled", got.Requested)
	}

	deadline := time.Now().Add(2 * time.Second)
	for l.Mode() != model.RobotModeDisabled {
		if time.Now().After(deadline) {
			t.Fatal("mode change never applied")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRobotMode_Invalid(t *testing.T) {
	srv, _ := testServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"unknown mode", `{"mode":"driving"}`},
		{"missing mode", `{}`},
		{"bad json", `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := do(t, srv, "PUT", "/api/v1/robot/mode", tt.body, http.StatusBadRequest)
			if env.Status != "error" {
				t.Errorf("status = %q, want error", env.Status)
			}
			if env.Error == nil || env.Error.Code != model.ErrValidation {
				t.Errorf("error = %v, want VALIDATION_ERROR", env.Error)
			}
		})
	}
}

func TestEvents(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	st.AppendEvents(ctx, []*model.Event{
		{ID: "e1", RunID: "r1", Tick: 1, Kind: model.EventInitialize, TaskName: "A", At: now},
		{ID: "e2", RunID: "r1", Tick: 3, Kind: model.EventFinish, TaskName: "A", At: now},
		{ID: "e3", RunID: "r1", Tick: 3, Kind: model.EventMode, Mode: model.RobotModeTeleop, At: now},
	})

	srv, _ := testServer(t, WithStore(st))

	env := doGet(t, srv, "/api/v1/events")
	if env.Pagination == nil || env.Pagination.Total != 3 {
		t.Fatalf("pagination = %+v, want total 3", env.Pagination)
	}

	env = doGet(t, srv, "/api/v1/events?kind=finish&limit=10")
	var events []model.Event
	json.Unmarshal(env.Data, &events)
	if len(events) != 1 || events[0].ID != "e2" {
		t.Errorf("events = %+v, want only e2", events)
	}

	env = do(t, srv, "GET", "/api/v1/events?kind=bogus&limit=x", "", http.StatusBadRequest)
	if env.Error == nil || len(env.Error.Details) != 2 {
		t.Errorf("error = %+v, want two field errors", env.Error)
	}

	env = doGet(t, srv, "/api/v1/runs")
	var runs []model.RunSummary
	json.Unmarshal(env.Data, &runs)
	if len(runs) != 1 || runs[0].Events != 3 {
		t.Errorf("runs = %+v", runs)
	}
}

func TestEvents_NoJournal(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest("GET", "/api/v1/events", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestLoopNotRunning(t *testing.T) {
	l := robot.NewLoop(robot.DefaultConfig(), testLogger())
	srv := New(l, testLogger(), WithLoopTimeout(20*time.Millisecond))
	env := do(t, srv, "GET", "/api/v1/scheduler", "", http.StatusGatewayTimeout)
	if env.Error == nil || env.Error.Code != model.ErrTimeout {
		t.Errorf("error = %v, want TIMEOUT", env.Error)
	}
}

func TestSSEScheduler(t *testing.T) {
	srv, _ := testServer(t, WithStreamPeriod(5*time.Millisecond))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/v1/sse/scheduler", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %q", ct)
	}
	scanner := bufio.NewScanner(resp.Body)
	if !scanner.Scan() || scanner.Text() != "event: init" {
		t.Fatalf("first line = %q, want event: init", scanner.Text())
	}
	if !scanner.Scan() || !strings.HasPrefix(scanner.Text(), "data: {") {
		t.Fatalf("second line = %q, want data", scanner.Text())
	}
}
