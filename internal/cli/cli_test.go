package cli

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/me/cmdbase/internal/robot"
	"github.com/me/cmdbase/internal/server"
	"github.com/me/cmdbase/pkg/command"
	"github.com/me/cmdbase/pkg/model"
)

// startTestServer serves a running 1ms teleop loop and returns the URL.
func startTestServer(t *testing.T) (string, *robot.Loop) {
	t.Helper()
	srvLogger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	l := robot.NewLoop(robot.Config{Period: time.Millisecond, Mode: model.RobotModeTeleop}, srvLogger)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Start(ctx)
	t.Cleanup(func() {
		cancel()
		l.Stop()
	})

	ts := httptest.NewServer(server.New(l, srvLogger).Handler())
	t.Cleanup(ts.Close)
	return ts.URL, l
}

func scenarioPath(name string) string {
	return filepath.Join("..", "scenario", "testdata", name)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))

	err := root.Execute()
	return buf.String(), err
}

func TestValidateCommand(t *testing.T) {
	output, err := runCLI(t, "validate", scenarioPath("shooter.yaml"))
	if err != nil {
		t.Fatalf("validate error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "ok  "+scenarioPath("shooter.yaml")) {
		t.Errorf("expected ok line in output, got: %s", output)
	}
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	doc := `name: bad
ticks: 10
resources:
  - name: arm
tasks:
  - name: loop
    kind: sequence
    children: [loop]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	output, err := runCLI(t, "validate", path)
	if err == nil {
		t.Fatalf("expected error for invalid scenario, output: %s", output)
	}
	if !strings.Contains(output, "FAIL  "+path) {
		t.Errorf("expected FAIL line in output, got: %s", output)
	}
	if !strings.Contains(output, "tasks[0].children") {
		t.Errorf("expected field path in output, got: %s", output)
	}
}

func TestRunCommand_Simulated(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "journal.db")

	output, err := runCLI(t, "run", scenarioPath("shooter.yaml"), "--journal", journalPath, "--metrics")
	if err != nil {
		t.Fatalf("run error: %v\noutput: %s", err, output)
	}
	for _, want := range []string{"initialize", "autonomous", "journal: run ", "cmdbase.loop.ticks"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
	var ticks string
	for _, line := range strings.Split(output, "\n") {
		if f := strings.Fields(line); len(f) == 2 && f[0] == "cmdbase.loop.ticks" {
			ticks = f[1]
		}
	}
	if ticks != "150" {
		t.Errorf("cmdbase.loop.ticks = %q, want 150", ticks)
	}

	output, err = runCLI(t, "events", "--journal", journalPath, "--kind", "mode")
	if err != nil {
		t.Fatalf("events error: %v\noutput: %s", err, output)
	}
	for _, want := range []string{"autonomous", "teleop", "disabled"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected mode %q in events, got: %s", want, output)
		}
	}
	if strings.Contains(output, " initialize ") {
		t.Errorf("kind filter leaked task events: %s", output)
	}

	output, err = runCLI(t, "events", "--journal", journalPath, "--runs")
	if err != nil {
		t.Fatalf("events --runs error: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(output), "\n"); len(lines) != 2 {
		t.Errorf("expected header and one run, got: %s", output)
	}

	output, err = runCLI(t, "events", "--journal", journalPath, "--replay", "--limit", "500")
	if err != nil {
		t.Fatalf("events --replay error: %v", err)
	}
	if !strings.Contains(output, "TASK ID") || !strings.Contains(output, "FINISHED") {
		t.Errorf("expected replayed histories, got: %s", output)
	}
}

func TestRunCommand_Quiet(t *testing.T) {
	output, err := runCLI(t, "run", scenarioPath("shooter.yaml"), "--ticks", "10", "-q")
	if err != nil {
		t.Fatalf("run error: %v\noutput: %s", err, output)
	}
	if strings.TrimSpace(output) != "" {
		t.Errorf("expected no output with -q, got: %s", output)
	}
}

func TestRunCommand_MissingFile(t *testing.T) {
	if _, err := runCLI(t, "run", "does-not-exist.yaml"); err == nil {
		t.Fatal("expected error for missing scenario")
	}
}

func TestEventsCommand_NoJournal(t *testing.T) {
	_, err := runCLI(t, "events")
	if err == nil || !strings.Contains(err.Error(), "no journal") {
		t.Fatalf("err = %v, want no journal", err)
	}
}

func TestEventsCommand_BadKind(t *testing.T) {
	_, err := runCLI(t, "events", "--journal", filepath.Join(t.TempDir(), "j.db"), "--kind", "boom")
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestStatusCommand(t *testing.T) {
	url, l := startTestServer(t)
	arm := command.NewResource("arm")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := l.Do(ctx, func() {
		s := l.Scheduler()
		s.RegisterResource(arm)
		s.Schedule(command.Named(arm.Run(func() {}), "Hold"))
	})
	if err != nil {
		t.Fatalf("loop.Do: %v", err)
	}

	output, err := runCLI(t, "--server", url, "status")
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	for _, want := range []string{"Mode: teleop", "Hold", "arm"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestModeCommand(t *testing.T) {
	url, l := startTestServer(t)

	output, err := runCLI(t, "--server", url, "mode")
	if err != nil {
		t.Fatalf("mode error: %v", err)
	}
	if !strings.Contains(output, "Mode: teleop") {
		t.Errorf("expected current mode, got: %s", output)
	}

	output, err = runCLI(t, "--server", url, "mode", "disabled")
	if err != nil {
		t.Fatalf("mode disabled error: %v", err)
	}
	if !strings.Contains(output, "disabled") {
		t.Errorf("expected requested mode in output, got: %s", output)
	}

	deadline := time.Now().Add(2 * time.Second)
	for l.Mode() != model.RobotModeDisabled && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if l.Mode() != model.RobotModeDisabled {
		t.Errorf("loop mode = %q, want disabled", l.Mode())
	}

	if _, err := runCLI(t, "--server", url, "mode", "driving"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestCancelCommand(t *testing.T) {
	url, l := startTestServer(t)
	hold := command.Named(command.Idle(), "Hold")
	var id string
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Do(ctx, func() {
		l.Scheduler().Schedule(hold)
		id, _ = l.Scheduler().TaskID(hold)
	}); err != nil {
		t.Fatalf("loop.Do: %v", err)
	}

	output, err := runCLI(t, "--server", url, "cancel", id)
	if err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	if !strings.Contains(output, "cancelled") {
		t.Errorf("expected confirmation, got: %s", output)
	}

	_, err = runCLI(t, "--server", url, "cancel", id)
	if err == nil || !strings.Contains(err.Error(), string(model.ErrNotFound)) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}

	output, err = runCLI(t, "--server", url, "cancel", "--all")
	if err != nil {
		t.Fatalf("cancel --all error: %v", err)
	}
	if !strings.Contains(output, "Cancelled 0 task(s)") {
		t.Errorf("expected zero cancelled, got: %s", output)
	}

	if _, err := runCLI(t, "--server", url, "cancel"); err == nil {
		t.Error("expected error without task id or --all")
	}
}

func TestRootCommand_BadLogFormat(t *testing.T) {
	_, err := runCLI(t, "--log-format", "xml", "validate", scenarioPath("shooter.yaml"))
	if err == nil {
		t.Fatal("expected error for unknown log format")
	}
}

func TestRootCommand_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmdbase.yaml")
	if err := os.WriteFile(path, []byte("scheduler:\n  panic_policy: nonsense\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := runCLI(t, "--config", path, "validate", scenarioPath("shooter.yaml"))
	if err == nil || !strings.Contains(err.Error(), "panic_policy") {
		t.Fatalf("err = %v, want panic_policy error", err)
	}
}
