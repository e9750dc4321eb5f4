package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/config"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out, io.Discard).Run(append([]string{"workhorse"}, args...))
	return out.String(), err
}

func TestScheduleNext(t *testing.T) {
	out, err := run(t, "schedule", "next", "-n", "2", "--from", "2024-01-01T00:00:00Z", "0 30 * * * *")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "2024-01-01T00:30:00Z\n2024-01-01T01:30:00Z\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestScheduleBetween(t *testing.T) {
	out, err := run(t, "schedule", "between",
		"--start", "2024-01-01T00:00:00Z",
		"--end", "2024-01-01T03:00:00Z",
		"0 0 * * * *")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Fields(out)
	if len(lines) != 3 || lines[2] != "2024-01-01T03:00:00Z" {
		t.Errorf("output = %q, want three times ending at 03:00", out)
	}
}

func TestScheduleErrors(t *testing.T) {
	if _, err := run(t, "schedule", "next"); err == nil {
		t.Error("expected error without an expression")
	}
	if _, err := run(t, "schedule", "next", "not a cron"); err == nil {
		t.Error("expected error for an invalid expression")
	}
	if _, err := run(t, "schedule", "next", "--from", "yesterday", "* * * * *"); err == nil {
		t.Error("expected error for an invalid --from")
	}
}

func TestAuthenticator(t *testing.T) {
	ctx := context.Background()

	open := authenticator(config.Server{})
	if _, err := open.Authenticate(ctx, "anything"); err != nil {
		t.Errorf("open authenticator rejected a token: %v", err)
	}

	keyed := authenticator(config.Server{APIKeys: []config.APIKey{
		{Token: "secret", Subject: "ops", Scopes: []string{"*"}},
	}})
	ident, err := keyed.Authenticate(ctx, "secret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ident.Subject != "ops" {
		t.Errorf("subject = %q, want ops", ident.Subject)
	}
	if _, err := keyed.Authenticate(ctx, "wrong"); err == nil {
		t.Error("expected wrong token to be rejected")
	}
}

func TestEngineAppliesOverrides(t *testing.T) {
	file := config.Default()
	threads := 3
	file.Jobs = map[string]config.JobOverride{"echo": {Threads: &threads}}

	eng, _, err := newEngine(&file, newJobTimeouts(&file), testLogger())
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = eng.Stop(ctx) }()

	j, err := eng.GetJobByName(ctx, "echo")
	if err != nil {
		t.Fatalf("GetJobByName: %v", err)
	}
	if j.Threads != 3 {
		t.Errorf("threads = %d, want 3", j.Threads)
	}

	// A reload with a new override reaches the stored job.
	threads = 5
	applyOverrides(ctx, eng, &file, testLogger())
	j, err = eng.GetJobByName(ctx, "echo")
	if err != nil {
		t.Fatalf("GetJobByName: %v", err)
	}
	if j.Threads != 5 {
		t.Errorf("threads after reload = %d, want 5", j.Threads)
	}
	if j.Status != job.StatusActive {
		t.Errorf("status = %s, want ACTIVE", j.Status)
	}
}

func TestEngineAppliesJobTimeout(t *testing.T) {
	file := config.Default()
	file.Jobs = map[string]config.JobOverride{"sleep": {Timeout: 50 * time.Millisecond}}

	eng, _, err := newEngine(&file, newJobTimeouts(&file), testLogger())
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = eng.Stop(ctx) }()

	j, err := eng.GetJobByName(ctx, "sleep")
	if err != nil {
		t.Fatalf("GetJobByName: %v", err)
	}
	e, err := eng.CreateExecution(ctx, j.ID, []byte(`{"duration":"1h"}`))
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	for {
		got, err := eng.GetExecution(ctx, e.ID)
		if err != nil {
			t.Fatalf("GetExecution: %v", err)
		}
		if got.Status == execution.StatusFailed {
			if !strings.Contains(got.FailMessage, "deadline exceeded") {
				t.Errorf("fail message = %q, want a deadline error", got.FailMessage)
			}
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("execution still %s, want FAILED after the job timeout", got.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestSleepWork(t *testing.T) {
	summary, err := sleepWork(context.Background(), []byte(`{"duration":"1ms"}`))
	if err != nil || summary != "slept 1ms" {
		t.Errorf("sleepWork = %q, %v", summary, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sleepWork(ctx, []byte(`{"duration":"1h"}`)); err == nil {
		t.Error("expected cancellation error")
	}
	if _, err := sleepWork(context.Background(), []byte(`{"duration":"soon"}`)); err == nil {
		t.Error("expected error for bad duration")
	}
}
