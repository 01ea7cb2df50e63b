package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"viberesume/internal/scheduler"
)

type mockRollover struct {
	called    bool
	gotNow    time.Time
	returnN   int64
	returnErr error
}

func (m *mockRollover) ResetAIUsage(_ context.Context, now time.Time) (int64, error) {
	m.called = true
	m.gotNow = now
	return m.returnN, m.returnErr
}

type mockMigrations struct {
	called    bool
	returnN   int
	returnErr error
}

func (m *mockMigrations) Up(context.Context) (int, error) {
	m.called = true
	return m.returnN, m.returnErr
}

type mockFlusher struct {
	flushes int
}

func (m *mockFlusher) Flush(context.Context) error {
	m.flushes++
	return nil
}

func newTestHandler() (*Handler, *mockRollover, *mockMigrations, *mockFlusher) {
	rollover := &mockRollover{}
	migrations := &mockMigrations{}
	flusher := &mockFlusher{}
	h := &Handler{
		Rollover:   rollover,
		Migrations: migrations,
		Metrics:    flusher,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:        func() time.Time { return time.Date(2026, 11, 1, 0, 5, 0, 0, time.UTC) },
	}
	return h, rollover, migrations, flusher
}

func TestHandle_ResetAIUsage(t *testing.T) {
	h, rollover, migrations, flusher := newTestHandler()
	rollover.returnN = 42

	result, err := h.Handle(context.Background(), scheduler.MaintenancePayload{Task: scheduler.TaskResetAIUsage})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rollover.called || migrations.called {
		t.Fatal("expected only the rollover to run")
	}
	if !rollover.gotNow.Equal(time.Date(2026, 11, 1, 0, 5, 0, 0, time.UTC)) {
		t.Errorf("now = %v", rollover.gotNow)
	}
	if !strings.Contains(result, "42 items") {
		t.Errorf("result = %q", result)
	}
	if flusher.flushes != 1 {
		t.Errorf("flushes = %d, want 1", flusher.flushes)
	}
}

func TestHandle_ReferenceTimeOverride(t *testing.T) {
	h, rollover, _, _ := newTestHandler()
	ref := time.Date(2026, 9, 1, 3, 0, 0, 0, time.FixedZone("EST", -5*3600))

	_, err := h.Handle(context.Background(), scheduler.MaintenancePayload{
		Task:          scheduler.TaskResetAIUsage,
		ReferenceTime: &ref,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rollover.gotNow.Equal(ref) || rollover.gotNow.Location() != time.UTC {
		t.Errorf("now = %v, want %v in UTC", rollover.gotNow, ref)
	}
}

func TestHandle_Migrate(t *testing.T) {
	h, rollover, migrations, _ := newTestHandler()
	migrations.returnN = 2

	result, err := h.Handle(context.Background(), scheduler.MaintenancePayload{Task: scheduler.TaskMigrate})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !migrations.called || rollover.called {
		t.Fatal("expected only migrations to run")
	}
	if !strings.Contains(result, "2 items") {
		t.Errorf("result = %q", result)
	}
}

func TestHandle_TaskError(t *testing.T) {
	h, rollover, _, flusher := newTestHandler()
	rollover.returnErr = errors.New("connection refused")

	_, err := h.Handle(context.Background(), scheduler.MaintenancePayload{Task: scheduler.TaskResetAIUsage})
	if err == nil || !strings.Contains(err.Error(), "reset_ai_usage") {
		t.Fatalf("err = %v", err)
	}
	if flusher.flushes != 1 {
		t.Error("metrics are flushed even when the task fails")
	}
}

func TestHandle_InvalidTask(t *testing.T) {
	h, rollover, migrations, _ := newTestHandler()

	if _, err := h.Handle(context.Background(), scheduler.MaintenancePayload{}); err == nil {
		t.Error("expected error for empty task")
	}
	if _, err := h.Handle(context.Background(), scheduler.MaintenancePayload{Task: "archive_everything"}); err == nil {
		t.Error("expected error for unknown task")
	}
	if rollover.called || migrations.called {
		t.Error("no service should run for an invalid task")
	}
}
