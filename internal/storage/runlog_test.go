package storage

import (
	"path/filepath"
	"testing"
	"time"

	"tabflow/internal/domain"
)

func newTestStore(t *testing.T) *RunLogStore {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "nested", "runs.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRunLogStore(db)
}

func TestRunLogStore_CreateAndList(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, name := range []string{"sales", "sales", "stock"} {
		l := &domain.RunLog{
			RunID:       "run",
			JobID:       "job-" + name,
			JobName:     name,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			FinishedAt:  base.Add(time.Duration(i)*time.Minute + time.Second),
			Status:      domain.RunStatusSuccess,
			RowsRead:    i + 1,
			RowsWritten: 2 * (i + 1),
		}
		if err := store.CreateRunLog(l); err != nil {
			t.Fatalf("CreateRunLog: %v", err)
		}
		if l.ID == "" {
			t.Fatal("expected id to be assigned")
		}
		if l.Trigger != "manual" {
			t.Errorf("trigger = %q, want manual", l.Trigger)
		}
	}

	logs, err := store.ListRunLogs("sales", 10)
	if err != nil {
		t.Fatalf("ListRunLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 sales runs, got %d", len(logs))
	}
	if logs[0].RowsRead != 2 || logs[1].RowsRead != 1 {
		t.Errorf("expected newest first, got rows_read %d, %d", logs[0].RowsRead, logs[1].RowsRead)
	}
	if logs[0].Status != domain.RunStatusSuccess {
		t.Errorf("status = %q", logs[0].Status)
	}
	if d := logs[0].Duration(); d != time.Second {
		t.Errorf("duration = %v, want 1s", d)
	}

	all, err := store.ListRunLogs("", 10)
	if err != nil {
		t.Fatalf("ListRunLogs all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 runs overall, got %d", len(all))
	}

	limited, err := store.ListRunLogs("", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].JobName != "stock" {
		t.Errorf("limit 1 = %+v", limited)
	}
}

func TestRunLogStore_ErrorRun(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	if err := store.CreateRunLog(&domain.RunLog{
		JobName: "broken", Trigger: "schedule", StartedAt: now, FinishedAt: now,
		Status: domain.RunStatusError, Error: "load: boom",
	}); err != nil {
		t.Fatal(err)
	}
	logs, err := store.ListRunLogs("broken", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Error != "load: boom" || logs[0].Trigger != "schedule" {
		t.Errorf("got %+v", logs)
	}
}
