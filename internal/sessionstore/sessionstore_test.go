package sessionstore

import (
	"testing"
	"time"

	"github.com/akiojin/gwt-sub001/internal/orchestrator"
)

func openMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndLoadSessionRoundTrips(t *testing.T) {
	s := openMemStore(t)
	sess := &orchestrator.Session{
		SessionID: "sess-1", WorkingDirectory: "/work", UserRequest: "do the thing",
		Status: orchestrator.SessionRunning, Phase: orchestrator.PhaseExecuting,
		LLMCallCount: 3, EstimatedTokens: 1200,
	}
	if err := s.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := s.LoadSessionSummary("sess-1")
	if err != nil {
		t.Fatalf("LoadSessionSummary failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a session, got nil")
	}
	if got.UserRequest != "do the thing" || got.LLMCallCount != 3 || got.EstimatedTokens != 1200 {
		t.Errorf("unexpected summary: %+v", got)
	}
}

func TestLoadSessionSummaryMissingReturnsNil(t *testing.T) {
	s := openMemStore(t)
	got, err := s.LoadSessionSummary("nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing session, got %+v", got)
	}
}

func TestSaveTaskUpsertsAndPersistsDependencies(t *testing.T) {
	s := openMemStore(t)
	task := &orchestrator.Task{
		TaskID: "T1", Name: "first", Description: "first step",
		Status: orchestrator.TaskReady, Dependencies: map[string]struct{}{"T0": {}},
		RetryCount: 1, Branch: "task/T1", WorktreePath: "/wt/T1",
		StartedAt: time.Now().Truncate(time.Second),
	}
	if err := s.SaveTask("sess-1", task); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	// Upsert: change status and retry, save again under the same key.
	task.Status = orchestrator.TaskRunning
	task.RetryCount = 2
	if err := s.SaveTask("sess-1", task); err != nil {
		t.Fatalf("second SaveTask failed: %v", err)
	}

	recs, err := s.LoadTasks("sess-1")
	if err != nil {
		t.Fatalf("LoadTasks failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 task row after upsert, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Status != string(orchestrator.TaskRunning) || rec.RetryCount != 2 {
		t.Errorf("upsert did not take effect: %+v", rec)
	}
	if len(rec.Dependencies) != 1 || rec.Dependencies[0] != "T0" {
		t.Errorf("dependencies = %v, want [T0]", rec.Dependencies)
	}
}
