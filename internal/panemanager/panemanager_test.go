package panemanager

import (
	"testing"

	"github.com/akiojin/gwt-sub001/internal/gwterrors"
	"github.com/akiojin/gwt-sub001/internal/procrunner"
)

func launchEcho(t *testing.T, m *Manager, agent string) *Pane {
	t.Helper()
	p, err := m.Launch(LaunchConfig{
		AgentName: agent,
		Command:   "sh",
		Args:      []string{"-c", "cat"},
		Branch:    "feature/" + agent,
		Worktree:  ".",
		Rows:      24,
		Cols:      80,
	})
	if err != nil {
		t.Fatalf("Launch(%s) failed: %v", agent, err)
	}
	return p
}

// P7: launching beyond the configured pane limit fails without mutating the
// existing pane set.
func TestPaneLimitReached(t *testing.T) {
	m := New(procrunner.New(), 2)

	p1 := launchEcho(t, m, "agent-1")
	defer m.runner.Kill(p1.handle, true)
	p2 := launchEcho(t, m, "agent-2")
	defer m.runner.Kill(p2.handle, true)

	_, err := m.Launch(LaunchConfig{
		AgentName: "agent-3",
		Command:   "sh",
		Args:      []string{"-c", "cat"},
		Worktree:  ".",
		Rows:      24,
		Cols:      80,
	})
	if err == nil {
		t.Fatalf("expected PaneLimitReached, got nil")
	}
	var limErr *gwterrors.PaneLimitReached
	if !asPaneLimitReached(err, &limErr) {
		t.Fatalf("expected *gwterrors.PaneLimitReached, got %T: %v", err, err)
	}
	if limErr.Max != 2 {
		t.Errorf("Max = %d, want 2", limErr.Max)
	}

	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (existing panes must be untouched)", m.Len())
	}
}

func asPaneLimitReached(err error, target **gwterrors.PaneLimitReached) bool {
	if e, ok := err.(*gwterrors.PaneLimitReached); ok {
		*target = e
		return true
	}
	return false
}

// P9: sanitization strips control bytes other than \n/\t and wraps with the
// sender-attribution prefix.
func TestSanitizeMessageStripsControlBytes(t *testing.T) {
	raw := "line one\x07\x1b[31m bad \x00byte\ttabbed\nnext"
	out := SanitizeMessage("agent-a", raw)

	if want := "[gwt msg from agent-a]: "; out[:len(want)] != want {
		t.Errorf("missing sender prefix, got %q", out)
	}
	for _, b := range []byte(out[len("[gwt msg from agent-a]: "):]) {
		if b < 0x20 && b != '\n' && b != '\t' {
			t.Errorf("control byte %d leaked into sanitized output: %q", b, out)
		}
		if b == 0x7f {
			t.Errorf("DEL byte leaked into sanitized output: %q", out)
		}
	}
	if out[len(out)-1] != '\n' {
		t.Errorf("expected sanitized message to end with newline, got %q", out)
	}
}

func TestNextPrevTabWrapAround(t *testing.T) {
	m := New(procrunner.New(), 4)
	p1 := launchEcho(t, m, "agent-1")
	defer m.runner.Kill(p1.handle, true)
	p2 := launchEcho(t, m, "agent-2")
	defer m.runner.Kill(p2.handle, true)

	if m.active != 1 {
		t.Fatalf("active = %d, want 1 after two launches", m.active)
	}
	m.NextTab()
	if m.active != 0 {
		t.Errorf("active = %d, want 0 after wrap-around NextTab", m.active)
	}
	m.PrevTab()
	if m.active != 1 {
		t.Errorf("active = %d, want 1 after PrevTab", m.active)
	}
}

func TestCloseClampsActiveIndex(t *testing.T) {
	m := New(procrunner.New(), 4)
	p1 := launchEcho(t, m, "agent-1")
	p2 := launchEcho(t, m, "agent-2")
	defer m.runner.Kill(p2.handle, true)
	_ = p1

	if err := m.Close(1); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
	if m.active != 0 {
		t.Errorf("active = %d, want 0 after closing last pane", m.active)
	}
}
