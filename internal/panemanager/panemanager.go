// Package panemanager implements PaneManager: an ordered collection of
// Panes (PTY + child process + status) with tab semantics, grounded on the
// pane/tab model from the reference corpus's MCP handlers and agent-tui's
// AgentInstance.
package panemanager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/akiojin/gwt-sub001/internal/gwterrors"
	"github.com/akiojin/gwt-sub001/internal/logging"
	"github.com/akiojin/gwt-sub001/internal/procrunner"
	"github.com/google/uuid"
)

// Status mirrors spec.md §3's Pane foreground status.
type Status int

const (
	StatusRunning Status = iota
	StatusCompleted
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Pane is one agent child process attached to one worktree.
type Pane struct {
	ID            string
	AgentName     string
	Branch        string
	WorktreePath  string
	LaunchedAt    time.Time
	Env           []string

	handle     *procrunner.Handle
	status     Status
	exitCode   int
	errReason  string
}

// Status returns the pane's cached status.
func (p *Pane) Status() Status { return p.status }

// LaunchConfig is the input to Manager.Launch.
type LaunchConfig struct {
	AgentName string
	Command   string
	Args      []string
	Branch    string
	Worktree  string
	Env       []string
	Rows      int
	Cols      int
}

// Manager is PaneManager: an ordered pane collection with an active index.
// Status polling is pull-based — Manager never runs its own background
// goroutine (spec.md §4.4).
type Manager struct {
	runner *procrunner.Runner
	max    int

	mu     sync.Mutex
	panes  []*Pane
	active int
	log    *slog.Logger
}

// New constructs a Manager with the given ProcessRunner and pane capacity
// (M=4 for terminal-embedded managers, M=8 for RPC-launched, per I4).
func New(runner *procrunner.Runner, max int) *Manager {
	return &Manager{
		runner: runner,
		max:    max,
		active: -1,
		log:    logging.WithComponent("panemanager"),
	}
}

// Len returns the number of managed panes.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.panes)
}

// Panes returns a snapshot slice of the managed panes.
func (m *Manager) Panes() []*Pane {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Pane, len(m.panes))
	copy(out, m.panes)
	return out
}

// ByID returns the pane with the given id, or nil.
func (m *Manager) ByID(id string) *Pane {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.panes {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// RunningCount returns the number of panes currently in StatusRunning,
// checking status first.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	panes := append([]*Pane(nil), m.panes...)
	m.mu.Unlock()

	count := 0
	for _, p := range panes {
		m.CheckStatus(p)
		if p.Status() == StatusRunning {
			count++
		}
	}
	return count
}

// add appends pane, sets it active, and enforces the I4 pane limit.
func (m *Manager) add(p *Pane) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.panes) >= m.max {
		return &gwterrors.PaneLimitReached{Max: m.max}
	}
	m.panes = append(m.panes, p)
	m.active = len(m.panes) - 1
	return nil
}

// Launch generates a unique pane id, spawns the child via ProcessRunner, and
// adds the pane.
func (m *Manager) Launch(cfg LaunchConfig) (*Pane, error) {
	if m.Len() >= m.max {
		return nil, &gwterrors.PaneLimitReached{Max: m.max}
	}

	id := uuid.NewString()
	handle, err := m.runner.Spawn(id, cfg.Command, cfg.Args, cfg.Worktree, cfg.Env, cfg.Rows, cfg.Cols)
	if err != nil {
		return nil, &gwterrors.AgentLaunchFailed{Name: cfg.AgentName, Reason: "spawn failed", Err: err}
	}

	pane := &Pane{
		ID:           id,
		AgentName:    cfg.AgentName,
		Branch:       cfg.Branch,
		WorktreePath: cfg.Worktree,
		LaunchedAt:   time.Now(),
		Env:          cfg.Env,
		handle:       handle,
		status:       StatusRunning,
	}
	if err := m.add(pane); err != nil {
		_ = m.runner.Kill(handle, false)
		_ = handle.Close()
		return nil, err
	}
	m.log.Info("launched pane", slog.String("pane_id", id), slog.String("agent", cfg.AgentName), slog.String("branch", cfg.Branch))
	return pane, nil
}

// CheckStatus drains poll_status from ProcessRunner and updates the pane's
// cached status variant (the pull-based model from spec.md §4.4).
func (m *Manager) CheckStatus(p *Pane) {
	status, code := m.runner.PollStatus(p.handle)
	switch status {
	case procrunner.StatusRunning:
		p.status = StatusRunning
	case procrunner.StatusExited:
		if code == 0 {
			p.status = StatusCompleted
		} else {
			p.status = StatusError
		}
		p.exitCode = code
	case procrunner.StatusSignaled:
		p.status = StatusError
		p.errReason = "signaled"
	}
}

// Close kills the child (best effort) and removes the pane at index,
// clamping the active index to len-1.
func (m *Manager) Close(index int) error {
	m.mu.Lock()
	if index < 0 || index >= len(m.panes) {
		m.mu.Unlock()
		return &gwterrors.Internal{Msg: "pane index out of range"}
	}
	p := m.panes[index]
	m.mu.Unlock()

	_ = m.runner.Kill(p.handle, true)
	_ = p.handle.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.panes = append(m.panes[:index], m.panes[index+1:]...)
	if m.active >= len(m.panes) {
		m.active = len(m.panes) - 1
	}
	return nil
}

// NextTab cycles the active index forward with wrap-around; no-op when empty.
func (m *Manager) NextTab() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.panes) == 0 {
		return
	}
	m.active = (m.active + 1) % len(m.panes)
}

// PrevTab cycles the active index backward with wrap-around; no-op when empty.
func (m *Manager) PrevTab() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.panes) == 0 {
		return
	}
	m.active = (m.active - 1 + len(m.panes)) % len(m.panes)
}

// ResizeAll broadcasts a resize to every pane.
func (m *Manager) ResizeAll(rows, cols int) {
	for _, p := range m.Panes() {
		m.runner.Resize(p.handle, rows, cols)
	}
}

// KillAll sends kill to every pane but retains them in the collection so the
// UI can display final output.
func (m *Manager) KillAll() {
	for _, p := range m.Panes() {
		_ = m.runner.Kill(p.handle, true)
	}
}

// WriteInput routes bytes to the identified pane, refusing panes not in
// Running status (I6).
func (m *Manager) WriteInput(paneID string, data []byte) error {
	p := m.ByID(paneID)
	if p == nil {
		return &gwterrors.PaneNotFound{ID: paneID}
	}
	m.CheckStatus(p)
	if p.Status() != StatusRunning {
		return &gwterrors.Internal{Msg: "pane not running: " + paneID}
	}
	return m.runner.Write(p.handle, data)
}
