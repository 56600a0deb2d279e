package orchestrator

import (
	"regexp"
	"strings"
	"time"
)

// TaskStatus is a Task's position in its lifecycle (I7, I8).
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskReady     TaskStatus = "ready"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// maxRetries is the number of SubAgentFailed events a task tolerates before
// it is marked permanently Failed (I8: 4th failure is terminal).
const maxRetries = 3

// Task is one unit of work in a session's dependency graph.
type Task struct {
	TaskID       string
	Name         string
	Description  string
	Status       TaskStatus
	Dependencies map[string]struct{}
	RetryCount   int
	PaneID       string
	Branch       string
	WorktreePath string
	StartedAt    time.Time
	CompletedAt  time.Time
}

func newTask(id, name, description string, deps []string) *Task {
	d := make(map[string]struct{}, len(deps))
	for _, dep := range deps {
		d[dep] = struct{}{}
	}
	return &Task{TaskID: id, Name: name, Description: description, Status: TaskPending, Dependencies: d}
}

// SessionStatus is the lifecycle state of an orchestrated session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// Phase tracks where in the §4.6 seven-step flow a session currently sits.
type Phase string

const (
	PhaseClarifying     Phase = "clarifying"
	PhasePlanning       Phase = "planning"
	PhaseAwaitApproval  Phase = "await_approval"
	PhaseExecuting      Phase = "executing"
)

// Session is the single mutable state an Engine owns while it runs one
// cooperative event loop (§4.6: "against an owned session state").
type Session struct {
	SessionID        string
	WorkingDirectory string
	UserRequest      string
	Status           SessionStatus
	Phase            Phase
	LLMCallCount     int
	EstimatedTokens  int

	Tasks    map[string]*Task
	TaskOrder []string // insertion order, for deterministic iteration

	LastSpec  string
	LastPlan  string
	LastTasks string
}

func newSession(id, workDir, request string) *Session {
	return &Session{
		SessionID:        id,
		WorkingDirectory: workDir,
		UserRequest:      request,
		Status:           SessionRunning,
		Phase:            PhaseClarifying,
		Tasks:            make(map[string]*Task),
	}
}

func (s *Session) addTask(t *Task) {
	s.Tasks[t.TaskID] = t
	s.TaskOrder = append(s.TaskOrder, t.TaskID)
}

// allDepsCompleted reports whether every dependency of t has reached
// TaskCompleted — the sole condition for I7's Pending->Ready transition.
func (s *Session) allDepsCompleted(t *Task) bool {
	for dep := range t.Dependencies {
		d, ok := s.Tasks[dep]
		if !ok || d.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// refreshReadyTasks promotes every Pending task whose dependencies have all
// completed to Ready, in TaskOrder for determinism.
func (s *Session) refreshReadyTasks() {
	for _, id := range s.TaskOrder {
		t := s.Tasks[id]
		if t.Status == TaskPending && s.allDepsCompleted(t) {
			t.Status = TaskReady
		}
	}
}

// nextReadyTask returns the first Ready task in TaskOrder, or nil. I9
// guarantees at most one Task Running per pane, so the engine only ever
// launches one at a time.
func (s *Session) nextReadyTask() *Task {
	for _, id := range s.TaskOrder {
		if t := s.Tasks[id]; t.Status == TaskReady {
			return t
		}
	}
	return nil
}

// hasRunningTask reports whether any task is currently Running.
func (s *Session) hasRunningTask() bool {
	for _, id := range s.TaskOrder {
		if s.Tasks[id].Status == TaskRunning {
			return true
		}
	}
	return false
}

// allTerminal reports whether every task has reached a terminal status
// (Completed, Failed, or Cancelled) — the session-completion condition.
func (s *Session) allTerminal() bool {
	for _, id := range s.TaskOrder {
		switch s.Tasks[id].Status {
		case TaskCompleted, TaskFailed, TaskCancelled:
		default:
			return false
		}
	}
	return len(s.TaskOrder) > 0
}

func (s *Session) taskByPane(paneID string) *Task {
	for _, id := range s.TaskOrder {
		if t := s.Tasks[id]; t.PaneID == paneID {
			return t
		}
	}
	return nil
}

var taskLineRE = regexp.MustCompile(`^-\s*\[?([A-Za-z0-9_-]+)\]?\s*:\s*(.+?)(?:\s*\(deps:\s*([^)]*)\))?$`)

// parseTasksMarkdown decodes the LLM-generated tasks.md into a dependency
// graph. Expected line shape: "- T1: Add parser (deps: )" or
// "- T2: Wire handler (deps: T1)". Unparseable lines are skipped rather than
// treated as fatal, since the LLM's formatting is not contractually fixed.
func parseTasksMarkdown(doc string) []*Task {
	var tasks []*Task
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := taskLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		id := strings.TrimSpace(m[1])
		name := strings.TrimSpace(m[2])
		var deps []string
		if strings.TrimSpace(m[3]) != "" {
			for _, d := range strings.Split(m[3], ",") {
				if d = strings.TrimSpace(d); d != "" {
					deps = append(deps, d)
				}
			}
		}
		tasks = append(tasks, newTask(id, name, name, deps))
	}
	return tasks
}
