// Package orchestrator implements Orchestrator (§4.6): a single-threaded
// cooperative event loop that owns one Session at a time, drives an LLM
// through clarifying questions and spec-kit generation, and schedules task
// sub-agents onto panes backed by git worktrees. Restructured from the
// reference corpus's worker-pool orchestrator into the spec's "exactly one
// event processed at a time, against an owned session state" model.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/akiojin/gwt-sub001/internal/gitutil"
	"github.com/akiojin/gwt-sub001/internal/logging"
	"github.com/akiojin/gwt-sub001/internal/panemanager"
	"github.com/akiojin/gwt-sub001/internal/worktree"
	"github.com/google/uuid"
)

// PaneLauncher is the subset of PaneManager the Engine needs to start a
// task's sub-agent; satisfied by *panemanager.Manager, and narrowed to an
// interface so tests can substitute a fake without spawning real processes.
type PaneLauncher interface {
	Launch(cfg panemanager.LaunchConfig) (*panemanager.Pane, error)
}

// WorktreeProvisioner is the subset of WorktreeRegistry the Engine needs to
// give a new task its own worktree; satisfied by *worktree.Registry.
type WorktreeProvisioner interface {
	CreateNewBranch(ctx context.Context, branch, base string) (*worktree.Worktree, error)
}

// Config configures one Engine.
type Config struct {
	LLM       LLMClient
	Panes     PaneLauncher
	Worktrees WorktreeProvisioner
	Tools     []ToolSpec
	ToolExec  ToolExecutor
}

// Engine is Orchestrator. It owns at most one active Session at a time and
// drains events from its Events channel strictly in FIFO order (P10),
// emitting Messages as it goes.
type Engine struct {
	cfg Config
	log *slog.Logger

	Events chan Event
	Out    chan Message

	active *Session
}

// New constructs an Engine. Events/Out are buffered modestly so callers
// (RpcServer handlers, CLI input readers) don't block posting while the
// loop is mid-step; the loop itself still processes one event at a time.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:    cfg,
		log:    logging.WithComponent("orchestrator"),
		Events: make(chan Event, 64),
		Out:    make(chan Message, 64),
	}
}

// Run drains Events until ctx is cancelled, the channel is closed, or an
// InterruptRequested event has been handled, processing exactly one event at
// a time against e.active.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.Events:
			if !ok {
				return
			}
			e.handleEvent(ctx, ev)
			if _, interrupted := ev.(InterruptRequested); interrupted {
				return
			}
		}
	}
}

func (e *Engine) emit(m Message) {
	select {
	case e.Out <- m:
	default:
		e.log.Warn("output channel full, dropping message")
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev Event) {
	switch v := ev.(type) {
	case SessionStart:
		e.onSessionStart(ctx, v)
	case UserInput:
		e.onUserInput(ctx, v)
	case SubAgentCompleted:
		e.onSubAgentCompleted(ctx, v)
	case SubAgentFailed:
		e.onSubAgentFailed(ctx, v)
	case TestPassed:
		e.onTestOutcome(ctx, v.TaskID, true, "")
	case TestFailed:
		e.onTestOutcome(ctx, v.TaskID, false, v.Output)
	case ProgressTick:
		e.onProgressTick()
	case InterruptRequested:
		e.onInterrupt()
	default:
		e.log.Warn("unknown event type", slog.Any("event", ev))
	}
}

// Step 1: SessionStart opens clarifying-questions phase via the LLM. If the
// model's first response poses a question, the session pauses there
// awaiting a UserInput answer; otherwise it proceeds straight to planning.
func (e *Engine) onSessionStart(ctx context.Context, v SessionStart) {
	id := v.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	s := newSession(id, "", v.UserRequest)
	e.active = s

	turns := []ChatTurn{
		{Role: "system", Content: "Ask clarifying questions if the request is ambiguous, otherwise proceed."},
		{Role: "user", Content: v.UserRequest},
	}
	resp, tokens, err := runReAct(ctx, e.cfg.LLM, turns, e.cfg.Tools, e.cfg.ToolExec)
	e.accountLLM(tokens)
	if err != nil {
		e.emit(Error{Text: fmt.Sprintf("clarifying-question call failed: %v", err)})
		return
	}

	if needsClarification(resp) {
		s.Phase = PhaseClarifying
		e.emit(ChatMessage{Role: "assistant", Content: resp.Content})
		return
	}

	e.runPlanning(ctx, v.UserRequest)
}

// Step 2/6: a UserInput event means different things depending on phase:
// an answer to a clarifying question, an approval/rejection of the
// generated plan, or (during execution) free-text routed nowhere in
// particular.
func (e *Engine) onUserInput(ctx context.Context, v UserInput) {
	s := e.active
	if s == nil {
		e.emit(Error{Text: "no active session"})
		return
	}

	switch s.Phase {
	case PhaseClarifying:
		e.runPlanning(ctx, s.UserRequest+"\n\n"+v.Content)
	case PhaseAwaitApproval:
		e.handleApprovalResponse(ctx, v.Content)
	default:
		e.emit(StatusUpdate{Text: "input noted"})
	}
}

// Step 2: generate the spec/plan/tasks triad via the LLM and present it for
// approval.
func (e *Engine) runPlanning(ctx context.Context, request string) {
	s := e.active
	s.Phase = PhasePlanning

	turns := []ChatTurn{
		{Role: "system", Content: "Produce three markdown documents: a spec, a plan, and a task list with dependencies in the form '- T1: name (deps: )'."},
		{Role: "user", Content: request},
	}
	resp, tokens, err := runReAct(ctx, e.cfg.LLM, turns, e.cfg.Tools, e.cfg.ToolExec)
	e.accountLLM(tokens)
	if err != nil {
		e.emit(Error{Text: fmt.Sprintf("planning call failed: %v", err)})
		return
	}

	specText, planText, tasksText := splitSpecKit(resp.Content)
	s.LastSpec, s.LastPlan, s.LastTasks = specText, planText, tasksText
	s.Phase = PhaseAwaitApproval
	e.emit(PlanForApproval{Spec: specText, Plan: planText, Tasks: tasksText})
}

// splitSpecKit looks for "## Spec" / "## Plan" / "## Tasks" headings in the
// LLM's combined response and splits them apart; if the model didn't follow
// the heading convention, the whole response is treated as the task list
// since that's the only piece the engine must parse mechanically.
func splitSpecKit(doc string) (spec, plan, tasks string) {
	sections := map[string]string{}
	current := ""
	var buf []byte
	flush := func() {
		if current != "" {
			sections[current] = string(buf)
		}
		buf = nil
	}
	for _, line := range splitLines(doc) {
		lower := normalizeHeading(line)
		switch lower {
		case "spec", "plan", "tasks":
			flush()
			current = lower
			continue
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	flush()
	if len(sections) == 0 {
		return "", "", doc
	}
	return sections["spec"], sections["plan"], sections["tasks"]
}

func splitLines(doc string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(doc); i++ {
		if doc[i] == '\n' {
			lines = append(lines, doc[start:i])
			start = i + 1
		}
	}
	lines = append(lines, doc[start:])
	return lines
}

func normalizeHeading(line string) string {
	trimmed := line
	for len(trimmed) > 0 && (trimmed[0] == '#' || trimmed[0] == ' ') {
		trimmed = trimmed[1:]
	}
	switch trimmed {
	case "Spec", "spec", "Specification":
		return "spec"
	case "Plan", "plan":
		return "plan"
	case "Tasks", "tasks", "Task List":
		return "tasks"
	default:
		return ""
	}
}

// Step 3/6: the approval gate is a literal synchronous text check — empty,
// "y", or "yes" approves; anything else is rejection feedback that recycles
// back through planning (step 6).
func (e *Engine) handleApprovalResponse(ctx context.Context, text string) {
	s := e.active
	if isApproval(text) {
		for _, t := range parseTasksMarkdown(s.LastTasks) {
			s.addTask(t)
		}
		s.Phase = PhaseExecuting
		e.emit(ChatMessage{Role: "system", Content: "Plan approved. Beginning execution."})
		s.refreshReadyTasks()
		e.launchNextReady(ctx)
		return
	}

	e.emit(ChatMessage{Role: "system", Content: "Plan rejected; incorporating feedback."})
	e.runPlanning(ctx, s.UserRequest+"\n\nFeedback on previous plan: "+text)
}

func isApproval(text string) bool {
	switch trimLower(text) {
	case "", "y", "yes":
		return true
	default:
		return false
	}
}

func trimLower(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n') {
		end--
	}
	out := make([]byte, end-start)
	for i := start; i < end; i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i-start] = c
	}
	return string(out)
}

// launchNextReady launches at most one Ready task, since I9 permits only
// one Running task per pane and the spec scopes parallelism as a later
// extension.
func (e *Engine) launchNextReady(ctx context.Context) {
	s := e.active
	if s == nil || s.hasRunningTask() {
		return
	}
	t := s.nextReadyTask()
	if t == nil {
		if s.allTerminal() {
			s.Status = SessionCompleted
			e.emit(SessionCompleted{SessionID: s.SessionID})
		}
		return
	}

	branch := "task/" + t.TaskID
	wt, err := e.cfg.Worktrees.CreateNewBranch(ctx, branch, "")
	if err != nil {
		e.emit(Error{Text: fmt.Sprintf("worktree creation failed for %s: %v", t.TaskID, err)})
		return
	}

	if err := e.mergeCompletedDependencies(ctx, s, t, wt.Path); err != nil {
		e.emit(Error{Text: fmt.Sprintf("dependency merge failed for %s: %v", t.TaskID, err)})
	}

	pane, err := e.cfg.Panes.Launch(panemanager.LaunchConfig{
		AgentName: t.Name,
		Command:   "agent",
		Args:      []string{"--task", t.Description},
		Branch:    branch,
		Worktree:  wt.Path,
		Rows:      24,
		Cols:      80,
	})
	if err != nil {
		e.emit(Error{Text: fmt.Sprintf("launch failed for %s: %v", t.TaskID, err)})
		return
	}

	t.Status = TaskRunning
	t.PaneID = pane.ID
	t.Branch = branch
	t.WorktreePath = wt.Path
	e.emit(ChatMessage{Role: "system", Content: "Launching task: " + t.TaskID})
}

// mergeCompletedDependencies merges every completed dependency's branch
// into the dependent task's fresh worktree, per §4.6 step 4, when that
// worktree differs from the dependency's.
func (e *Engine) mergeCompletedDependencies(ctx context.Context, s *Session, t *Task, worktreePath string) error {
	for dep := range t.Dependencies {
		d, ok := s.Tasks[dep]
		if !ok || d.Status != TaskCompleted || d.Branch == "" {
			continue
		}
		if d.WorktreePath == worktreePath {
			continue
		}
		if _, err := gitutil.Command(ctx, worktreePath, nil, "merge", "--no-edit", d.Branch); err != nil {
			return err
		}
	}
	return nil
}

// Step 4: a sub-agent finished. Mark its task Completed, refresh readiness,
// and either finish the session or launch the next Ready task.
func (e *Engine) onSubAgentCompleted(ctx context.Context, v SubAgentCompleted) {
	s := e.active
	if s == nil {
		return
	}
	t, ok := s.Tasks[v.TaskID]
	if !ok {
		t = s.taskByPane(v.PaneID)
	}
	if t == nil {
		e.log.Warn("completed event for unknown task", slog.String("task_id", v.TaskID))
		return
	}
	t.Status = TaskCompleted
	e.emit(ChatMessage{Role: "system", Content: "Task completed: " + t.TaskID})
	s.refreshReadyTasks()
	e.launchNextReady(ctx)
}

// Step 5: a sub-agent failed. Retry up to maxRetries (I8) by resetting to
// Ready; the 4th failure is terminal.
func (e *Engine) onSubAgentFailed(ctx context.Context, v SubAgentFailed) {
	s := e.active
	if s == nil {
		return
	}
	t, ok := s.Tasks[v.TaskID]
	if !ok {
		t = s.taskByPane(v.PaneID)
	}
	if t == nil {
		e.log.Warn("failure event for unknown task", slog.String("task_id", v.TaskID))
		return
	}

	if t.RetryCount < maxRetries {
		t.RetryCount++
		t.Status = TaskReady
		e.emit(ChatMessage{Role: "system", Content: fmt.Sprintf("Task %s failed (%s); retrying (%d/%d).", t.TaskID, v.Reason, t.RetryCount, maxRetries)})
		e.launchNextReady(ctx)
		return
	}

	t.Status = TaskFailed
	e.emit(ChatMessage{Role: "system", Content: fmt.Sprintf("Task %s failed permanently after %d retries: %s", t.TaskID, maxRetries, v.Reason)})
	if s.allTerminal() {
		s.Status = SessionCompleted
		e.emit(SessionCompleted{SessionID: s.SessionID})
	}
}

// TestPassed/TestFailed feed into the same completion/failure handling a
// sub-agent's own exit status would, since a failing test suite is treated
// as task failure.
func (e *Engine) onTestOutcome(ctx context.Context, taskID string, passed bool, output string) {
	if passed {
		e.onSubAgentCompleted(ctx, SubAgentCompleted{TaskID: taskID})
		return
	}
	e.onSubAgentFailed(ctx, SubAgentFailed{TaskID: taskID, Reason: "tests failed: " + output})
}

func (e *Engine) onProgressTick() {
	s := e.active
	if s == nil {
		return
	}
	running := 0
	done := 0
	for _, id := range s.TaskOrder {
		switch s.Tasks[id].Status {
		case TaskRunning:
			running++
		case TaskCompleted, TaskFailed, TaskCancelled:
			done++
		}
	}
	e.emit(StatusUpdate{Text: fmt.Sprintf("%d/%d tasks done, %d running", done, len(s.TaskOrder), running)})
}

// Step 7: interrupt pauses the session; Run returns right after this event is
// handled. Events still queued are left for the caller to drain.
func (e *Engine) onInterrupt() {
	if e.active == nil {
		return
	}
	e.active.Status = SessionPaused
	e.emit(StatusUpdate{Text: "session paused"})
}

// accountLLM adds usage tokens and increments the call counter on the
// active session, per §4.6's token-accounting requirement.
func (e *Engine) accountLLM(tokens int) {
	if e.active == nil {
		return
	}
	e.active.LLMCallCount++
	e.active.EstimatedTokens += tokens
}
