package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/akiojin/gwt-sub001/internal/panemanager"
	"github.com/akiojin/gwt-sub001/internal/worktree"
)

// scriptedLLM returns one canned LLMResponse per call, in order, and
// repeats the last response once the script is exhausted.
type scriptedLLM struct {
	responses []LLMResponse
	calls     int
}

func (s *scriptedLLM) Complete(_ context.Context, _ []ChatTurn, _ []ToolSpec) (LLMResponse, error) {
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	return s.responses[i], nil
}

// fakeLauncher hands back a pane-shaped stub without spawning a process.
type fakeLauncher struct {
	n int
}

func (f *fakeLauncher) Launch(cfg panemanager.LaunchConfig) (*panemanager.Pane, error) {
	f.n++
	return &panemanager.Pane{ID: fmt.Sprintf("pane-%d", f.n), AgentName: cfg.AgentName, Branch: cfg.Branch, WorktreePath: cfg.Worktree}, nil
}

// fakeWorktrees hands back a distinct temp-dir-shaped path per branch
// without touching git.
type fakeWorktrees struct{}

func (fakeWorktrees) CreateNewBranch(_ context.Context, branch, _ string) (*worktree.Worktree, error) {
	return &worktree.Worktree{Path: "/tmp/wt-" + branch, Branch: branch}, nil
}

func newTestEngine(llm *scriptedLLM) *Engine {
	return New(Config{
		LLM:       llm,
		Panes:     &fakeLauncher{},
		Worktrees: fakeWorktrees{},
	})
}

func drain(t *testing.T, e *Engine, n int) []Message {
	t.Helper()
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		select {
		case m := <-e.Out:
			out = append(out, m)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d/%d, got %d: %+v", i+1, n, len(out), out)
		}
	}
	return out
}

// E2E scenario 4: SessionStart with no clarifying question, LLM returns a
// parseable spec/plan/tasks triad with T1->T2->T3, UserInput{""} approves,
// and the engine launches T1 while T2/T3 remain Pending.
func TestPlanApprovalHappyPath(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{
		{Content: "proceeding directly, no questions"},
		{Content: "## Spec\nbuild the thing\n## Plan\ndo it in three steps\n## Tasks\n- T1: first step (deps: )\n- T2: second step (deps: T1)\n- T3: third step (deps: T2)\n"},
	}}
	e := newTestEngine(llm)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Events <- SessionStart{SessionID: "s1", UserRequest: "build the thing"}
	msgs := drain(t, e, 1)
	plan, ok := msgs[0].(PlanForApproval)
	if !ok {
		t.Fatalf("expected PlanForApproval, got %T: %+v", msgs[0], msgs[0])
	}
	if plan.Tasks == "" {
		t.Fatalf("expected non-empty tasks section")
	}

	e.Events <- UserInput{Content: ""}
	msgs = drain(t, e, 2)

	approved, ok := msgs[0].(ChatMessage)
	if !ok || approved.Content != "Plan approved. Beginning execution." {
		t.Fatalf("expected approval chat message, got %+v", msgs[0])
	}
	launch, ok := msgs[1].(ChatMessage)
	if !ok || launch.Content != "Launching task: T1" {
		t.Fatalf("expected launch message for T1, got %+v", msgs[1])
	}

	s := e.active
	if s.Tasks["T1"].Status != TaskRunning {
		t.Errorf("T1 status = %s, want running", s.Tasks["T1"].Status)
	}
	if s.Tasks["T2"].Status != TaskPending {
		t.Errorf("T2 status = %s, want pending", s.Tasks["T2"].Status)
	}
	if s.Tasks["T3"].Status != TaskPending {
		t.Errorf("T3 status = %s, want pending", s.Tasks["T3"].Status)
	}
}

func approvedEngineWithOneTask(t *testing.T) *Engine {
	t.Helper()
	llm := &scriptedLLM{responses: []LLMResponse{
		{Content: "proceeding directly, no questions"},
		{Content: "## Tasks\n- T1: only step (deps: )\n"},
	}}
	e := newTestEngine(llm)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)

	e.Events <- SessionStart{SessionID: "s1", UserRequest: "build the thing"}
	drain(t, e, 1) // PlanForApproval
	e.Events <- UserInput{Content: "yes"}
	drain(t, e, 2) // approval + launch messages
	return e
}

// E2E scenario 5 / P8: a task retries on SubAgentFailed up to 3 times,
// incrementing retry_count each time, then is marked Failed permanently on
// the 4th failure without a further launch message.
func TestSubAgentRetryThenFail(t *testing.T) {
	e := approvedEngineWithOneTask(t)

	for i := 1; i <= maxRetries; i++ {
		e.Events <- SubAgentFailed{TaskID: "T1", Reason: "r"}
		msgs := drain(t, e, 2) // retry notice + relaunch
		if e.active.Tasks["T1"].RetryCount != i {
			t.Fatalf("after failure %d: retry_count = %d, want %d", i, e.active.Tasks["T1"].RetryCount, i)
		}
		if e.active.Tasks["T1"].Status != TaskRunning {
			t.Fatalf("after failure %d: status = %s, want running", i, e.active.Tasks["T1"].Status)
		}
		relaunch, ok := msgs[1].(ChatMessage)
		if !ok || relaunch.Content != "Launching task: T1" {
			t.Fatalf("expected relaunch message after failure %d, got %+v", i, msgs[1])
		}
	}

	e.Events <- SubAgentFailed{TaskID: "T1", Reason: "r"}
	msgs := drain(t, e, 1)
	failMsg, ok := msgs[0].(ChatMessage)
	if !ok {
		t.Fatalf("expected final failure chat message, got %T: %+v", msgs[0], msgs[0])
	}
	if e.active.Tasks["T1"].Status != TaskFailed {
		t.Errorf("T1 status = %s, want failed", e.active.Tasks["T1"].Status)
	}
	if e.active.Tasks["T1"].RetryCount != maxRetries {
		t.Errorf("retry_count = %d, want capped at %d", e.active.Tasks["T1"].RetryCount, maxRetries)
	}
	_ = failMsg

	// No 5th launch: the only message following the terminal failure is the
	// session-completed notice (every task is now terminal), never another
	// "Launching task" line.
	select {
	case m := <-e.Out:
		if _, ok := m.(SessionCompleted); !ok {
			t.Fatalf("unexpected extra message after terminal failure: %+v", m)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

// P10: events posted on a single channel are processed in posting order.
func TestEventsProcessInFIFOOrder(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{{Content: "no questions here"}}}
	e := newTestEngine(llm)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Events <- SessionStart{SessionID: "s1", UserRequest: "req"}
	drain(t, e, 1) // no question mark in the scripted response, so planning runs immediately and emits PlanForApproval

	// Post several ProgressTicks; since there's no active executing phase
	// they're processed strictly in order and each yields one StatusUpdate
	// with monotonically non-decreasing done-count semantics (trivial here
	// since no tasks exist, but the ordering itself is what's under test:
	// responses must arrive in the same order as the ticks were sent).
	for i := 0; i < 3; i++ {
		e.Events <- ProgressTick{}
	}
	msgs := drain(t, e, 3)
	for _, m := range msgs {
		if _, ok := m.(StatusUpdate); !ok {
			t.Fatalf("expected StatusUpdate in order, got %+v", m)
		}
	}
}
