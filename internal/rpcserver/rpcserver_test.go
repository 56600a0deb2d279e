package rpcserver

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/akiojin/gwt-sub001/internal/panemanager"
	"github.com/akiojin/gwt-sub001/internal/procrunner"
)

func rawParams(t *testing.T, v map[string]interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func newTestServer(t *testing.T, maxPanes int) *Server {
	t.Helper()
	panes := panemanager.New(procrunner.New(), maxPanes)
	return New(Config{Host: "127.0.0.1", Port: 0}, panes)
}

func TestUnknownMethodReturnsInvalidParams(t *testing.T) {
	s := newTestServer(t, 4)
	resp := s.dispatch(Request{ID: []byte(`1`), Method: "gwt_does_not_exist"})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected codeInvalidParams, got %+v", resp.Error)
	}
}

func TestGetTabInfoMissingParam(t *testing.T) {
	s := newTestServer(t, 4)
	resp := s.dispatch(Request{ID: []byte(`1`), Method: "gwt_get_tab_info", Params: rawParams(t, map[string]interface{}{})})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected codeInvalidParams, got %+v", resp.Error)
	}
}

func TestGetTabInfoNotFound(t *testing.T) {
	s := newTestServer(t, 4)
	resp := s.dispatch(Request{ID: []byte(`1`), Method: "gwt_get_tab_info", Params: rawParams(t, map[string]interface{}{"tab_id": "nope"})})
	if resp.Error == nil || resp.Error.Code != codeTabNotFound {
		t.Fatalf("expected codeTabNotFound, got %+v", resp.Error)
	}
}

func TestListTabsReflectsLaunchedPanes(t *testing.T) {
	s := newTestServer(t, 4)
	pane, err := s.panes.Launch(panemanager.LaunchConfig{
		AgentName: "agent-a",
		Command:   "sh",
		Args:      []string{"-c", "cat"},
		Branch:    "feature/x",
		Worktree:  ".",
		Rows:      24,
		Cols:      80,
	})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	defer s.panes.Close(0)

	resp := s.dispatch(Request{ID: []byte(`1`), Method: "gwt_list_tabs"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	tabs, ok := resp.Result.([]tabView)
	if !ok {
		t.Fatalf("expected []tabView, got %T", resp.Result)
	}
	if len(tabs) != 1 || tabs[0].TabID != pane.ID {
		t.Errorf("expected one tab with id %s, got %+v", pane.ID, tabs)
	}
}

// gwt_launch_agent is rejected once the running-tab ceiling is hit.
func TestLaunchAgentTabLimit(t *testing.T) {
	s := newTestServer(t, maxTabs+2)
	for i := 0; i < maxTabs; i++ {
		if _, err := s.panes.Launch(panemanager.LaunchConfig{
			AgentName: "agent", Command: "sh", Args: []string{"-c", "cat"}, Worktree: ".", Rows: 24, Cols: 80,
		}); err != nil {
			t.Fatalf("Launch %d failed: %v", i, err)
		}
	}

	resp := s.dispatch(Request{ID: []byte(`1`), Method: "gwt_launch_agent", Params: rawParams(t, map[string]interface{}{
		"agent_id": "claude", "branch": "feature/y",
	})})
	if resp.Error == nil || resp.Error.Code != codeTabLimit {
		t.Fatalf("expected codeTabLimit, got %+v", resp.Error)
	}
}

// P6: rate limiting caps gwt_launch_agent at 5 calls per window, process-wide.
func TestLaunchAgentRateLimit(t *testing.T) {
	s := newTestServer(t, maxTabs+10)
	params := rawParams(t, map[string]interface{}{"agent_id": "claude", "branch": "feature/z"})

	for i := 0; i < rateLimit; i++ {
		resp := s.dispatch(Request{ID: []byte(`1`), Method: "gwt_launch_agent", Params: params})
		if resp.Error != nil {
			t.Fatalf("call %d unexpectedly failed: %+v", i, resp.Error)
		}
	}

	resp := s.dispatch(Request{ID: []byte(`1`), Method: "gwt_launch_agent", Params: params})
	if resp.Error == nil || resp.Error.Code != codeRateLimited {
		t.Fatalf("expected codeRateLimited on call %d, got %+v", rateLimit+1, resp.Error)
	}
}

func TestRateLimiterResetsAfterWindow(t *testing.T) {
	var l launchRateLimiter
	start := time.Now()
	for i := 0; i < rateLimit; i++ {
		if !l.allow(start) {
			t.Fatalf("call %d should be allowed within the window", i)
		}
	}
	if l.allow(start) {
		t.Fatalf("call beyond rateLimit should be rejected within the same window")
	}
	if !l.allow(start.Add(rateWindow + time.Second)) {
		t.Fatalf("call after window elapses should be allowed")
	}
}

func TestStopTabRequiresRunningTab(t *testing.T) {
	s := newTestServer(t, 4)
	resp := s.dispatch(Request{ID: []byte(`1`), Method: "gwt_stop_tab", Params: rawParams(t, map[string]interface{}{"tab_id": "missing"})})
	if resp.Error == nil || resp.Error.Code != codeTabNotFound {
		t.Fatalf("expected codeTabNotFound, got %+v", resp.Error)
	}
}
