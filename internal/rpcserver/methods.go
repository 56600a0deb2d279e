package rpcserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/akiojin/gwt-sub001/internal/gitutil"
	"github.com/akiojin/gwt-sub001/internal/panemanager"
)

type tabView struct {
	TabID        string `json:"tab_id"`
	AgentType    string `json:"agent_type"`
	Branch       string `json:"branch"`
	Status       string `json:"status"`
	WorktreePath string `json:"worktree_path,omitempty"`
}

func toTabView(p *panemanager.Pane, includeWorktree bool) tabView {
	v := tabView{
		TabID:     p.ID,
		AgentType: p.AgentName,
		Branch:    p.Branch,
		Status:    p.Status().String(),
	}
	if includeWorktree {
		v.WorktreePath = p.WorktreePath
	}
	return v
}

func (s *Server) handleListTabs(req Request) Response {
	panes := s.panes.Panes()
	tabs := make([]tabView, 0, len(panes))
	for _, p := range panes {
		s.panes.CheckStatus(p)
		tabs = append(tabs, toTabView(p, false))
	}
	return success(req.ID, tabs)
}

func (s *Server) handleGetTabInfo(req Request) Response {
	tabID, ok := paramString(req.Params, "tab_id")
	if !ok {
		return errResponse(req.ID, codeInvalidParams, "Missing or empty required parameter: tab_id")
	}
	pane := s.panes.ByID(tabID)
	if pane == nil {
		return errResponse(req.ID, codeTabNotFound, "Tab not found: "+tabID)
	}
	s.panes.CheckStatus(pane)
	return success(req.ID, toTabView(pane, true))
}

func (s *Server) handleSendMessage(req Request) Response {
	tabID, ok := paramString(req.Params, "target_tab_id")
	if !ok {
		return errResponse(req.ID, codeInvalidParams, "Missing or empty required parameter: target_tab_id")
	}
	message, ok := paramString(req.Params, "message")
	if !ok {
		return errResponse(req.ID, codeInvalidParams, "Missing or empty required parameter: message")
	}
	sender, _ := paramString(req.Params, "sender")
	if sender == "" {
		sender = "unknown"
	}

	pane := s.panes.ByID(tabID)
	if pane == nil {
		return errResponse(req.ID, codeTabNotFound, "Tab not found: "+tabID)
	}
	s.panes.CheckStatus(pane)
	if pane.Status() != panemanager.StatusRunning {
		return errResponse(req.ID, codeTabNotRunning, "Tab not running: "+tabID)
	}
	if err := s.panes.SendMessage(sender, tabID, message); err != nil {
		return errResponse(req.ID, codeInternal, "Failed to send message: "+err.Error())
	}

	s.log.Info("message sent", slog.String("target", tabID))
	return success(req.ID, map[string]bool{"success": true})
}

func (s *Server) handleBroadcastMessage(req Request) Response {
	message, ok := paramString(req.Params, "message")
	if !ok {
		return errResponse(req.ID, codeInvalidParams, "Missing or empty required parameter: message")
	}
	sender, _ := paramString(req.Params, "sender")
	if sender == "" {
		sender = "unknown"
	}
	senderTabID, _ := paramString(req.Params, "sender_tab_id")

	failures := s.panes.BroadcastMessage(sender, message)
	sent := 0
	for _, p := range s.panes.Panes() {
		if p.ID == senderTabID {
			continue
		}
		s.panes.CheckStatus(p)
		if p.Status() != panemanager.StatusRunning {
			continue
		}
		if _, failed := failures[p.ID]; !failed {
			sent++
		}
	}

	s.log.Info("broadcast sent", slog.Int("count", sent))
	return success(req.ID, map[string]int{"sent_count": sent})
}

func (s *Server) handleLaunchAgent(req Request) Response {
	agentID, ok := paramString(req.Params, "agent_id")
	if !ok {
		return errResponse(req.ID, codeInvalidParams, "Missing or empty required parameter: agent_id")
	}
	branch, ok := paramString(req.Params, "branch")
	if !ok {
		return errResponse(req.ID, codeInvalidParams, "Missing or empty required parameter: branch")
	}

	if s.panes.RunningCount() >= maxTabs {
		return errResponse(req.ID, codeTabLimit, "Tab limit reached: max 8 running tabs")
	}
	if !s.rate.allow(time.Now()) {
		return errResponse(req.ID, codeRateLimited, "Rate limit exceeded: max 5 launches per 60 seconds")
	}

	s.log.Info("launch agent requested", slog.String("agent_id", agentID), slog.String("branch", branch))
	return success(req.ID, map[string]string{
		"status":   "requested",
		"agent_id": agentID,
		"branch":   branch,
	})
}

func (s *Server) handleStopTab(req Request) Response {
	tabID, ok := paramString(req.Params, "tab_id")
	if !ok {
		return errResponse(req.ID, codeInvalidParams, "Missing or empty required parameter: tab_id")
	}
	pane := s.panes.ByID(tabID)
	if pane == nil {
		return errResponse(req.ID, codeTabNotFound, "Tab not found: "+tabID)
	}
	s.panes.CheckStatus(pane)
	if pane.Status() != panemanager.StatusRunning {
		return errResponse(req.ID, codeTabNotRunning, "Tab not running: "+tabID)
	}

	panes := s.panes.Panes()
	for i, p := range panes {
		if p.ID == tabID {
			if err := s.panes.Close(i); err != nil {
				s.log.Warn("stop tab failed", slog.String("tab_id", tabID), slog.Any("error", err))
				return errResponse(req.ID, codeInternal, "Failed to stop tab: "+err.Error())
			}
			break
		}
	}

	s.log.Info("tab stopped", slog.String("tab_id", tabID))
	return success(req.ID, map[string]bool{"success": true})
}

func (s *Server) handleGetWorktreeDiff(req Request) Response {
	tabID, ok := paramString(req.Params, "tab_id")
	if !ok {
		return errResponse(req.ID, codeInvalidParams, "Missing or empty required parameter: tab_id")
	}
	pane := s.panes.ByID(tabID)
	if pane == nil {
		return errResponse(req.ID, codeTabNotFound, "Tab not found: "+tabID)
	}

	diff, err := gitutil.Diff(context.Background(), pane.WorktreePath)
	if err != nil {
		return errResponse(req.ID, codeInternal, "Failed to run git diff: "+err.Error())
	}
	return success(req.ID, map[string]string{"diff": diff})
}

func (s *Server) handleGetChangedFiles(req Request) Response {
	tabID, ok := paramString(req.Params, "tab_id")
	if !ok {
		return errResponse(req.ID, codeInvalidParams, "Missing or empty required parameter: tab_id")
	}
	pane := s.panes.ByID(tabID)
	if pane == nil {
		return errResponse(req.ID, codeTabNotFound, "Tab not found: "+tabID)
	}

	entries, err := gitutil.WorkingTreeStatus(context.Background(), pane.WorktreePath)
	if err != nil {
		return errResponse(req.ID, codeInternal, "Failed to get changed files: "+err.Error())
	}
	return success(req.ID, entries)
}
