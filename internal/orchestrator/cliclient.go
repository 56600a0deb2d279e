package orchestrator

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// CLIClient is an LLMClient backed by shelling out to one of the coding
// agent CLIs (the same binaries PaneManager launches into worktrees) in
// one-shot, non-interactive print mode. It has no structured tool-calling
// support: ToolCalls is always empty, so runReAct resolves in a single turn
// and any clarification/plan/task content must come back as plain text.
type CLIClient struct {
	// AgentPath is the executable to invoke (e.g. settings.Agent.ClaudePath).
	AgentPath string
	// PrintFlag is the one-shot/non-interactive flag for AgentPath; "-p" for
	// Claude Code's print mode.
	PrintFlag string
}

// NewCLIClient constructs a CLIClient defaulting PrintFlag to "-p".
func NewCLIClient(agentPath string) *CLIClient {
	return &CLIClient{AgentPath: agentPath, PrintFlag: "-p"}
}

// Complete renders turns as a transcript and asks the agent CLI to produce
// the next assistant turn.
func (c *CLIClient) Complete(ctx context.Context, turns []ChatTurn, tools []ToolSpec) (LLMResponse, error) {
	prompt := renderTranscript(turns, tools)

	cmd := exec.CommandContext(ctx, c.AgentPath, c.PrintFlag, prompt)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return LLMResponse{}, err
	}

	content := strings.TrimSpace(out.String())
	return LLMResponse{Content: content, UsageTokens: estimateTokens(content)}, nil
}

func renderTranscript(turns []ChatTurn, tools []ToolSpec) string {
	var b strings.Builder
	if len(tools) > 0 {
		b.WriteString("Available tools:\n")
		for _, t := range tools {
			b.WriteString("- " + t.Name + ": " + t.Description + "\n")
		}
		b.WriteString("\n")
	}
	for _, t := range turns {
		b.WriteString(t.Role + ": " + t.Content + "\n")
	}
	return b.String()
}

// estimateTokens is a rough whitespace-based approximation used only to
// populate Session.EstimatedTokens; the CLI agents don't report usage.
func estimateTokens(s string) int {
	return len(strings.Fields(s))
}
