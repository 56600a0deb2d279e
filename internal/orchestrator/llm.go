package orchestrator

import (
	"context"
	"fmt"
	"strings"
)

// maxToolCallLoops bounds how many tool-call round-trips the ReAct driver
// will take within a single user turn before it forces a final answer.
const maxToolCallLoops = 3

// ChatTurn is one message in the conversation sent to the LLM.
type ChatTurn struct {
	Role    string // "system", "user", "assistant", "tool"
	Content string
}

// ToolSpec describes one callable tool offered to the LLM.
type ToolSpec struct {
	Name        string
	Description string
}

// ToolCall is one tool invocation the LLM's response asked for.
type ToolCall struct {
	Name string
	Args map[string]string
}

// LLMResponse is what one LLMClient.Complete call returns. ToolCalls is
// empty when the model produced a final answer instead of requesting tools.
type LLMResponse struct {
	Content     string
	ToolCalls   []ToolCall
	UsageTokens int
}

// LLMClient abstracts the HTTP call to whatever model backs the
// orchestrator's clarifying-question, spec-kit-generation, and tool-use
// steps.
type LLMClient interface {
	Complete(ctx context.Context, turns []ChatTurn, tools []ToolSpec) (LLMResponse, error)
}

// ToolExecutor runs one ToolCall and returns its textual observation. The
// observation is fed back as a "tool" turn on the next loop iteration and
// never surfaced directly to the user (the model is instructed to suppress
// raw Observation: text from its final answer).
type ToolExecutor func(ctx context.Context, call ToolCall) (string, error)

// runReAct drives the Thought/Action/Observation loop: it calls the LLM,
// and for as long as the LLM keeps requesting tool calls (up to
// maxToolCallLoops), executes them and feeds the observations back as
// additional turns. It returns the final LLMResponse once the model stops
// requesting tools or the loop cap is reached, plus the total tokens spent
// across every call in the loop.
func runReAct(ctx context.Context, llm LLMClient, turns []ChatTurn, tools []ToolSpec, exec ToolExecutor) (LLMResponse, int, error) {
	total := 0
	for i := 0; i < maxToolCallLoops; i++ {
		resp, err := llm.Complete(ctx, turns, tools)
		if err != nil {
			return LLMResponse{}, total, err
		}
		total += resp.UsageTokens
		if len(resp.ToolCalls) == 0 {
			return resp, total, nil
		}

		turns = append(turns, ChatTurn{Role: "assistant", Content: resp.Content})
		for _, call := range resp.ToolCalls {
			obs, err := exec(ctx, call)
			if err != nil {
				obs = fmt.Sprintf("error: %v", err)
			}
			turns = append(turns, ChatTurn{Role: "tool", Content: fmt.Sprintf("Observation(%s): %s", call.Name, obs)})
		}
	}

	// Loop cap reached: force one last call with no tools offered so the
	// model must produce a final answer instead of another Action.
	resp, err := llm.Complete(ctx, turns, nil)
	if err != nil {
		return LLMResponse{}, total, err
	}
	total += resp.UsageTokens
	return resp, total, nil
}

// needsClarification is a thin heuristic over the model's first response:
// if it poses a question back to the user rather than proceeding straight
// to planning, the session pauses on PhaseClarifying awaiting UserInput.
func needsClarification(resp LLMResponse) bool {
	return strings.Contains(resp.Content, "?") && len(resp.ToolCalls) == 0
}
