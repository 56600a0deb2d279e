package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/akiojin/gwt-sub001/internal/gwterrors"
)

// hookEvents are the Claude Code lifecycle events gwt registers itself
// against, each wired to `gwt hook event <name>` so the host IDE can report
// agent progress without any gwt-specific plugin.
var hookEvents = []string{"SessionStart", "SessionEnd", "Stop", "SubagentStop"}

func newHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Manage and receive host-IDE hook integration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "setup",
			Short: "Register gwt hooks in the Claude Code settings file",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runHookSetup()
			},
		},
		&cobra.Command{
			Use:   "uninstall",
			Short: "Remove gwt hooks from the Claude Code settings file",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runHookUninstall()
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Report whether gwt hooks are registered",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runHookStatus()
			},
		},
		&cobra.Command{
			Use:   "event <name>",
			Short: "Process one hook event payload from stdin",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runHookEvent(args[0])
			},
		},
	)
	// Bare `gwt hook <name>` is an alias for `gwt hook event <name>`, matching
	// how Claude Code's own hook invocations are configured (a single
	// command per event, no verb).
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return cmd.Help()
		}
		return runHookEvent(args[0])
	}
	cmd.Args = cobra.ArbitraryArgs
	return cmd
}

func claudeSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", &gwterrors.Internal{Msg: "cannot resolve home directory: " + err.Error()}
	}
	return filepath.Join(home, ".claude", "settings.json"), nil
}

type claudeHookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

type claudeHookMatcher struct {
	Matcher string             `json:"matcher,omitempty"`
	Hooks   []claudeHookEntry `json:"hooks"`
}

func loadClaudeSettings(path string) (map[string]json.RawMessage, error) {
	settings := map[string]json.RawMessage{}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return settings, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, &gwterrors.ConfigParseError{Reason: "claude settings.json", Err: err}
	}
	return settings, nil
}

func saveClaudeSettings(path string, settings map[string]json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return &gwterrors.ConfigWriteError{Reason: "mkdir claude settings dir", Err: err}
	}
	raw, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return &gwterrors.ConfigWriteError{Reason: "marshal claude settings", Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return &gwterrors.ConfigWriteError{Reason: "write claude settings tmp", Err: err}
	}
	return os.Rename(tmp, path)
}

func isHooksRegistered(settings map[string]json.RawMessage) bool {
	raw, ok := settings["hooks"]
	if !ok {
		return false
	}
	var hooks map[string][]claudeHookMatcher
	if err := json.Unmarshal(raw, &hooks); err != nil {
		return false
	}
	for _, event := range hookEvents {
		matchers, ok := hooks[event]
		if !ok {
			return false
		}
		found := false
		for _, m := range matchers {
			for _, h := range m.Hooks {
				if h.Command == "gwt hook event "+event {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func runHookSetup() error {
	path, err := claudeSettingsPath()
	if err != nil {
		return err
	}
	settings, err := loadClaudeSettings(path)
	if err != nil {
		return err
	}
	if isHooksRegistered(settings) {
		fmt.Println("gwt hooks are already registered in Claude Code settings.")
		return nil
	}

	hooks := map[string][]claudeHookMatcher{}
	if raw, ok := settings["hooks"]; ok {
		_ = json.Unmarshal(raw, &hooks)
	}
	for _, event := range hookEvents {
		hooks[event] = []claudeHookMatcher{{Hooks: []claudeHookEntry{{Type: "command", Command: "gwt hook event " + event}}}}
	}
	raw, err := json.Marshal(hooks)
	if err != nil {
		return &gwterrors.Internal{Msg: err.Error()}
	}
	settings["hooks"] = raw

	if err := saveClaudeSettings(path, settings); err != nil {
		return err
	}
	fmt.Println("successfully registered gwt hooks in Claude Code settings.")
	return nil
}

func runHookUninstall() error {
	path, err := claudeSettingsPath()
	if err != nil {
		return err
	}
	settings, err := loadClaudeSettings(path)
	if err != nil {
		return err
	}
	if !isHooksRegistered(settings) {
		fmt.Println("gwt hooks are not registered in Claude Code settings.")
		return nil
	}
	delete(settings, "hooks")
	if err := saveClaudeSettings(path, settings); err != nil {
		return err
	}
	fmt.Println("successfully removed gwt hooks from Claude Code settings.")
	return nil
}

func runHookStatus() error {
	path, err := claudeSettingsPath()
	if err != nil {
		return err
	}
	settings, err := loadClaudeSettings(path)
	if err != nil {
		return err
	}
	if isHooksRegistered(settings) {
		fmt.Println("gwt hooks: registered")
	} else {
		fmt.Println("gwt hooks: not registered")
		fmt.Println("run 'gwt hook setup' to enable agent status tracking.")
	}
	return nil
}

// sessionMarker is the minimal per-worktree record a hook event updates;
// the dashboard/orchestrator tooling can read it to show live agent status
// without depending on the RpcServer being up.
type sessionMarker struct {
	Branch    string    `json:"branch"`
	Status    string    `json:"status"`
	Event     string    `json:"last_event"`
	UpdatedAt time.Time `json:"updated_at"`
}

func hookEventToStatus(event string) string {
	switch event {
	case "SessionStart":
		return "running"
	case "SessionEnd", "Stop", "SubagentStop":
		return "completed"
	default:
		return "unknown"
	}
}

// runHookEvent processes one hook invocation: reads a JSON payload from
// stdin (tolerating an empty or malformed body), resolves the worktree from
// its "cwd" field (or the process cwd), and records the resulting status in
// <worktree>/.gwt/session.json.
func runHookEvent(event string) error {
	var payload map[string]interface{}
	raw, _ := io.ReadAll(os.Stdin)
	_ = json.Unmarshal(raw, &payload)

	cwd, _ := os.Getwd()
	if v, ok := payload["cwd"].(string); ok && v != "" {
		cwd = v
	}

	marker := sessionMarker{
		Status:    hookEventToStatus(event),
		Event:     event,
		UpdatedAt: time.Now(),
	}
	ctx := context.Background()
	if reg, _, err := openRegistry(ctx); err == nil {
		if wt, err := reg.GetByPath(ctx, cwd); err == nil {
			marker.Branch = wt.Branch
		}
	}

	markerDir := filepath.Join(cwd, ".gwt")
	if err := os.MkdirAll(markerDir, 0755); err != nil {
		return &gwterrors.Internal{Msg: err.Error()}
	}
	out, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return &gwterrors.Internal{Msg: err.Error()}
	}
	tmp := filepath.Join(markerDir, "session.json.tmp")
	if err := os.WriteFile(tmp, out, 0600); err != nil {
		return &gwterrors.ConfigWriteError{Reason: "write session marker", Err: err}
	}
	return os.Rename(tmp, filepath.Join(markerDir, "session.json"))
}
