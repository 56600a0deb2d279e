// Command gwt manages a fleet of AI coding agents running in parallel
// against git worktrees: one branch, one worktree, one foreground agent
// pane per task, coordinated by an optional JSON-RPC server and a
// local orchestrator loop.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/akiojin/gwt-sub001/internal/gwterrors"
	"github.com/akiojin/gwt-sub001/internal/logging"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
	cfgFile   string
	debugFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gwt",
		Short: "Run AI coding agents in parallel across git worktrees",
		Long: `gwt manages a fleet of AI coding agent processes, each running in its
own git worktree on its own branch, coordinated through a single binary
that can be driven from a terminal or scripted over JSON-RPC.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.gwt/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newListCmd(),
		newAddCmd(),
		newRemoveCmd(),
		newSwitchCmd(),
		newCleanCmd(),
		newLogsCmd(),
		newServeCmd(),
		newInitCmd(),
		newLockCmd(),
		newUnlockCmd(),
		newHookCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gwt version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gwt %s\n", version)
			if buildTime != "unknown" {
				fmt.Printf("built: %s\n", buildTime)
			}
		},
	}
}

// initLogging configures the global logger to write to stderr, at debug level
// when --debug is set or GWT_DEBUG is non-empty (any value, including "0").
// NO_COLOR is not read here.
func initLogging() {
	cfg := logging.DefaultConfig()
	if debugFlag || os.Getenv("GWT_DEBUG") != "" {
		cfg.Level = "debug"
	}
	cfg.Output = "stderr"
	_ = logging.Init(cfg)
}

// repoRoot returns the current working directory as the repository root,
// used by every subcommand that operates on worktrees. It does not search
// parent directories for an enclosing git root.
func repoRoot(ctx context.Context) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", &gwterrors.Internal{Msg: "cannot resolve working directory: " + err.Error()}
	}
	return cwd, nil
}

// exitCodeFor maps the error taxonomy to spec.md §6's exit codes: 0 success
// (never reached here — only called on a non-nil error), 1 user/operational
// error, 2 configuration error, 130 interrupted.
func exitCodeFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return 130
	}
	var parseErr *gwterrors.ConfigParseError
	var writeErr *gwterrors.ConfigWriteError
	var notFoundErr *gwterrors.ConfigNotFound
	if errors.As(err, &parseErr) || errors.As(err, &writeErr) || errors.As(err, &notFoundErr) {
		return 2
	}
	// add's branch-naming rules (protected branch, already-exists) are
	// configuration-driven per spec.md §6, so they exit 2 rather than 1.
	var protectedErr *gwterrors.ProtectedBranch
	var existsErr *gwterrors.BranchAlreadyExists
	if errors.As(err, &protectedErr) || errors.As(err, &existsErr) {
		return 2
	}
	return 1
}
