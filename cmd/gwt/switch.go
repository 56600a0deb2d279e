package main

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"
)

func newSwitchCmd() *cobra.Command {
	var newWindow bool

	cmd := &cobra.Command{
		Use:   "switch <branch>",
		Short: "Switch to a worktree's branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			ctx := context.Background()
			reg, _, err := openRegistry(ctx)
			if err != nil {
				return err
			}

			wt, err := reg.GetByBranch(ctx, args[0])
			if err != nil {
				return err
			}

			if newWindow {
				if err := openTerminal(wt.Path); err != nil {
					return err
				}
				fmt.Printf("opened new terminal in %s\n", wt.Path)
				return nil
			}

			fmt.Printf("cd %s\n", wt.Path)
			fmt.Println("\nrun the command above to switch to the worktree")
			return nil
		},
	}
	cmd.Flags().BoolVar(&newWindow, "new-window", false, "open a new terminal window at the worktree path instead of printing cd")
	return cmd
}

// openTerminal spawns a platform terminal emulator rooted at dir. Best
// effort: Linux tries a short list of common emulators in order.
func openTerminal(dir string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", "-a", "Terminal", dir).Start()
	case "linux":
		for _, term := range []string{"gnome-terminal", "konsole", "xterm"} {
			if _, err := exec.LookPath(term); err != nil {
				continue
			}
			return exec.Command(term, "--working-directory", dir).Start()
		}
		return fmt.Errorf("no known terminal emulator found on PATH")
	default:
		return fmt.Errorf("--new-window is not supported on %s", runtime.GOOS)
	}
}
