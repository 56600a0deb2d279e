package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/akiojin/gwt-sub001/internal/worktree"
)

func newListCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List worktrees in the current repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			ctx := context.Background()
			reg, _, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			worktrees, err := reg.List(ctx)
			if err != nil {
				return err
			}
			return printWorktrees(worktrees, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: table|json|simple")
	return cmd
}

func printWorktrees(worktrees []*worktree.Worktree, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(worktrees)
	case "simple":
		for _, w := range worktrees {
			fmt.Println(w.Path)
		}
		return nil
	default:
		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "BRANCH\tPATH\tSTATUS\tAHEAD\tBEHIND")
		for _, w := range worktrees {
			status := "clean"
			if w.HasUncommittedChanges {
				status = "dirty"
			}
			if w.IsLocked {
				status += ",locked"
			}
			branch := w.Branch
			if branch == "" {
				branch = "(detached)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", branch, w.Path, status, w.Ahead, w.Behind)
		}
		return tw.Flush()
	}
}
