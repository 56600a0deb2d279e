package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanCmd() *cobra.Command {
	var dryRun bool
	var prune bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Detect and remove orphaned worktrees",
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			ctx := context.Background()
			reg, _, err := openRegistry(ctx)
			if err != nil {
				return err
			}

			orphans, err := reg.DetectOrphans(ctx)
			if err != nil {
				return err
			}
			if len(orphans) == 0 {
				fmt.Println("no orphaned worktrees found")
			} else {
				for _, o := range orphans {
					fmt.Printf("orphan: %s (%s)\n", o.Path, o.Reason)
				}
			}

			if dryRun {
				return nil
			}

			if len(orphans) > 0 {
				n, err := reg.AutoCleanupOrphans(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("cleaned up %d orphaned worktree(s)\n", n)
			}

			if prune {
				if err := reg.Prune(ctx); err != nil {
					return err
				}
				fmt.Println("pruned stale worktree administrative files")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be cleaned without removing anything")
	cmd.Flags().BoolVar(&prune, "prune", false, "also run git worktree prune")
	return cmd
}
