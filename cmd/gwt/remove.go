package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoveCmd() *cobra.Command {
	var force bool
	var deleteBranch bool

	cmd := &cobra.Command{
		Use:   "remove <target>",
		Short: "Remove a worktree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			ctx := context.Background()
			reg, _, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			target := args[0]

			wt, err := reg.GetByBranch(ctx, target)
			if err != nil {
				wt, err = reg.GetByPath(ctx, target)
				if err != nil {
					return err
				}
			}

			if deleteBranch {
				if err := reg.RemoveWithBranch(ctx, wt.Path, force); err != nil {
					return err
				}
			} else {
				if err := reg.Remove(ctx, wt.Path, force); err != nil {
					return err
				}
			}
			fmt.Printf("removed worktree %s\n", wt.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "remove despite uncommitted changes or a protected branch")
	cmd.Flags().BoolVar(&deleteBranch, "delete-branch", false, "also delete the underlying branch")
	return cmd
}
