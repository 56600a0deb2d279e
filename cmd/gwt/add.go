package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newAddCmd() *cobra.Command {
	var newBranch bool
	var base string

	cmd := &cobra.Command{
		Use:   "add <branch>",
		Short: "Create a worktree for a branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			ctx := context.Background()
			reg, _, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			branch := args[0]

			if newBranch {
				created, err := reg.CreateNewBranch(ctx, branch, base)
				if err != nil {
					return err
				}
				fmt.Printf("created worktree %s for new branch %s\n", created.Path, created.Branch)
				return nil
			}

			created, err := reg.CreateForBranch(ctx, branch)
			if err != nil {
				return err
			}
			fmt.Printf("created worktree %s for branch %s\n", created.Path, created.Branch)
			return nil
		},
	}
	cmd.Flags().BoolVar(&newBranch, "new", false, "create a new branch rather than checking out an existing one")
	cmd.Flags().StringVar(&base, "base", "", "base ref for --new (default HEAD)")
	return cmd
}
