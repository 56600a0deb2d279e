package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func resolveTarget(ctx context.Context, target string) (string, error) {
	reg, _, err := openRegistry(ctx)
	if err != nil {
		return "", err
	}
	if wt, err := reg.GetByBranch(ctx, target); err == nil {
		return wt.Path, nil
	}
	wt, err := reg.GetByPath(ctx, target)
	if err != nil {
		return "", err
	}
	return wt.Path, nil
}

func newLockCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "lock <target>",
		Short: "Lock a worktree to prevent removal and pruning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			ctx := context.Background()
			reg, _, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			path, err := resolveTarget(ctx, args[0])
			if err != nil {
				return err
			}
			if err := reg.Lock(ctx, path, reason); err != nil {
				return err
			}
			fmt.Printf("locked %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded alongside the lock")
	return cmd
}

func newUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <target>",
		Short: "Unlock a previously locked worktree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			ctx := context.Background()
			reg, _, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			path, err := resolveTarget(ctx, args[0])
			if err != nil {
				return err
			}
			if err := reg.Unlock(ctx, path); err != nil {
				return err
			}
			fmt.Printf("unlocked %s\n", path)
			return nil
		},
	}
}
