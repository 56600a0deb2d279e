package main

import (
	"context"

	"github.com/akiojin/gwt-sub001/internal/configstore"
	"github.com/akiojin/gwt-sub001/internal/worktree"
)

// openRegistry resolves the current repository root, loads layered settings
// for it, and returns a Registry configured with the resolved protected
// branch list, ready for list/add/remove/switch/clean/lock operations.
func openRegistry(ctx context.Context) (*worktree.Registry, *configstore.Settings, error) {
	root, err := repoRoot(ctx)
	if err != nil {
		return nil, nil, err
	}
	store := configstore.New(root)
	settings := store.Load()
	reg := worktree.New(root, settings.ProtectedBranches)
	return reg, settings, nil
}
