package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/akiojin/gwt-sub001/internal/configstore"
	"github.com/akiojin/gwt-sub001/internal/gitutil"
)

func newInitCmd() *cobra.Command {
	var force bool
	var full bool

	cmd := &cobra.Command{
		Use:   "init [url]",
		Short: "Clone a bare repository, or write a default config in the current one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			ctx := context.Background()

			if len(args) == 1 {
				return cloneBare(ctx, args[0], full)
			}

			root, err := repoRoot(ctx)
			if err != nil {
				return err
			}
			store := configstore.New(root)
			configPath := filepath.Join(root, ".gwt.toml")
			if _, err := os.Stat(configPath); err == nil && !force {
				fmt.Printf("configuration already exists at %s (use --force to overwrite)\n", configPath)
				return nil
			}
			if force {
				if err := os.Remove(configPath); err != nil && !os.IsNotExist(err) {
					return err
				}
			}
			if err := store.CreateDefault(configPath); err != nil {
				return err
			}
			fmt.Printf("created configuration at %s\n", configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().BoolVar(&full, "full", false, "clone full history instead of a shallow (depth=1) clone")
	return cmd
}

// cloneBare clones url as a bare repository into a directory derived from
// its basename, shallow (--depth=1) by default.
func cloneBare(ctx context.Context, url string, full bool) error {
	dest := bareDestFromURL(url)
	kind := "shallow (--depth=1)"
	args := []string{"clone", "--bare"}
	if !full {
		args = append(args, "--depth", "1")
	} else {
		kind = "full"
	}
	args = append(args, "--", url, dest)

	fmt.Printf("cloning %s as %s bare repository...\n", url, kind)
	if _, err := gitutil.Command(ctx, "", nil, args...); err != nil {
		return err
	}
	fmt.Printf("successfully cloned to: %s\n", dest)
	fmt.Println("\nnext steps:")
	fmt.Printf("  cd %s\n", dest)
	fmt.Println("  gwt add <branch> --new   # create a worktree")
	return nil
}

// bareDestFromURL derives a local directory name for the bare clone from
// the remote URL's last path segment, with a trailing ".git" appended if
// not already present.
func bareDestFromURL(url string) string {
	name := filepath.Base(url)
	if filepath.Ext(name) != ".git" {
		name += ".git"
	}
	return name
}
