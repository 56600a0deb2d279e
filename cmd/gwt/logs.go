package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/akiojin/gwt-sub001/internal/worktree"
)

func newLogsCmd() *cobra.Command {
	var limit int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show agent log records for the current workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			ctx := context.Background()
			dir, err := workspaceLogDir(ctx)
			if err != nil {
				return err
			}

			lines, err := tailLogDir(dir, limit)
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Println(line)
			}

			if !follow {
				return nil
			}
			return followLogDir(dir, len(lines))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of trailing log lines to show")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep streaming new log records")
	return cmd
}

// workspaceLogDir derives ~/.gwt/logs/<workspace>/ from the current repo
// root's sanitized basename, per spec.md §6.
func workspaceLogDir(ctx context.Context) (string, error) {
	root, err := repoRoot(ctx)
	if err != nil {
		return "", err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	workspace := worktree.SanitizeBranchName(filepath.Base(root))
	return filepath.Join(home, ".gwt", "logs", workspace), nil
}

func logFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func allLines(dir string) ([]string, error) {
	files, err := logFiles(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			out = append(out, scanner.Text())
		}
		f.Close()
	}
	return out, nil
}

func tailLogDir(dir string, limit int) ([]string, error) {
	lines, err := allLines(dir)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, nil
}

// followLogDir polls the log directory every second for newly appended
// lines past the count already printed, until interrupted.
func followLogDir(dir string, alreadyPrinted int) error {
	for {
		time.Sleep(time.Second)
		lines, err := allLines(dir)
		if err != nil {
			return err
		}
		if len(lines) > alreadyPrinted {
			for _, line := range lines[alreadyPrinted:] {
				fmt.Println(line)
			}
			alreadyPrinted = len(lines)
		}
	}
}
