package migration

import (
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
)

// copyTree copies source's contents into target, preferring rsync (which
// understands .gitignore filtering and preserves permissions with -a) and
// falling back to a filepath.WalkDir copy when rsync is unavailable or fails.
// When includeGit is false the .git directory is skipped (worktree file
// migration); backups pass true and keep it.
func copyTree(source, target string, includeGit bool) error {
	if err := os.MkdirAll(target, 0755); err != nil {
		return err
	}

	if _, err := exec.LookPath("rsync"); err == nil {
		args := []string{"-a"}
		if !includeGit {
			args = append(args, "--exclude=.git", "--filter=:- .gitignore")
		}
		args = append(args, source+"/", target+"/")
		cmd := exec.Command("rsync", args...)
		if err := cmd.Run(); err == nil {
			return nil
		}
	}

	return walkDirCopy(source, target, includeGit)
}

// walkDirCopy is the rsync-unavailable fallback: a plain recursive copy that
// preserves file modes but has no gitignore awareness.
func walkDirCopy(source, target string, includeGit bool) error {
	return filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !includeGit && d.Name() == ".git" {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(target, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(dest, info.Mode())
		}

		return copyFile(path, dest)
	})
}

func copyFile(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// copyGitHooks copies non-sample hook scripts from a worktree's .git/hooks
// into the bare repository's hooks directory, preserving the executable bit.
func copyGitHooks(sourceHooks, targetHooks string) error {
	entries, err := os.ReadDir(sourceHooks)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(targetHooks, 0755); err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) == ".sample" {
			continue
		}
		src := filepath.Join(sourceHooks, entry.Name())
		dest := filepath.Join(targetHooks, entry.Name())
		if err := copyFile(src, dest); err != nil {
			return err
		}
	}
	return nil
}
