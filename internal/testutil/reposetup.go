// Package testutil provides test fixtures; the worktree package's tests
// use NewTempRepo.
package testutil

import (
	"os"
	"os/exec"
	"testing"
)

// NewTempRepo initializes a throwaway git repository under t.TempDir with one
// commit on main, returning its root path.
func NewTempRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v: %s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	if err := os.WriteFile(dir+"/README.md", []byte("hello\n"), 0644); err != nil {
		t.Fatalf("failed to write README.md: %v", err)
	}
	run("add", "README.md")
	run("commit", "-m", "initial commit")
	return dir
}
