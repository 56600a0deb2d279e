// Package worktree implements WorktreeRegistry: a thin wrapper over `git
// worktree` that adds the stale-recovery protocol, protected-branch
// enforcement, and orphan detection spec.md §4.2 requires.
package worktree

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/akiojin/gwt-sub001/internal/gitutil"
	"github.com/akiojin/gwt-sub001/internal/gwterrors"
	"github.com/akiojin/gwt-sub001/internal/logging"
)

// DefaultProtectedBranches is the built-in protected-branch set per spec.md
// invariant I3. ConfigStore may override this list (§12.2 of SPEC_FULL.md).
var DefaultProtectedBranches = []string{"main", "master", "develop", "release"}

var sanitizeRunRe = regexp.MustCompile(`-+`)
var sanitizeCharRe = regexp.MustCompile(`[^a-z0-9-]`)

// Worktree is the data-model entity from spec.md §3.
type Worktree struct {
	Path                   string
	Branch                 string // empty when detached
	Head                   string
	IsMain                 bool
	IsBare                 bool
	IsLocked               bool
	IsDetached             bool
	IsPrunable             bool
	HasUncommittedChanges  bool
	HasUnpushedCommits     bool
	Ahead                  int
	Behind                 int
	LastCommitAt           time.Time
}

// Registry is the WorktreeRegistry for one repository, identified by its
// common git-dir (the root of the main checkout or bare repo).
type Registry struct {
	repoRoot          string
	protectedBranches []string
	mu                sync.Mutex // createMu in the teacher; serializes mutating ops
	log               *slog.Logger
}

// New constructs a Registry rooted at repoRoot (any worktree or the bare
// repo's working directory is acceptable — git resolves the common dir).
func New(repoRoot string, protectedBranches []string) *Registry {
	if len(protectedBranches) == 0 {
		protectedBranches = DefaultProtectedBranches
	}
	return &Registry{
		repoRoot:          repoRoot,
		protectedBranches: protectedBranches,
		log:               logging.WithComponent("worktree"),
	}
}

// porcelainEntry mirrors one stanza of `git worktree list --porcelain`.
type porcelainEntry struct {
	path     string
	head     string
	branch   string
	bare     bool
	detached bool
	locked   bool
	prunable bool
}

func parsePorcelain(output string) []porcelainEntry {
	var entries []porcelainEntry
	var cur *porcelainEntry
	flush := func() {
		if cur != nil {
			entries = append(entries, *cur)
			cur = nil
		}
	}
	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur = &porcelainEntry{path: strings.TrimPrefix(line, "worktree ")}
		case cur == nil:
			continue
		case strings.HasPrefix(line, "HEAD "):
			cur.head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare":
			cur.bare = true
		case line == "detached":
			cur.detached = true
		case strings.HasPrefix(line, "locked"):
			cur.locked = true
		case strings.HasPrefix(line, "prunable"):
			cur.prunable = true
		}
	}
	flush()
	return entries
}

// ListBasic returns every entry parsed from `git worktree list --porcelain`
// without the uncommitted/unpushed status probes (fast path for UI refresh).
func (r *Registry) ListBasic(ctx context.Context) ([]*Worktree, error) {
	out, err := gitutil.Command(ctx, r.repoRoot, nil, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	entries := parsePorcelain(out)
	result := make([]*Worktree, 0, len(entries))
	for i, e := range entries {
		result = append(result, &Worktree{
			Path:       e.path,
			Branch:     e.branch,
			Head:       e.head,
			IsMain:     i == 0,
			IsBare:     e.bare,
			IsLocked:   e.locked,
			IsDetached: e.detached,
			IsPrunable: e.prunable,
		})
	}
	return result, nil
}

// List returns every worktree, additionally probing git status and upstream
// divergence for each non-bare entry (§4.2).
func (r *Registry) List(ctx context.Context) ([]*Worktree, error) {
	list, err := r.ListBasic(ctx)
	if err != nil {
		return nil, err
	}
	for _, wt := range list {
		if wt.IsBare {
			continue
		}
		if status, err := gitutil.Command(ctx, wt.Path, nil, "status", "--porcelain"); err == nil {
			wt.HasUncommittedChanges = strings.TrimSpace(status) != ""
		}
		if log, err := gitutil.Command(ctx, wt.Path, nil, "log", "@{u}..", "--oneline"); err == nil {
			wt.HasUnpushedCommits = strings.TrimSpace(log) != ""
		}
		if aheadBehind, err := gitutil.Command(ctx, wt.Path, nil, "rev-list", "--left-right", "--count", "@{u}...HEAD"); err == nil {
			parts := strings.Fields(strings.TrimSpace(aheadBehind))
			if len(parts) == 2 {
				wt.Behind, _ = strconv.Atoi(parts[0])
				wt.Ahead, _ = strconv.Atoi(parts[1])
			}
		}
	}
	return list, nil
}

// GetByBranch returns the worktree checked out to branch, or nil.
func (r *Registry) GetByBranch(ctx context.Context, branch string) (*Worktree, error) {
	list, err := r.ListBasic(ctx)
	if err != nil {
		return nil, err
	}
	for _, wt := range list {
		if wt.Branch == branch {
			return wt, nil
		}
	}
	return nil, nil
}

// GetByPath returns the worktree registered at path, or nil.
func (r *Registry) GetByPath(ctx context.Context, path string) (*Worktree, error) {
	list, err := r.ListBasic(ctx)
	if err != nil {
		return nil, err
	}
	abs, _ := filepath.Abs(path)
	for _, wt := range list {
		wtAbs, _ := filepath.Abs(wt.Path)
		if wtAbs == abs {
			return wt, nil
		}
	}
	return nil, nil
}

// SanitizeBranchName derives a safe path component from a branch name:
// slashes -> hyphens, lowercased, collapsed runs, matching §4.2's
// `<parent>/<repo>-<sanitized_branch>` naming scheme.
func SanitizeBranchName(branch string) string {
	s := strings.ToLower(branch)
	s = strings.ReplaceAll(s, "/", "-")
	s = sanitizeCharRe.ReplaceAllString(s, "-")
	s = sanitizeRunRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// DerivePath computes the deterministic worktree path for a branch:
// <parent>/<repo>-<sanitized_branch>.
func (r *Registry) DerivePath(branch string) string {
	parent := filepath.Dir(r.repoRoot)
	repoName := filepath.Base(r.repoRoot)
	return filepath.Join(parent, fmt.Sprintf("%s-%s", repoName, SanitizeBranchName(branch)))
}

// handleExistingPath implements the stale-recovery protocol from §4.2:
//  1. registered in `git worktree list` -> WorktreeAlreadyExists.
//  2. not registered but has a `.git` marker -> stale; auto-delete, caller retries.
//  3. otherwise -> WorktreePathConflict (never auto-deleted).
func (r *Registry) handleExistingPath(ctx context.Context, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // no collision
	}

	existing, err := r.GetByPath(ctx, path)
	if err != nil {
		return err
	}
	if existing != nil {
		return &gwterrors.WorktreeAlreadyExists{Path: path}
	}

	gitMarker := filepath.Join(path, ".git")
	if _, err := os.Stat(gitMarker); err == nil {
		r.log.Info("removing stale worktree directory", slog.String("path", path))
		if err := os.RemoveAll(path); err != nil {
			return &gwterrors.Internal{Msg: fmt.Sprintf("failed to remove stale worktree %s: %v", path, err)}
		}
		return nil
	}

	return &gwterrors.WorktreePathConflict{Path: path}
}

// CreateForBranch creates a worktree checking out an existing branch. The
// branch must already exist (BranchNotFound otherwise).
func (r *Registry) CreateForBranch(ctx context.Context, branch string) (*Worktree, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := gitutil.Command(ctx, r.repoRoot, nil, "rev-parse", "--verify", "refs/heads/"+branch); err != nil {
		return nil, &gwterrors.BranchNotFound{Name: branch}
	}

	path := r.DerivePath(branch)
	if err := r.handleExistingPath(ctx, path); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &gwterrors.Internal{Msg: err.Error()}
	}

	if _, err := gitutil.Command(ctx, r.repoRoot, nil, "worktree", "add", path, branch); err != nil {
		return nil, err
	}

	return r.GetByPath(ctx, path)
}

// CreateNewBranch creates a worktree with a brand-new branch. The branch must
// NOT already exist (BranchAlreadyExists otherwise). If base is non-empty it
// must exist and becomes the new branch's starting point.
func (r *Registry) CreateNewBranch(ctx context.Context, branch, base string) (*Worktree, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := gitutil.Command(ctx, r.repoRoot, nil, "rev-parse", "--verify", "refs/heads/"+branch); err == nil {
		return nil, &gwterrors.BranchAlreadyExists{Name: branch}
	}

	baseRef := "HEAD"
	if base != "" {
		if _, err := gitutil.Command(ctx, r.repoRoot, nil, "rev-parse", "--verify", base); err != nil {
			return nil, &gwterrors.BranchNotFound{Name: base}
		}
		baseRef = base
	}

	path := r.DerivePath(branch)
	if err := r.handleExistingPath(ctx, path); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &gwterrors.Internal{Msg: err.Error()}
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		_, err := gitutil.Command(ctx, r.repoRoot, nil, "worktree", "add", "-b", branch, path, baseRef)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		msg := err.Error()
		if strings.Contains(msg, "commondir") || strings.Contains(msg, "gitdir") {
			time.Sleep(time.Duration(10*(attempt+1)) * time.Millisecond)
			continue
		}
		break
	}
	if lastErr != nil {
		return nil, lastErr
	}

	if base != "" {
		if _, err := gitutil.Command(ctx, path, nil, "reset", "--hard", base); err != nil {
			r.log.Warn("failed to reset new branch to base", slog.String("base", base), slog.String("error", err.Error()))
		}
	}

	return r.GetByPath(ctx, path)
}

// IsProtected reports whether branch is in the registry's protected set (I3).
func (r *Registry) IsProtected(branch string) bool {
	for _, p := range r.protectedBranches {
		if p == branch {
			return true
		}
	}
	return false
}

// Remove removes the worktree at path, refusing protected branches and
// uncommitted changes unless force is set.
func (r *Registry) Remove(ctx context.Context, path string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wt, err := r.GetByPath(ctx, path)
	if err != nil {
		return err
	}
	if wt == nil {
		return &gwterrors.WorktreeNotFound{Path: path}
	}
	if !force && r.IsProtected(wt.Branch) {
		return &gwterrors.ProtectedBranch{Branch: wt.Branch}
	}

	full, err := r.List(ctx)
	if err == nil {
		for _, w := range full {
			if w.Path == wt.Path && w.HasUncommittedChanges && !force {
				return &gwterrors.UncommittedChanges{Path: path}
			}
		}
	}

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err = gitutil.Command(ctx, r.repoRoot, nil, args...)
	return err
}

// RemoveWithBranch removes the worktree, then deletes its branch (force or
// the branch is fully merged).
func (r *Registry) RemoveWithBranch(ctx context.Context, path string, force bool) error {
	wt, err := r.GetByPath(ctx, path)
	if err != nil {
		return err
	}
	if wt == nil {
		return &gwterrors.WorktreeNotFound{Path: path}
	}
	branch := wt.Branch

	if err := r.Remove(ctx, path, force); err != nil {
		return err
	}
	if branch == "" {
		return nil
	}

	deleteFlag := "-d"
	if force {
		deleteFlag = "-D"
	}
	if _, err := gitutil.Command(ctx, r.repoRoot, nil, "branch", deleteFlag, branch); err != nil {
		if !force {
			// retry with -D per §4.2 cleanup_branch contract: success means
			// "the branch and its worktree are gone".
			if _, err2 := gitutil.Command(ctx, r.repoRoot, nil, "branch", "-D", branch); err2 != nil {
				return err2
			}
			return nil
		}
		return err
	}
	return nil
}

// CleanupBranch is the atomic higher-level operation from §4.2: find the
// worktree for branch, remove it, then delete the branch.
func (r *Registry) CleanupBranch(ctx context.Context, branch string, forceWorktree, forceBranch bool) error {
	wt, err := r.GetByBranch(ctx, branch)
	if err != nil {
		return err
	}
	if wt == nil {
		return &gwterrors.BranchNotFound{Name: branch}
	}
	if err := r.Remove(ctx, wt.Path, forceWorktree); err != nil {
		return err
	}
	deleteFlag := "-d"
	if forceBranch {
		deleteFlag = "-D"
	}
	if _, err := gitutil.Command(ctx, r.repoRoot, nil, "branch", deleteFlag, branch); err != nil {
		if _, err2 := gitutil.Command(ctx, r.repoRoot, nil, "branch", "-D", branch); err2 != nil {
			return err2
		}
	}
	return nil
}

// Orphan pairs a registered-but-missing worktree path with the detection
// reason.
type Orphan struct {
	Path   string
	Reason string
}

// DetectOrphans enumerates entries in `git worktree list` whose path does not
// exist on disk.
func (r *Registry) DetectOrphans(ctx context.Context) ([]Orphan, error) {
	list, err := r.ListBasic(ctx)
	if err != nil {
		return nil, err
	}
	var orphans []Orphan
	for _, wt := range list {
		if wt.IsBare {
			continue
		}
		if _, err := os.Stat(wt.Path); os.IsNotExist(err) {
			orphans = append(orphans, Orphan{Path: wt.Path, Reason: "registered but missing on disk"})
		}
	}
	return orphans, nil
}

// AutoCleanupOrphans prunes every orphan found by DetectOrphans.
func (r *Registry) AutoCleanupOrphans(ctx context.Context) (int, error) {
	orphans, err := r.DetectOrphans(ctx)
	if err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, nil
	}
	if err := r.Prune(ctx); err != nil {
		return 0, err
	}
	return len(orphans), nil
}

// Prune delegates to `git worktree prune`.
func (r *Registry) Prune(ctx context.Context) error {
	_, err := gitutil.Command(ctx, r.repoRoot, nil, "worktree", "prune", "-v")
	return err
}

// Lock passes through to `git worktree lock`, carrying an optional reason.
func (r *Registry) Lock(ctx context.Context, path, reason string) error {
	args := []string{"worktree", "lock"}
	if reason != "" {
		args = append(args, "--reason", reason)
	}
	args = append(args, path)
	_, err := gitutil.Command(ctx, r.repoRoot, nil, args...)
	return err
}

// Unlock passes through to `git worktree unlock`.
func (r *Registry) Unlock(ctx context.Context, path string) error {
	_, err := gitutil.Command(ctx, r.repoRoot, nil, "worktree", "unlock", path)
	return err
}

// Repair re-registers a worktree whose `.git` file points at a moved gitdir
// (original_source supplement, SPEC_FULL.md §12.1).
func (r *Registry) Repair(ctx context.Context, path string) error {
	_, err := gitutil.Command(ctx, r.repoRoot, nil, "worktree", "repair", path)
	return err
}

// ActiveCount returns the number of non-bare worktrees currently registered.
func (r *Registry) ActiveCount(ctx context.Context) (int, error) {
	list, err := r.ListBasic(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, wt := range list {
		if !wt.IsBare {
			count++
		}
	}
	return count, nil
}

// NeedingAttention returns worktrees with uncommitted or unpushed state.
func (r *Registry) NeedingAttention(ctx context.Context) ([]*Worktree, error) {
	list, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var result []*Worktree
	for _, wt := range list {
		if wt.HasUncommittedChanges || wt.HasUnpushedCommits {
			result = append(result, wt)
		}
	}
	return result, nil
}
