// Package migration implements MigrationEngine: the one-shot conversion of a
// legacy <repo>/.worktrees/* layout into a bare-repo-plus-sibling-worktrees
// layout, grounded on the reference corpus's migration executor.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/akiojin/gwt-sub001/internal/gitutil"
	"github.com/akiojin/gwt-sub001/internal/gwterrors"
	"github.com/akiojin/gwt-sub001/internal/logging"
	"github.com/akiojin/gwt-sub001/internal/worktree"
)

// Phase names the engine's progress states, reported to the caller's
// ProgressFunc as each phase begins.
type Phase string

const (
	PhaseValidating        Phase = "Validating"
	PhaseBackingUp         Phase = "BackingUp"
	PhaseCreatingBareRepo  Phase = "CreatingBareRepo"
	PhaseMigratingWorktrees Phase = "MigratingWorktrees"
	PhaseCleaningUp        Phase = "CleaningUp"
	PhaseWritingMarker     Phase = "WritingMarker"
	PhaseCompleted         Phase = "Completed"
	PhaseRolledBack        Phase = "RolledBack"
)

// Progress is reported once per phase transition; Current/Total are only
// meaningful during PhaseMigratingWorktrees.
type Progress struct {
	Phase   Phase
	Current int
	Total   int
}

// ProgressFunc receives Progress notifications; may be nil.
type ProgressFunc func(Progress)

// Config is the input to Execute.
type Config struct {
	SourceRoot string // path to the legacy repo (contains .git and .worktrees/)
	DryRun     bool
}

// bareRepoPath is the sibling bare repository directory, derived from the
// source root's basename.
func (c Config) bareRepoPath() string {
	parent := filepath.Dir(c.SourceRoot)
	name := filepath.Base(c.SourceRoot)
	return filepath.Join(parent, name+".git")
}

func (c Config) backupPath() string {
	return c.SourceRoot + ".migration-backup"
}

// WorktreeInfo describes one worktree slated for migration, including the
// synthetic entry for the original repository itself.
type WorktreeInfo struct {
	Branch     string
	SourcePath string
	TargetPath string
	IsDirty    bool
	IsMainRepo bool
}

// Engine runs one migration. It is not reusable across repos; construct a
// fresh Engine per Execute call.
type Engine struct {
	log *slog.Logger

	// phasesEntered records which phases actually performed side effects, so
	// a failure can roll back only what was done.
	phasesEntered []Phase
	bareCreated   bool
	migratedPaths []string

	// cachedPlan memoizes planWorktrees' result so validate's per-worktree
	// collision check and Execute's migration loop don't recompute it.
	cachedPlan   []WorktreeInfo
	planComputed bool
}

// New constructs an Engine.
func New() *Engine {
	return &Engine{log: logging.WithComponent("migration")}
}

// Execute runs the full Validate -> Backup -> CreateBareRepo ->
// MigrateWorktrees -> Cleanup -> WriteMarker sequence. DryRun short-circuits
// every side-effecting phase after Validate but still reports progress and
// returns the worktree plan that would have been migrated.
//
// Failures during CreateBareRepo, MigrateWorktrees, or Cleanup trigger
// rollback of whatever those phases had already done; failures during
// Validate or Backup do not, since nothing destructive has happened yet.
func (e *Engine) Execute(ctx context.Context, cfg Config, onProgress ProgressFunc) ([]WorktreeInfo, error) {
	report := func(p Phase, cur, total int) {
		if onProgress != nil {
			onProgress(Progress{Phase: p, Current: cur, Total: total})
		}
	}

	report(PhaseValidating, 0, 0)
	if err := e.validate(ctx, cfg); err != nil {
		return nil, err
	}

	if !cfg.DryRun {
		report(PhaseBackingUp, 0, 0)
		if err := e.backup(cfg); err != nil {
			return nil, err
		}
	}

	report(PhaseCreatingBareRepo, 0, 0)
	if !cfg.DryRun {
		if err := e.createBareRepo(ctx, cfg); err != nil {
			e.rollback(cfg)
			return nil, err
		}
		e.bareCreated = true
	}

	worktrees, err := e.planWorktrees(ctx, cfg)
	if err != nil {
		e.rollback(cfg)
		return nil, err
	}

	total := len(worktrees)
	for i, wt := range worktrees {
		report(PhaseMigratingWorktrees, i, total)
		if cfg.DryRun {
			continue
		}
		if err := e.migrateWorktree(ctx, cfg, wt); err != nil {
			e.rollback(cfg)
			return nil, err
		}
		e.migratedPaths = append(e.migratedPaths, wt.TargetPath)
	}

	report(PhaseCleaningUp, 0, 0)
	if !cfg.DryRun {
		if err := e.cleanup(ctx, cfg); err != nil {
			e.rollback(cfg)
			return nil, err
		}
	}

	report(PhaseWritingMarker, 0, 0)
	if !cfg.DryRun {
		if err := e.writeMarker(cfg); err != nil {
			return nil, err
		}
	}

	report(PhaseCompleted, 0, 0)
	e.log.Info("migration completed", slog.String("source", cfg.SourceRoot), slog.Bool("dry_run", cfg.DryRun))
	return worktrees, nil
}

// validate checks every Phase-1 precondition from spec.md §4.5 before any
// destructive step runs: source repo shape (I11: no in-progress rebase or
// merge), git-on-PATH, target writability, free disk space (I10: at least
// 2x the source tree's size), and path collisions for the bare repo, the
// backup, and every individual worktree's eventual sibling directory.
func (e *Engine) validate(ctx context.Context, cfg Config) error {
	info, err := os.Stat(filepath.Join(cfg.SourceRoot, ".git"))
	if err != nil || !info.IsDir() {
		return gwterrors.ValidationFailed("source is not a non-bare git repository: " + cfg.SourceRoot)
	}

	if _, err := exec.LookPath("git"); err != nil {
		return gwterrors.ValidationFailed("git is not installed or not on PATH")
	}

	if reason, ok := inProgressRebaseOrMerge(cfg.SourceRoot); ok {
		return gwterrors.ValidationFailed("source repository has an in-progress " + reason + "; resolve or abort it before migrating")
	}

	target := filepath.Dir(cfg.SourceRoot)
	if err := checkWritable(target); err != nil {
		return gwterrors.ValidationFailed("migration target directory is not writable: " + target + ": " + err.Error())
	}

	sourceSize, err := dirSize(cfg.SourceRoot)
	if err != nil {
		return gwterrors.ValidationFailed("could not measure source repository size: " + err.Error())
	}
	available, err := availableDiskSpace(target)
	if err != nil {
		return gwterrors.ValidationFailed("could not determine free disk space at " + target + ": " + err.Error())
	}
	if available < sourceSize*2 {
		return gwterrors.ValidationFailed("insufficient free disk space at " + target +
			": need at least 2x the source size")
	}

	if _, err := os.Stat(cfg.bareRepoPath()); err == nil {
		return gwterrors.ValidationFailed("bare repo target already exists: " + cfg.bareRepoPath())
	}
	if !cfg.DryRun {
		if _, err := os.Stat(cfg.backupPath()); err == nil {
			return gwterrors.ValidationFailed("backup path already exists: " + cfg.backupPath())
		}
	}

	plan, err := e.planWorktrees(ctx, cfg)
	if err != nil {
		return err
	}
	for _, wt := range plan {
		if _, err := os.Stat(wt.TargetPath); err == nil {
			return gwterrors.ValidationFailed("worktree target already exists: " + wt.TargetPath)
		}
	}

	return nil
}

// inProgressRebaseOrMerge reports whether the repo at root has an
// unresolved rebase or merge in flight, per I11.
func inProgressRebaseOrMerge(root string) (string, bool) {
	gitDir := filepath.Join(root, ".git")
	if _, err := os.Stat(filepath.Join(gitDir, "MERGE_HEAD")); err == nil {
		return "merge", true
	}
	if _, err := os.Stat(filepath.Join(gitDir, "rebase-merge")); err == nil {
		return "rebase", true
	}
	if _, err := os.Stat(filepath.Join(gitDir, "rebase-apply")); err == nil {
		return "rebase", true
	}
	return "", false
}

// checkWritable verifies dir accepts new files, by creating and removing a
// throwaway probe file.
func checkWritable(dir string) error {
	probe, err := os.CreateTemp(dir, ".gwt-migration-writable-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

// dirSize sums the apparent size of every regular file under root.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// availableDiskSpace reports the free bytes on the filesystem hosting dir.
func availableDiskSpace(dir string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// backup copies the source tree aside before any destructive step runs.
func (e *Engine) backup(cfg Config) error {
	if err := copyTree(cfg.SourceRoot, cfg.backupPath(), true); err != nil {
		return gwterrors.MigrationIoError(cfg.backupPath(), err)
	}
	return nil
}

// createBareRepo clones (if a remote exists) or inits-and-pushes (if
// local-only) a bare repository as a sibling of the source, then copies git
// hooks across.
func (e *Engine) createBareRepo(ctx context.Context, cfg Config) error {
	bare := cfg.bareRepoPath()

	remoteURL, remoteErr := gitutil.Command(ctx, cfg.SourceRoot, nil, "remote", "get-url", "origin")
	remoteURL = strings.TrimSpace(remoteURL)
	if remoteErr != nil {
		remoteURL = ""
	}

	if remoteURL != "" {
		if _, err := gitutil.Command(ctx, "", nil, "clone", "--bare", "--", remoteURL, bare); err != nil {
			return gwterrors.BareRepoCreationFailed("git clone --bare failed", err)
		}
	} else {
		if _, err := gitutil.Command(ctx, "", nil, "init", "--bare", bare); err != nil {
			return gwterrors.BareRepoCreationFailed("git init --bare failed", err)
		}
		if _, err := gitutil.Command(ctx, cfg.SourceRoot, nil, "push", "--all", bare); err != nil {
			return gwterrors.BareRepoCreationFailed("git push --all failed", err)
		}
	}

	if err := copyGitHooks(filepath.Join(cfg.SourceRoot, ".git", "hooks"), filepath.Join(bare, "hooks")); err != nil {
		return gwterrors.MigrationIoError(bare, err)
	}
	return nil
}

// planWorktrees enumerates the main repository (always first, per the
// supplemented "main repo is itself a migrated worktree" rule) followed by
// any entries under .worktrees/.
func (e *Engine) planWorktrees(ctx context.Context, cfg Config) ([]WorktreeInfo, error) {
	if e.planComputed {
		return e.cachedPlan, nil
	}

	parent := filepath.Dir(cfg.SourceRoot)
	var worktrees []WorktreeInfo

	mainBranch, err := currentBranch(ctx, cfg.SourceRoot)
	if err == nil && mainBranch != "" {
		worktrees = append(worktrees, WorktreeInfo{
			Branch:     mainBranch,
			SourcePath: cfg.SourceRoot,
			TargetPath: filepath.Join(parent, worktree.SanitizeBranchName(mainBranch)),
			IsDirty:    isDirty(ctx, cfg.SourceRoot),
			IsMainRepo: true,
		})
	}

	legacyDir := filepath.Join(cfg.SourceRoot, ".worktrees")
	entries, err := os.ReadDir(legacyDir)
	if err != nil {
		if os.IsNotExist(err) {
			e.cachedPlan, e.planComputed = worktrees, true
			return worktrees, nil
		}
		return nil, gwterrors.MigrationIoError(legacyDir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		src := filepath.Join(legacyDir, entry.Name())
		branch, err := currentBranch(ctx, src)
		if err != nil || branch == "" {
			continue
		}
		worktrees = append(worktrees, WorktreeInfo{
			Branch:     branch,
			SourcePath: src,
			TargetPath: filepath.Join(parent, worktree.SanitizeBranchName(branch)),
			IsDirty:    isDirty(ctx, src),
		})
	}
	e.cachedPlan, e.planComputed = worktrees, true
	return worktrees, nil
}

// migrateWorktree re-registers one worktree against the new bare repo. Dirty
// worktrees are re-created with --no-checkout and their files copied across
// (so uncommitted changes survive); clean worktrees are simply re-checked-out.
func (e *Engine) migrateWorktree(ctx context.Context, cfg Config, wt WorktreeInfo) error {
	bare := cfg.bareRepoPath()

	if !wt.IsMainRepo {
		_, _ = gitutil.Command(ctx, cfg.SourceRoot, nil, "worktree", "remove", "--force", wt.SourcePath)
	}

	args := []string{"worktree", "add"}
	if wt.IsDirty {
		args = append(args, "--no-checkout")
	}
	args = append(args, wt.TargetPath, wt.Branch)
	if _, err := gitutil.Command(ctx, bare, nil, args...); err != nil {
		return gwterrors.WorktreeMigrationFailed(wt.Branch, "git worktree add failed", err)
	}

	if wt.IsDirty {
		if err := copyTree(wt.SourcePath, wt.TargetPath, false); err != nil {
			return gwterrors.WorktreeMigrationFailed(wt.Branch, "working file copy failed", err)
		}
	} else {
		if _, err := os.Stat(filepath.Join(wt.TargetPath, ".gitmodules")); err == nil {
			_, _ = gitutil.Command(ctx, wt.TargetPath, nil, "submodule", "update", "--init", "--recursive")
		}
	}

	if hasStash(ctx, wt.SourcePath) {
		e.log.Warn("stash entries were not migrated; apply manually", slog.String("path", wt.SourcePath), slog.String("branch", wt.Branch))
	}

	// Best-effort: upstream may not exist.
	_, _ = gitutil.Command(ctx, wt.TargetPath, nil, "branch", "--set-upstream-to", "origin/"+wt.Branch, wt.Branch)
	return nil
}

// cleanup removes the legacy .worktrees directory and the now-superseded
// source repository directory. Only called once every worktree has a
// confirmed new home.
func (e *Engine) cleanup(ctx context.Context, cfg Config) error {
	legacyDir := filepath.Join(cfg.SourceRoot, ".worktrees")
	if _, err := os.Stat(legacyDir); err == nil {
		if err := os.RemoveAll(legacyDir); err != nil {
			return gwterrors.MigrationIoError(legacyDir, err)
		}
	}
	if err := os.RemoveAll(cfg.SourceRoot); err != nil {
		return gwterrors.MigrationIoError(cfg.SourceRoot, err)
	}
	return nil
}

type marker struct {
	BareRepoName string `json:"bare_repo_name"`
	MigratedAt   string `json:"migrated_at"`
}

// writeMarker records the migration outcome in .gwt/project.json under the
// new bare repo's parent (the new project root).
func (e *Engine) writeMarker(cfg Config) error {
	root := filepath.Dir(cfg.bareRepoPath())
	gwtDir := filepath.Join(root, ".gwt")
	if err := os.MkdirAll(gwtDir, 0755); err != nil {
		return gwterrors.MigrationIoError(gwtDir, err)
	}
	m := marker{
		BareRepoName: filepath.Base(cfg.bareRepoPath()),
		MigratedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return gwterrors.MigrationIoError(gwtDir, err)
	}
	path := filepath.Join(gwtDir, "project.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return gwterrors.MigrationIoError(path, err)
	}
	return nil
}

// rollback undoes whatever CreateBareRepo/MigrateWorktrees/Cleanup had
// already done, restoring the source tree from the backup taken earlier.
// Validate and Backup failures never reach here: nothing destructive has
// happened at that point.
func (e *Engine) rollback(cfg Config) {
	e.log.Warn("migration failed, rolling back", slog.String("source", cfg.SourceRoot))

	for _, p := range e.migratedPaths {
		_ = os.RemoveAll(p)
	}
	if e.bareCreated {
		_ = os.RemoveAll(cfg.bareRepoPath())
	}

	if _, err := os.Stat(cfg.backupPath()); err == nil {
		_ = os.RemoveAll(cfg.SourceRoot)
		_ = os.Rename(cfg.backupPath(), cfg.SourceRoot)
	}
}

func currentBranch(ctx context.Context, dir string) (string, error) {
	out, err := gitutil.Command(ctx, dir, nil, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func isDirty(ctx context.Context, dir string) bool {
	out, err := gitutil.Command(ctx, dir, nil, "status", "--porcelain")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) != ""
}

func hasStash(ctx context.Context, dir string) bool {
	out, err := gitutil.Command(ctx, dir, nil, "stash", "list")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) != ""
}

// ErrNoMainBranch names the case of a repo whose HEAD branch cannot be
// resolved. No function in this package returns it: planWorktrees leaves
// such a repo or worktree out of the plan instead.
var ErrNoMainBranch = errors.New("no resolvable HEAD branch")
