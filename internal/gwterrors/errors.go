// Package gwterrors defines the stable error taxonomy shared by every
// component. Each kind is a distinct Go type so callers can resolve it with
// errors.As instead of matching on message text.
package gwterrors

import "fmt"

// GitNotFound is raised by the startup precheck when the git binary cannot
// be located on PATH.
type GitNotFound struct{}

func (e *GitNotFound) Error() string { return "git executable not found on PATH" }
func (e *GitNotFound) Kind() string  { return "GitNotFound" }

// RepositoryNotFound is raised when a path does not contain a git repository.
type RepositoryNotFound struct{ Path string }

func (e *RepositoryNotFound) Error() string { return fmt.Sprintf("repository not found: %s", e.Path) }
func (e *RepositoryNotFound) Kind() string  { return "RepositoryNotFound" }

// BranchNotFound is raised when an operation requires an existing branch
// that does not exist.
type BranchNotFound struct{ Name string }

func (e *BranchNotFound) Error() string { return fmt.Sprintf("branch not found: %s", e.Name) }
func (e *BranchNotFound) Kind() string  { return "BranchNotFound" }

// BranchAlreadyExists is raised when create(new_branch=true) targets a name
// that is already in use.
type BranchAlreadyExists struct{ Name string }

func (e *BranchAlreadyExists) Error() string {
	return fmt.Sprintf("branch already exists: %s", e.Name)
}
func (e *BranchAlreadyExists) Kind() string { return "BranchAlreadyExists" }

// WorktreeNotFound is raised when an operation targets a path with no
// registered worktree.
type WorktreeNotFound struct{ Path string }

func (e *WorktreeNotFound) Error() string { return fmt.Sprintf("worktree not found: %s", e.Path) }
func (e *WorktreeNotFound) Kind() string  { return "WorktreeNotFound" }

// PaneNotFound is raised when an operation targets a pane ID that
// PaneManager has no record of (already closed, or never launched).
type PaneNotFound struct{ ID string }

func (e *PaneNotFound) Error() string { return fmt.Sprintf("pane not found: %s", e.ID) }
func (e *PaneNotFound) Kind() string  { return "PaneNotFound" }

// WorktreeAlreadyExists is raised when the target path is already registered
// in `git worktree list`.
type WorktreeAlreadyExists struct{ Path string }

func (e *WorktreeAlreadyExists) Error() string {
	return fmt.Sprintf("worktree already exists: %s", e.Path)
}
func (e *WorktreeAlreadyExists) Kind() string { return "WorktreeAlreadyExists" }

// WorktreePathConflict is raised when the target path holds user data that is
// neither a registered worktree nor a stale git marker directory. Requires
// user action; never auto-deleted.
type WorktreePathConflict struct{ Path string }

func (e *WorktreePathConflict) Error() string {
	return fmt.Sprintf("path exists and is not a worktree: %s", e.Path)
}
func (e *WorktreePathConflict) Kind() string { return "WorktreePathConflict" }

// ProtectedBranch is raised by remove() against a protected branch without
// force.
type ProtectedBranch struct{ Branch string }

func (e *ProtectedBranch) Error() string {
	return fmt.Sprintf("branch %q is protected; use force to remove", e.Branch)
}
func (e *ProtectedBranch) Kind() string { return "ProtectedBranch" }

// UncommittedChanges is raised by remove() against a dirty worktree without
// force.
type UncommittedChanges struct{ Path string }

func (e *UncommittedChanges) Error() string {
	return fmt.Sprintf("worktree has uncommitted changes: %s", e.Path)
}
func (e *UncommittedChanges) Kind() string { return "UncommittedChanges" }

// GitOperationFailed wraps any failed git subprocess invocation, including
// stderr output for diagnostics.
type GitOperationFailed struct {
	Operation string
	Details   string
	Err       error
}

func (e *GitOperationFailed) Error() string {
	return fmt.Sprintf("git %s failed: %v: %s", e.Operation, e.Err, e.Details)
}
func (e *GitOperationFailed) Kind() string  { return "GitOperationFailed" }
func (e *GitOperationFailed) Unwrap() error { return e.Err }

// ConfigParseError is raised when a config file exists but cannot be parsed.
type ConfigParseError struct {
	Reason string
	Err    error
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("config parse error: %s: %v", e.Reason, e.Err)
}
func (e *ConfigParseError) Kind() string  { return "ConfigParseError" }
func (e *ConfigParseError) Unwrap() error { return e.Err }

// ConfigWriteError is raised when an atomic config write fails.
type ConfigWriteError struct {
	Reason string
	Err    error
}

func (e *ConfigWriteError) Error() string {
	return fmt.Sprintf("config write error: %s: %v", e.Reason, e.Err)
}
func (e *ConfigWriteError) Kind() string  { return "ConfigWriteError" }
func (e *ConfigWriteError) Unwrap() error { return e.Err }

// ConfigNotFound is raised by host-IDE hook setup when an expected config
// file is absent.
type ConfigNotFound struct {
	Path        string
	Remediation string
}

func (e *ConfigNotFound) Error() string {
	return fmt.Sprintf("config not found: %s (%s)", e.Path, e.Remediation)
}
func (e *ConfigNotFound) Kind() string { return "ConfigNotFound" }

// ServerBindFailed is raised when RpcServer.Start cannot bind its listener.
type ServerBindFailed struct {
	Address string
	Err     error
}

func (e *ServerBindFailed) Error() string {
	return fmt.Sprintf("failed to bind %s: %v", e.Address, e.Err)
}
func (e *ServerBindFailed) Kind() string  { return "ServerBindFailed" }
func (e *ServerBindFailed) Unwrap() error { return e.Err }

// MigrationError is the nested taxonomy for MigrationEngine failures.
type MigrationError struct {
	Phase  string
	Reason string
	Err    error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration failed in phase %s: %s: %v", e.Phase, e.Reason, e.Err)
}
func (e *MigrationError) Kind() string  { return "MigrationError" }
func (e *MigrationError) Unwrap() error { return e.Err }

// ValidationFailed is a MigrationError sub-kind raised during the Validate
// phase.
func ValidationFailed(reason string) *MigrationError {
	return &MigrationError{Phase: "Validating", Reason: reason}
}

// BareRepoCreationFailed is a MigrationError sub-kind raised during
// CreateBareRepo.
func BareRepoCreationFailed(reason string, err error) *MigrationError {
	return &MigrationError{Phase: "CreatingBareRepo", Reason: reason, Err: err}
}

// WorktreeMigrationFailed is a MigrationError sub-kind raised while migrating
// one worktree.
func WorktreeMigrationFailed(branch, reason string, err error) *MigrationError {
	return &MigrationError{Phase: "MigratingWorktrees", Reason: fmt.Sprintf("%s: %s", branch, reason), Err: err}
}

// MigrationIoError is a MigrationError sub-kind raised on filesystem failure.
func MigrationIoError(path string, err error) *MigrationError {
	return &MigrationError{Phase: "IoError", Reason: path, Err: err}
}

// PaneLimitReached is raised when PaneManager is at capacity.
type PaneLimitReached struct{ Max int }

func (e *PaneLimitReached) Error() string { return fmt.Sprintf("pane limit reached: max %d", e.Max) }
func (e *PaneLimitReached) Kind() string  { return "PaneLimitReached" }

// AgentLaunchFailed is raised when PaneManager.Launch cannot start a child
// process.
type AgentLaunchFailed struct {
	Name   string
	Reason string
	Err    error
}

func (e *AgentLaunchFailed) Error() string {
	return fmt.Sprintf("failed to launch agent %s: %s: %v", e.Name, e.Reason, e.Err)
}
func (e *AgentLaunchFailed) Kind() string  { return "AgentLaunchFailed" }
func (e *AgentLaunchFailed) Unwrap() error { return e.Err }

// Internal wraps an unexpected error that indicates a bug rather than an
// operational condition.
type Internal struct{ Msg string }

func (e *Internal) Error() string { return fmt.Sprintf("internal error: %s", e.Msg) }
func (e *Internal) Kind() string  { return "Internal" }

// SpawnFailed is raised by ProcessRunner.Spawn when the executable is
// missing or the PTY could not be allocated.
type SpawnFailed struct {
	Command string
	Reason  string
	Err     error
}

func (e *SpawnFailed) Error() string {
	return fmt.Sprintf("failed to spawn %s: %s: %v", e.Command, e.Reason, e.Err)
}
func (e *SpawnFailed) Kind() string  { return "SpawnFailed" }
func (e *SpawnFailed) Unwrap() error { return e.Err }

// WriteWouldBlock is a transient ProcessRunner.Write failure (pipe full).
type WriteWouldBlock struct{ Handle string }

func (e *WriteWouldBlock) Error() string { return fmt.Sprintf("write would block: %s", e.Handle) }
func (e *WriteWouldBlock) Kind() string  { return "WriteWouldBlock" }

// ChildGone is a terminal ProcessRunner.Write failure (child already exited).
type ChildGone struct{ Handle string }

func (e *ChildGone) Error() string { return fmt.Sprintf("child process gone: %s", e.Handle) }
func (e *ChildGone) Kind() string  { return "ChildGone" }
