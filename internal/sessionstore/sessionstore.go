// Package sessionstore persists orchestrator Sessions and Tasks to SQLite
// for crash recovery, grounded on the teacher's autopilot state store
// (migrate-on-open, upsert-via-ON CONFLICT, NULL-safe scanning) and
// repurposed from PR/issue tracking to the Session/Task data model in
// spec.md §3.
package sessionstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/akiojin/gwt-sub001/internal/orchestrator"
)

// Store is a SQLite-backed persistence layer for Sessions and their Tasks.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and runs
// migrations. Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sessionstore: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		return nil, fmt.Errorf("set sessionstore pragmas: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("sessionstore migration failed: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			working_directory TEXT NOT NULL DEFAULT '',
			user_request TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			phase TEXT NOT NULL DEFAULT '',
			llm_call_count INTEGER NOT NULL DEFAULT 0,
			estimated_tokens INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			session_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			dependencies TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			pane_id TEXT NOT NULL DEFAULT '',
			branch TEXT NOT NULL DEFAULT '',
			worktree_path TEXT NOT NULL DEFAULT '',
			started_at DATETIME,
			completed_at DATETIME,
			PRIMARY KEY (session_id, task_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveSession upserts a session's own row (not its tasks — see SaveTask).
func (s *Store) SaveSession(sess *orchestrator.Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (session_id, working_directory, user_request, status, phase, llm_call_count, estimated_tokens, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET
			working_directory = excluded.working_directory,
			user_request = excluded.user_request,
			status = excluded.status,
			phase = excluded.phase,
			llm_call_count = excluded.llm_call_count,
			estimated_tokens = excluded.estimated_tokens,
			updated_at = CURRENT_TIMESTAMP
	`, sess.SessionID, sess.WorkingDirectory, sess.UserRequest, string(sess.Status), string(sess.Phase), sess.LLMCallCount, sess.EstimatedTokens)
	return err
}

// SaveTask upserts one task row belonging to sessionID.
func (s *Store) SaveTask(sessionID string, t *orchestrator.Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (session_id, task_id, name, description, status, dependencies, retry_count, pane_id, branch, worktree_path, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, task_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			status = excluded.status,
			dependencies = excluded.dependencies,
			retry_count = excluded.retry_count,
			pane_id = excluded.pane_id,
			branch = excluded.branch,
			worktree_path = excluded.worktree_path,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`,
		sessionID, t.TaskID, t.Name, t.Description, string(t.Status), encodeDeps(t.Dependencies),
		t.RetryCount, t.PaneID, t.Branch, t.WorktreePath, nullTime(t.StartedAt), nullTime(t.CompletedAt),
	)
	return err
}

// LoadSessionSummary retrieves a session's own row without its tasks, or
// (nil, nil) if it doesn't exist.
func (s *Store) LoadSessionSummary(sessionID string) (*SessionSummary, error) {
	row := s.db.QueryRow(`
		SELECT session_id, working_directory, user_request, status, phase, llm_call_count, estimated_tokens
		FROM sessions WHERE session_id = ?
	`, sessionID)

	var sum SessionSummary
	err := row.Scan(&sum.SessionID, &sum.WorkingDirectory, &sum.UserRequest, &sum.Status, &sum.Phase, &sum.LLMCallCount, &sum.EstimatedTokens)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// LoadTasks retrieves every task row for sessionID.
func (s *Store) LoadTasks(sessionID string) ([]*TaskRecord, error) {
	rows, err := s.db.Query(`
		SELECT task_id, name, description, status, dependencies, retry_count, pane_id, branch, worktree_path, started_at, completed_at
		FROM tasks WHERE session_id = ?
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var deps string
		var started, completed sql.NullTime
		if err := rows.Scan(&rec.TaskID, &rec.Name, &rec.Description, &rec.Status, &deps, &rec.RetryCount, &rec.PaneID, &rec.Branch, &rec.WorktreePath, &started, &completed); err != nil {
			return nil, err
		}
		rec.Dependencies = decodeDeps(deps)
		if started.Valid {
			rec.StartedAt = started.Time
		}
		if completed.Valid {
			rec.CompletedAt = completed.Time
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// SessionSummary is the session-level row, independent of its task rows.
type SessionSummary struct {
	SessionID        string
	WorkingDirectory string
	UserRequest      string
	Status           string
	Phase            string
	LLMCallCount     int
	EstimatedTokens  int
}

// TaskRecord is one persisted task row.
type TaskRecord struct {
	TaskID       string
	Name         string
	Description  string
	Status       string
	Dependencies []string
	RetryCount   int
	PaneID       string
	Branch       string
	WorktreePath string
	StartedAt    time.Time
	CompletedAt  time.Time
}

func encodeDeps(deps map[string]struct{}) string {
	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	return strings.Join(ids, ",")
}

func decodeDeps(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
