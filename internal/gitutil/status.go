package gitutil

import (
	"context"
	"strings"
)

// ChangeEntry is one line of `git status --porcelain` decoded into a
// structured record, per the changed-files RPC method's response shape.
type ChangeEntry struct {
	Path     string `json:"path"`
	Status   string `json:"status"`
	IsStaged bool   `json:"is_staged"`
}

// statusCodeNames maps a porcelain v1 letter to the lowercase status name
// exposed over the wire.
var statusCodeNames = map[byte]string{
	'M': "modified",
	'A': "added",
	'D': "deleted",
	'R': "renamed",
	'C': "copied",
	'U': "unmerged",
	'?': "untracked",
	'!': "ignored",
	' ': "unmodified",
}

// WorkingTreeStatus runs `git status --porcelain` in dir and decodes each
// entry's index/worktree status columns into a ChangeEntry.
func WorkingTreeStatus(ctx context.Context, dir string) ([]ChangeEntry, error) {
	out, err := Command(ctx, dir, nil, "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	var entries []ChangeEntry
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 3 {
			continue
		}
		indexStatus := line[0]
		worktreeStatus := line[1]
		path := strings.TrimSpace(line[3:])

		// Renames report as "old -> new"; the wire format only needs the new path.
		if idx := strings.Index(path, " -> "); idx != -1 {
			path = path[idx+4:]
		}

		isStaged := indexStatus != ' ' && indexStatus != '?'
		status := worktreeStatus
		if isStaged {
			status = indexStatus
		}

		name, ok := statusCodeNames[status]
		if !ok {
			name = "unknown"
		}
		entries = append(entries, ChangeEntry{Path: path, Status: name, IsStaged: isStaged})
	}
	return entries, nil
}

// Diff runs `git diff` in dir and returns the raw unified diff text.
func Diff(ctx context.Context, dir string) (string, error) {
	return Command(ctx, dir, nil, "diff")
}
