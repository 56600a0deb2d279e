// Package gitutil provides the single shared helper for shelling out to git
// and parsing its porcelain output. Every other package runs git through
// Command instead of calling os/exec directly.
package gitutil

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/akiojin/gwt-sub001/internal/gwterrors"
)

// Watchdog bounds any single git subprocess invocation per spec.md §5.
const Watchdog = 600 * time.Second

// Command runs a git subprocess with an explicit working directory and
// environment, under the watchdog timeout, and wraps failures as
// GitOperationFailed with stderr attached.
func Command(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, Watchdog)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), &gwterrors.GitOperationFailed{
			Operation: strings.Join(args, " "),
			Details:   strings.TrimSpace(string(out)),
			Err:       err,
		}
	}
	return string(out), nil
}

// IsRetryable reports whether an error's text matches a retryable signal per
// spec.md §7 propagation policy. Only operations the caller has declared
// idempotent should use this.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, signal := range []string{"connection refused", "timeout", "network", "temporary"} {
		if strings.Contains(msg, signal) {
			return true
		}
	}
	return false
}

// RetryBackoffs is the fixed backoff schedule for retryable git operations.
var RetryBackoffs = []time.Duration{2 * time.Second, 5 * time.Second}

// WithRetry runs fn up to len(RetryBackoffs)+1 times, retrying only when the
// returned error IsRetryable.
func WithRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) || attempt >= len(RetryBackoffs) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(RetryBackoffs[attempt]):
		}
	}
}
