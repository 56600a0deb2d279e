// Package procrunner implements ProcessRunner: a thin wrapper over an OS
// pseudo-terminal, grounded on the PTY spawn/read/resize loop pattern from
// the reference corpus's agent-tui launcher.
package procrunner

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/akiojin/gwt-sub001/internal/gwterrors"
	"github.com/akiojin/gwt-sub001/internal/logging"
	"github.com/creack/pty"
)

// Status is the non-blocking exit state of a spawned child, per spec.md
// §4.1's poll_status.
type Status int

const (
	StatusRunning Status = iota
	StatusExited
	StatusSignaled
)

var bufPool = sync.Pool{New: func() any { return make([]byte, 32*1024) }}

// Handle represents one spawned PTY-backed child process.
type Handle struct {
	ID  string
	cmd *exec.Cmd
	pty *os.File

	waitOnce sync.Once
	waitDone chan struct{}

	mu         sync.Mutex
	status     Status
	exitCode   int
	signal     int
	cachedExit bool
}

// Runner is the process-wide ProcessRunner singleton.
type Runner struct {
	log *slog.Logger
}

// New constructs a Runner.
func New() *Runner {
	return &Runner{log: logging.WithComponent("procrunner")}
}

// Spawn allocates a PTY pair, launches command with the given argv/cwd/env,
// and sets the initial window size.
func (r *Runner) Spawn(id, command string, args []string, cwd string, env []string, rows, cols int) (*Handle, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = cwd
	if env != nil {
		cmd.Env = env
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, &gwterrors.SpawnFailed{Command: command, Reason: "pty allocation or exec failed", Err: err}
	}

	h := &Handle{ID: id, cmd: cmd, pty: ptmx, status: StatusRunning, waitDone: make(chan struct{})}
	h.startWait()
	r.log.Info("spawned process", slog.String("id", id), slog.String("command", command))
	return h, nil
}

// startWait launches the single goroutine allowed to call h.cmd.Wait(), per
// exec.Cmd's "Wait must be called at most once" contract. It resolves the
// child's exit status once and caches it; PollStatus only ever reads that
// cache, never calls Wait itself.
func (h *Handle) startWait() {
	h.waitOnce.Do(func() {
		go func() {
			err := h.cmd.Wait()

			h.mu.Lock()
			defer h.mu.Unlock()
			var exitErr *exec.ExitError
			switch {
			case err == nil:
				h.status = StatusExited
				h.exitCode = 0
			case errors.As(err, &exitErr):
				if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
					h.status = StatusSignaled
					h.signal = int(ws.Signal())
				} else {
					h.status = StatusExited
					h.exitCode = exitErr.ExitCode()
				}
			default:
				h.status = StatusExited
				h.exitCode = -1
			}
			h.cachedExit = true
			close(h.waitDone)
		}()
	})
}

// Write pushes raw bytes to the PTY master.
func (r *Runner) Write(h *Handle, data []byte) error {
	h.mu.Lock()
	exited := h.cachedExit
	h.mu.Unlock()
	if exited {
		return &gwterrors.ChildGone{Handle: h.ID}
	}

	_, err := h.pty.Write(data)
	if err != nil {
		if err == io.ErrClosedPipe {
			return &gwterrors.ChildGone{Handle: h.ID}
		}
		return &gwterrors.WriteWouldBlock{Handle: h.ID}
	}
	return nil
}

// ReadNonblocking drains up to maxBytes from the master without blocking
// beyond the underlying read call. Callers typically invoke this from a
// dedicated per-handle goroutine (spec.md §5's "blocking reads on dedicated
// per-pane threads"); this method performs one read and returns.
func (r *Runner) ReadNonblocking(h *Handle, maxBytes int) ([]byte, error) {
	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)
	if maxBytes > len(buf) {
		maxBytes = len(buf)
	}

	n, err := h.pty.Read(buf[:maxBytes])
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, nil
}

// Resize adjusts the PTY window, silently no-oping if the child has exited.
func (r *Runner) Resize(h *Handle, rows, cols int) {
	h.mu.Lock()
	exited := h.cachedExit
	h.mu.Unlock()
	if exited {
		return
	}
	_ = pty.Setsize(h.pty, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// PollStatus performs a non-blocking read of the child's exit state. The
// single goroutine started by Spawn is the only caller of cmd.Wait(); this
// just checks whether it has resolved yet.
func (r *Runner) PollStatus(h *Handle) (Status, int) {
	select {
	case <-h.waitDone:
	default:
		return StatusRunning, 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusSignaled {
		return h.status, h.signal
	}
	return h.status, h.exitCode
}

// Kill sends terminate then, after 500ms, force-kills if still alive.
func (r *Runner) Kill(h *Handle, graceful bool) error {
	if h.cmd.Process == nil {
		return nil
	}
	if graceful {
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
		time.Sleep(500 * time.Millisecond)
		if status, _ := r.PollStatus(h); status != StatusRunning {
			return nil
		}
	}
	return h.cmd.Process.Kill()
}

// Close releases the PTY file descriptor.
func (h *Handle) Close() error {
	return h.pty.Close()
}
