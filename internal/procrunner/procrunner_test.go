package procrunner

import (
	"strings"
	"testing"
	"time"
)

func TestSpawnWriteReadExit(t *testing.T) {
	r := New()
	h, err := r.Spawn("test-1", "sh", []string{"-c", "read line; echo \"got: $line\""}, ".", nil, 24, 80)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer h.Close()

	if err := r.Write(h, []byte("hello\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var collected strings.Builder
	for time.Now().Before(deadline) {
		out, err := r.ReadNonblocking(h, 4096)
		if err != nil {
			break
		}
		collected.Write(out)
		if strings.Contains(collected.String(), "got: hello") {
			break
		}
	}
	if !strings.Contains(collected.String(), "got: hello") {
		t.Errorf("expected output to contain 'got: hello', got %q", collected.String())
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status, _ := r.PollStatus(h); status == StatusExited {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("process did not report exited status within timeout")
}

func TestSpawnNonexistentCommand(t *testing.T) {
	r := New()
	_, err := r.Spawn("test-2", "/no/such/binary-xyz", nil, ".", nil, 24, 80)
	if err == nil {
		t.Fatalf("expected SpawnFailed for nonexistent command")
	}
}

func TestKillGraceful(t *testing.T) {
	r := New()
	h, err := r.Spawn("test-3", "sleep", []string{"30"}, ".", nil, 24, 80)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer h.Close()

	if err := r.Kill(h, true); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status, _ := r.PollStatus(h); status != StatusRunning {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("process did not report terminated status within timeout")
}
