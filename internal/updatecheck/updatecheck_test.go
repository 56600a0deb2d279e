package updatecheck

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

func newTestChecker(t *testing.T, handler http.HandlerFunc) (*Checker, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New("1.2.0", "akiojin", "gwt", filepath.Join(t.TempDir(), "update-cache.json"))
	c.apiBaseURL = srv.URL
	return c, srv
}

func releaseJSON(tag string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(githubRelease{TagName: tag, HTMLURL: "https://example.com/releases/" + tag})
	}
}

func TestCheckReportsAvailableForNewerRelease(t *testing.T) {
	c, _ := newTestChecker(t, releaseJSON("v2.0.0"))
	info := c.Check(context.Background(), true)
	if info.State != StateAvailable {
		t.Fatalf("State = %s, want %s (%+v)", info.State, StateAvailable, info)
	}
	if info.Latest != "2.0.0" {
		t.Errorf("Latest = %q, want 2.0.0", info.Latest)
	}
}

func TestCheckReportsUpToDateForOlderRelease(t *testing.T) {
	c, _ := newTestChecker(t, releaseJSON("v1.0.0"))
	info := c.Check(context.Background(), true)
	if info.State != StateUpToDate {
		t.Fatalf("State = %s, want %s", info.State, StateUpToDate)
	}
}

// Within the TTL, a second Check must not hit the network again: the
// handler counts requests, so a count of 1 after two successful calls
// proves the cache was used.
func TestCheckUsesFreshCacheWithoutNetwork(t *testing.T) {
	calls := 0
	c, _ := newTestChecker(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		releaseJSON("v9.9.9")(w, r)
	})

	first := c.Check(context.Background(), false)
	if first.State != StateAvailable {
		t.Fatalf("first check: State = %s, want %s", first.State, StateAvailable)
	}

	second := c.Check(context.Background(), false)
	if calls != 1 {
		t.Errorf("expected exactly 1 network call across both checks, got %d", calls)
	}
	if second.State != StateAvailable || second.Latest != "9.9.9" {
		t.Errorf("second check should reuse cached Available result, got %+v", second)
	}
}

// force=true bypasses the cache even when it's fresh.
func TestForceCheckBypassesCache(t *testing.T) {
	calls := 0
	c, _ := newTestChecker(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		releaseJSON("v1.5.0")(w, r)
	})

	c.Check(context.Background(), false)
	c.Check(context.Background(), true)
	if calls != 2 {
		t.Errorf("expected 2 network calls (fresh cache bypassed by force), got %d", calls)
	}
}

// A network failure with no prior cache reports Failed rather than panicking.
func TestCheckFailsGracefullyWithNoCache(t *testing.T) {
	c := New("1.0.0", "akiojin", "gwt", filepath.Join(t.TempDir(), "nonexistent", "update-cache.json"))
	c.apiBaseURL = "http://127.0.0.1:0"
	info := c.Check(context.Background(), true)
	if info.State != StateFailed {
		t.Fatalf("State = %s, want %s", info.State, StateFailed)
	}
}

func TestExpiredCacheTriggersRefetch(t *testing.T) {
	calls := 0
	c, _ := newTestChecker(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		releaseJSON("v3.0.0")(w, r)
	})
	c.ttl = 10 * time.Millisecond

	c.Check(context.Background(), false)
	time.Sleep(20 * time.Millisecond)
	c.Check(context.Background(), false)

	if calls != 2 {
		t.Errorf("expected cache to expire and trigger a second fetch, got %d calls", calls)
	}
}
