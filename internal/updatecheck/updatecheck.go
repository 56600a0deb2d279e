// Package updatecheck implements UpdateChecker: a TTL-cached poll of GitHub
// Releases that reports whether a newer gwt version exists. It only
// detects and reports — the download/self-replace mechanic is an explicit
// Non-goal, unlike the reference corpus's upgrade package, which performs a
// full self-update. Scheduling is grounded on the teacher's briefs
// scheduler; the release-fetch/cache shape is grounded on the original
// source's update.rs.
package updatecheck

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/akiojin/gwt-sub001/internal/logging"
	"github.com/robfig/cron/v3"
)

// DefaultTTL mirrors the original source's 24h cache lifetime.
const DefaultTTL = 24 * time.Hour

// DefaultSchedule polls every 6 hours, per SPEC_FULL.md's cron wiring note.
const DefaultSchedule = "0 */6 * * *"

const requestTimeout = 10 * time.Second

// State is the reported update status, mirroring the original source's
// UpdateState enum.
type State string

const (
	StateUpToDate  State = "up_to_date"
	StateAvailable State = "available"
	StateFailed    State = "failed"
)

// Info is what one Check call (or the last scheduled one) reports.
type Info struct {
	State      State
	Current    string
	Latest     string
	ReleaseURL string
	AssetURL   string
	CheckedAt  time.Time
	Message    string
}

type cacheFile struct {
	CheckedAt     time.Time `json:"checked_at"`
	LatestVersion string    `json:"latest_version"`
	ReleaseURL    string    `json:"release_url"`
	AssetURL      string    `json:"asset_url"`
}

type githubRelease struct {
	TagName string        `json:"tag_name"`
	HTMLURL string        `json:"html_url"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Checker is UpdateChecker.
type Checker struct {
	currentVersion *semver.Version
	owner, repo    string
	ttl            time.Duration
	apiBaseURL     string
	cachePath      string
	client         *http.Client
	log            *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	entry  cron.EntryID
	latest *Info
}

// New constructs a Checker for owner/repo, caching its state at cachePath.
// currentVersion must be a valid semver string (a bare "v" prefix is
// tolerated); an unparseable version is treated as "0.0.0" so a checker
// built from a dev build still runs instead of failing outright.
func New(currentVersion, owner, repo, cachePath string) *Checker {
	v, err := semver.NewVersion(strings.TrimPrefix(currentVersion, "v"))
	if err != nil {
		v = semver.MustParse("0.0.0")
	}
	return &Checker{
		currentVersion: v,
		owner:          owner,
		repo:           repo,
		ttl:            DefaultTTL,
		apiBaseURL:     "https://api.github.com",
		cachePath:      cachePath,
		client:         &http.Client{Timeout: requestTimeout},
		log:            logging.WithComponent("updatecheck"),
	}
}

// Check performs one poll, honoring the TTL cache unless force is set. When
// force is not set, a failed fetch (network error, non-200 status, or
// undecodable JSON) falls back to the last cache entry (if any) rather than
// reporting Failed, so the tool keeps working when GitHub is unreachable. A
// forced check with a failed fetch, or a release tag that is not valid
// semver, reports Failed.
func (c *Checker) Check(ctx context.Context, force bool) *Info {
	now := time.Now().UTC()
	cache, cacheErr := readCache(c.cachePath)

	if !force && cacheErr == nil && now.Sub(cache.CheckedAt) < c.ttl {
		return c.recordLatest(c.infoFromCache(cache, now))
	}

	release, err := c.fetchLatestRelease(ctx)
	if err != nil {
		if !force && cacheErr == nil {
			return c.recordLatest(c.infoFromCache(cache, now))
		}
		return c.recordLatest(&Info{State: StateFailed, Current: c.currentVersion.String(), CheckedAt: now, Message: err.Error()})
	}

	latestVer, err := semver.NewVersion(strings.TrimPrefix(release.TagName, "v"))
	if err != nil {
		return c.recordLatest(&Info{State: StateFailed, Current: c.currentVersion.String(), CheckedAt: now, Message: fmt.Sprintf("unparseable release tag %q: %v", release.TagName, err)})
	}

	assetURL := c.matchingAssetURL(release)
	next := cacheFile{CheckedAt: now, LatestVersion: latestVer.String(), ReleaseURL: release.HTMLURL, AssetURL: assetURL}
	if err := writeCache(c.cachePath, next); err != nil {
		c.log.Warn("failed to persist update cache", slog.Any("error", err))
	}

	if latestVer.GreaterThan(c.currentVersion) {
		return c.recordLatest(&Info{
			State: StateAvailable, Current: c.currentVersion.String(), Latest: latestVer.String(),
			ReleaseURL: release.HTMLURL, AssetURL: assetURL, CheckedAt: now,
		})
	}
	return c.recordLatest(&Info{State: StateUpToDate, Current: c.currentVersion.String(), CheckedAt: now})
}

func (c *Checker) infoFromCache(cache cacheFile, now time.Time) *Info {
	if cache.LatestVersion == "" {
		return &Info{State: StateUpToDate, Current: c.currentVersion.String(), CheckedAt: cache.CheckedAt}
	}
	latestVer, err := semver.NewVersion(cache.LatestVersion)
	if err != nil {
		return &Info{State: StateUpToDate, Current: c.currentVersion.String(), CheckedAt: cache.CheckedAt}
	}
	if latestVer.GreaterThan(c.currentVersion) {
		return &Info{
			State: StateAvailable, Current: c.currentVersion.String(), Latest: latestVer.String(),
			ReleaseURL: cache.ReleaseURL, AssetURL: cache.AssetURL, CheckedAt: cache.CheckedAt,
		}
	}
	_ = now
	return &Info{State: StateUpToDate, Current: c.currentVersion.String(), CheckedAt: cache.CheckedAt}
}

func (c *Checker) recordLatest(info *Info) *Info {
	c.mu.Lock()
	c.latest = info
	c.mu.Unlock()
	return info
}

// Latest returns the most recently computed Info, or nil if Check has never run.
func (c *Checker) Latest() *Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// StartScheduled begins polling on a cron schedule (DefaultSchedule if
// empty), restructured from the teacher's briefs.Scheduler ticker-on-cron
// pattern.
func (c *Checker) StartScheduled(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}
	c.cron = cron.New()
	id, err := c.cron.AddFunc(schedule, func() { c.Check(ctx, false) })
	if err != nil {
		c.cron = nil
		return err
	}
	c.entry = id
	c.cron.Start()
	return nil
}

// Stop halts scheduled polling, if running.
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron == nil {
		return
	}
	stopCtx := c.cron.Stop()
	<-stopCtx.Done()
	c.cron = nil
}

func (c *Checker) fetchLatestRelease(ctx context.Context) (*githubRelease, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", strings.TrimRight(c.apiBaseURL, "/"), c.owner, c.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "gwt/"+c.currentVersion.String())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch latest release: status %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decode release JSON: %w", err)
	}
	return &release, nil
}

func (c *Checker) matchingAssetURL(release *githubRelease) string {
	name := expectedAssetName()
	if name == "" {
		return ""
	}
	for _, a := range release.Assets {
		if a.Name == name {
			return a.BrowserDownloadURL
		}
	}
	return ""
}

// expectedAssetName mirrors the original source's per-platform asset name
// table.
func expectedAssetName() string {
	switch runtime.GOOS + "/" + runtime.GOARCH {
	case "darwin/arm64":
		return "gwt-macos-aarch64"
	case "darwin/amd64":
		return "gwt-macos-x86_64"
	case "linux/arm64":
		return "gwt-linux-aarch64"
	case "linux/amd64":
		return "gwt-linux-x86_64"
	case "windows/amd64":
		return "gwt-windows-x86_64.exe"
	default:
		return ""
	}
}

func readCache(path string) (cacheFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cacheFile{}, err
	}
	var cache cacheFile
	if err := json.Unmarshal(data, &cache); err != nil {
		return cacheFile{}, err
	}
	return cache, nil
}

// writeCache atomically replaces the cache file, mirroring the
// tempfile-then-rename pattern ConfigStore uses for its settings writes.
func writeCache(path string, cache cacheFile) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".update-cache-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(cache); err != nil {
		tmp.Close()
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp cache file: %w", err)
	}
	return nil
}
