// Package configstore implements ConfigStore: layered TOML configuration
// with atomic writes, GWT_ environment overrides, and non-destructive
// auto-migration from legacy YAML/JSON formats (spec.md §4.3).
package configstore

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/akiojin/gwt-sub001/internal/gwterrors"
	"github.com/akiojin/gwt-sub001/internal/logging"
	"github.com/akiojin/gwt-sub001/internal/worktree"
)

// WebSettings holds the embedded RpcServer bind configuration.
type WebSettings struct {
	Port    uint16 `toml:"port"`
	Address string `toml:"address"`
	CORS    bool   `toml:"cors"`
}

// AgentSettings holds per-agent-kind launcher configuration.
type AgentSettings struct {
	DefaultAgent    string `toml:"default_agent"`
	ClaudePath      string `toml:"claude_path"`
	CodexPath       string `toml:"codex_path"`
	GeminiPath      string `toml:"gemini_path"`
	AutoInstallDeps bool   `toml:"auto_install_deps"`
}

// Settings is the top-level TOML schema from spec.md §6.
type Settings struct {
	ProtectedBranches []string      `toml:"protected_branches"`
	DefaultBaseBranch string        `toml:"default_base_branch"`
	WorktreeRoot      string        `toml:"worktree_root"`
	Debug             bool          `toml:"debug"`
	LogDir            string        `toml:"log_dir"`
	LogRetentionDays  uint32        `toml:"log_retention_days"`
	Web               WebSettings   `toml:"web"`
	Agent             AgentSettings `toml:"agent"`
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() *Settings {
	return &Settings{
		ProtectedBranches: append([]string(nil), worktree.DefaultProtectedBranches...),
		DefaultBaseBranch: "main",
		WorktreeRoot:      ".worktrees",
		LogRetentionDays:  7,
		Web: WebSettings{
			Port:    8080,
			Address: "127.0.0.1",
			CORS:    true,
		},
	}
}

// Store owns the layered lookup, atomic writes, and migration for one
// repository root.
type Store struct {
	repoRoot string
	log      *slog.Logger
}

// New constructs a Store for the given repository root.
func New(repoRoot string) *Store {
	return &Store{repoRoot: repoRoot, log: logging.WithComponent("configstore")}
}

// candidatePaths returns the layered lookup order from spec.md §4.3, highest
// precedence first.
func (s *Store) candidatePaths() []string {
	home, _ := os.UserHomeDir()
	xdg := os.Getenv("XDG_CONFIG_HOME")
	if xdg == "" && home != "" {
		xdg = filepath.Join(home, ".config")
	}
	var paths []string
	if s.repoRoot != "" {
		paths = append(paths, filepath.Join(s.repoRoot, ".gwt.toml"))
		paths = append(paths, filepath.Join(s.repoRoot, ".gwt", "config.toml"))
	}
	if home != "" {
		paths = append(paths, filepath.Join(home, ".gwt", "config.toml"))
	}
	if xdg != "" {
		paths = append(paths, filepath.Join(xdg, "gwt", "config.toml"))
	}
	return paths
}

// findConfigFile returns the first candidate path that exists, or "" if none
// do.
func (s *Store) findConfigFile() string {
	for _, p := range s.candidatePaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load resolves the layered config, applies GWT_ environment overrides, and
// returns the merged Settings. Absent files yield defaults; unparseable
// files are renamed aside and defaults are returned (never an error to the
// caller, per §4.3's "every read tolerates... parse errors").
func (s *Store) Load() *Settings {
	if err := s.migrateGlobalPathIfNeeded(); err != nil {
		s.log.Warn("global path migration failed", slog.String("error", err.Error()))
	}
	if err := s.autoMigrateLegacyFormats(); err != nil {
		s.log.Warn("legacy format migration failed", slog.String("error", err.Error()))
	}

	settings := DefaultSettings()

	if path := s.findConfigFile(); path != "" {
		var loaded Settings
		if _, err := toml.DecodeFile(path, &loaded); err != nil {
			broken := path + ".broken." + nowSuffix()
			_ = os.Rename(path, broken)
			s.log.Warn("config parse error, quarantined broken file",
				slog.String("path", path), slog.String("broken_as", broken), slog.String("error", err.Error()))
		} else {
			mergeSettings(settings, &loaded)
		}
	}

	applyEnvOverrides(settings)
	return settings
}

// mergeSettings overlays non-zero fields of loaded onto base.
func mergeSettings(base, loaded *Settings) {
	if len(loaded.ProtectedBranches) > 0 {
		base.ProtectedBranches = loaded.ProtectedBranches
	}
	if loaded.DefaultBaseBranch != "" {
		base.DefaultBaseBranch = loaded.DefaultBaseBranch
	}
	if loaded.WorktreeRoot != "" {
		base.WorktreeRoot = loaded.WorktreeRoot
	}
	base.Debug = base.Debug || loaded.Debug
	if loaded.LogDir != "" {
		base.LogDir = loaded.LogDir
	}
	if loaded.LogRetentionDays > 0 {
		base.LogRetentionDays = loaded.LogRetentionDays
	}
	if loaded.Web.Port > 0 {
		base.Web.Port = loaded.Web.Port
	}
	if loaded.Web.Address != "" {
		base.Web.Address = loaded.Web.Address
	}
	base.Web.CORS = loaded.Web.CORS
	if loaded.Agent.DefaultAgent != "" {
		base.Agent.DefaultAgent = loaded.Agent.DefaultAgent
	}
	if loaded.Agent.ClaudePath != "" {
		base.Agent.ClaudePath = loaded.Agent.ClaudePath
	}
	if loaded.Agent.CodexPath != "" {
		base.Agent.CodexPath = loaded.Agent.CodexPath
	}
	if loaded.Agent.GeminiPath != "" {
		base.Agent.GeminiPath = loaded.Agent.GeminiPath
	}
	base.Agent.AutoInstallDeps = loaded.Agent.AutoInstallDeps
}

// applyEnvOverrides applies GWT_ prefixed environment variables, with
// GWT_AGENT_AUTO_INSTALL_DEPS special-cased to the recognized boolean forms.
func applyEnvOverrides(s *Settings) {
	if v, ok := os.LookupEnv("GWT_DEBUG"); ok {
		if b, err := parseEnvBool(v); err == nil {
			s.Debug = b
		}
	}
	if v, ok := os.LookupEnv("GWT_DEFAULT_BASE_BRANCH"); ok && v != "" {
		s.DefaultBaseBranch = v
	}
	if v, ok := os.LookupEnv("GWT_WORKTREE_ROOT"); ok && v != "" {
		s.WorktreeRoot = v
	}
	if v, ok := os.LookupEnv("GWT_LOG_DIR"); ok && v != "" {
		s.LogDir = v
	}
	if v, ok := os.LookupEnv("GWT_WEB_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.Web.Port = uint16(n)
		}
	}
	if v, ok := os.LookupEnv("GWT_WEB_ADDRESS"); ok && v != "" {
		s.Web.Address = v
	}
	if v, ok := os.LookupEnv("GWT_AGENT_AUTO_INSTALL_DEPS"); ok {
		if b, err := parseEnvBool(v); err == nil {
			s.Agent.AutoInstallDeps = b
		}
	}
}

// parseEnvBool accepts the recognized boolean forms from spec.md §4.3:
// {1|true|yes|on, 0|false|no|off}, case-insensitive.
func parseEnvBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, &gwterrors.ConfigParseError{Reason: "unrecognized boolean: " + v}
	}
}

// Save writes settings atomically to path: serialize to a sibling .tmp file,
// fsync, then rename over the target (P4 — never a truncated file).
func (s *Store) Save(path string, settings *Settings) error {
	return atomicWriteTOML(path, settings)
}

// SaveGlobal writes settings to the primary global config path
// ($HOME/.gwt/config.toml).
func (s *Store) SaveGlobal(settings *Settings) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return &gwterrors.ConfigWriteError{Reason: "cannot resolve home directory", Err: err}
	}
	return s.Save(filepath.Join(home, ".gwt", "config.toml"), settings)
}

// CreateDefault writes DefaultSettings() to path if it doesn't already exist.
func (s *Store) CreateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return atomicWriteTOML(path, DefaultSettings())
}

// IsBranchProtected reports whether branch is in settings' protected list.
func (s *Settings) IsBranchProtected(branch string) bool {
	for _, p := range s.ProtectedBranches {
		if p == branch {
			return true
		}
	}
	return false
}

func atomicWriteTOML(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &gwterrors.ConfigWriteError{Reason: "mkdir failed", Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &gwterrors.ConfigWriteError{Reason: "tempfile create failed", Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := toml.NewEncoder(tmp).Encode(v); err != nil {
		tmp.Close()
		return &gwterrors.ConfigWriteError{Reason: "encode failed", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &gwterrors.ConfigWriteError{Reason: "fsync failed", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &gwterrors.ConfigWriteError{Reason: "close failed", Err: err}
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return &gwterrors.ConfigWriteError{Reason: "chmod failed", Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &gwterrors.ConfigWriteError{Reason: "rename failed", Err: err}
	}
	return nil
}
