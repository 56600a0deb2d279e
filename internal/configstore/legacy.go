package configstore

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

func nowSuffix() string {
	return time.Now().Format("20060102-150405")
}

// legacyProfiles mirrors the pre-TOML profiles.yaml schema, kept only to
// decode the legacy file during one-shot migration.
type legacyProfiles struct {
	Version    int                         `yaml:"version"`
	Active     string                      `yaml:"active"`
	DefaultAI  string                      `yaml:"default_ai"`
	Profiles   map[string]legacyProfileDef `yaml:"profiles"`
}

type legacyProfileDef struct {
	Env         map[string]string `yaml:"env"`
	DisabledEnv []string          `yaml:"disabled_env"`
	Description string            `yaml:"description"`
	AI          string            `yaml:"ai"`
}

// autoMigrateLegacyFormats implements spec.md §4.3's auto-migration-on-read:
// profiles.yaml -> profiles.toml, and a JSON agent-history -> TOML. Both are
// non-destructive: the legacy file is removed only once the new file is
// confirmed written.
func (s *Store) autoMigrateLegacyFormats() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	if err := s.migrateProfilesYAML(home); err != nil {
		s.log.Warn("profiles.yaml migration failed", slog.String("error", err.Error()))
	}
	if err := s.migrateAgentHistoryJSON(home); err != nil {
		s.log.Warn("agent-history.json migration failed", slog.String("error", err.Error()))
	}
	return nil
}

func (s *Store) migrateProfilesYAML(home string) error {
	legacyPath := filepath.Join(home, ".gwt", "profiles.yaml")
	newPath := filepath.Join(home, ".gwt", "profiles.toml")

	if _, err := os.Stat(newPath); err == nil {
		return nil // already migrated
	}
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		return nil // nothing to migrate
	}

	var legacy legacyProfiles
	if err := yaml.Unmarshal(data, &legacy); err != nil {
		return err
	}

	if err := atomicWriteTOML(newPath, &legacy); err != nil {
		return err
	}

	s.log.Info("migrated profiles.yaml to profiles.toml", slog.String("new_path", newPath))
	// Legacy file dropped only after the new file is confirmed on disk.
	if _, err := os.Stat(newPath); err == nil {
		_ = os.Remove(legacyPath)
	}
	return nil
}

// agentHistory mirrors `~/.gwt/agent-history.toml`'s schema:
// repos.<path>.branches.<branch> = {agent_id, agent_label, updated_at}.
type agentHistory struct {
	Repos map[string]struct {
		Branches map[string]struct {
			AgentID    string `json:"agent_id" toml:"agent_id"`
			AgentLabel string `json:"agent_label" toml:"agent_label"`
			UpdatedAt  string `json:"updated_at" toml:"updated_at"`
		} `json:"branches" toml:"branches"`
	} `json:"repos" toml:"repos"`
}

func (s *Store) migrateAgentHistoryJSON(home string) error {
	legacyPath := filepath.Join(home, ".config", "gwt", "agent-history.json")
	newPath := filepath.Join(home, ".gwt", "agent-history.toml")

	if _, err := os.Stat(newPath); err == nil {
		return nil
	}
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		return nil
	}

	var history agentHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return err
	}
	if err := atomicWriteTOML(newPath, &history); err != nil {
		return err
	}

	s.log.Info("migrated agent-history.json to agent-history.toml", slog.String("new_path", newPath))
	if _, err := os.Stat(newPath); err == nil {
		_ = os.Remove(legacyPath)
	}
	return nil
}

// migrateGlobalPathIfNeeded copies ~/.config/gwt/config.toml to
// ~/.gwt/config.toml the first time the new path is consulted, per
// original_source's needs_global_path_migration/migrate_global_path_if_needed
// (SPEC_FULL.md §12.10). Non-destructive: only copies when the new path is
// absent.
func (s *Store) migrateGlobalPathIfNeeded() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	newPath := filepath.Join(home, ".gwt", "config.toml")
	legacyPath := filepath.Join(home, ".config", "gwt", "config.toml")

	if _, err := os.Stat(newPath); err == nil {
		return nil
	}
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(newPath, data, 0600); err != nil {
		return err
	}
	s.log.Info("migrated legacy global config path", slog.String("from", legacyPath), slog.String("to", newPath))
	return nil
}
