// Package config loads waypoints technology-profile configuration.
//
// Profiles come from wp-config.json (project root, then ~/.claude/, then
// the embedded defaults) and may be pinned via ~/.claude/wp-override.json.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

//go:embed builtin/wp-config.json
var builtinConfig []byte

// ConfigFileName is the profile configuration file name.
const ConfigFileName = "wp-config.json"

// OverrideFileName is the user override file name under ~/.claude/.
const OverrideFileName = "wp-override.json"

// Commands holds the shell commands for a profile.
type Commands struct {
	Compile     string `json:"compile" mapstructure:"compile"`
	TestCompile string `json:"testCompile" mapstructure:"testcompile"`
	Test        string `json:"test" mapstructure:"test"`
}

// Detection describes how a profile is recognized in a project tree.
type Detection struct {
	Files    []string `json:"files" mapstructure:"files"`
	Patterns []string `json:"patterns" mapstructure:"patterns"`
}

// SourcePatterns classifies project files into main, test, and config
// sources using doublestar globs.
type SourcePatterns struct {
	Main   []string `json:"main" mapstructure:"main"`
	Test   []string `json:"test" mapstructure:"test"`
	Config []string `json:"config" mapstructure:"config"`
}

// Profile is one technology profile.
type Profile struct {
	ID              string         `json:"-" mapstructure:"-"`
	Name            string         `json:"name" mapstructure:"name"`
	Detection       Detection      `json:"detection" mapstructure:"detection"`
	Commands        Commands       `json:"commands" mapstructure:"commands"`
	SourcePatterns  SourcePatterns `json:"sourcePatterns" mapstructure:"sourcepatterns"`
	TodoPlaceholder string         `json:"todoPlaceholder" mapstructure:"todoplaceholder"`
}

// Config is the root of wp-config.json.
type Config struct {
	Profiles map[string]Profile `json:"profiles" mapstructure:"profiles"`
}

// Override is the root of wp-override.json.
type Override struct {
	ActiveProfile string `json:"activeProfile" mapstructure:"activeprofile"`
	ReviewerModel string `json:"reviewerModel" mapstructure:"reviewermodel"`
}

// commandPlaceholders are slots a profile command may carry for
// fine-grained invocations waypoints does not perform. Commands still
// containing one are skipped rather than run.
var commandPlaceholders = []string{"{file}", "{testClass}", "{testName}", "{testFile}"}

// HasPlaceholder reports whether cmd contains an unreplaced placeholder.
func HasPlaceholder(cmd string) bool {
	for _, p := range commandPlaceholders {
		if strings.Contains(cmd, p) {
			return true
		}
	}
	return false
}

// ProfileIDs returns profile ids in deterministic (sorted) order. This
// is the iteration order used for detection tie-breaking.
func (c *Config) ProfileIDs() []string {
	ids := make([]string, 0, len(c.Profiles))
	for id := range c.Profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Load reads the profile configuration for a project. Search order:
// <projectDir>/wp-config.json, <claudeDir>/wp-config.json, embedded
// defaults. A missing file falls through silently; a present but
// malformed one is an error.
func Load(projectDir string) (*Config, error) {
	candidates := []string{
		filepath.Join(projectDir, ConfigFileName),
	}
	if dir, err := ClaudeConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, ConfigFileName))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		return cfg, nil
	}

	cfg, err := parseConfig(builtinConfig)
	if err != nil {
		return nil, fmt.Errorf("parse builtin config: %w", err)
	}
	return cfg, nil
}

// LoadOverride reads ~/.claude/wp-override.json. A missing file returns
// an empty override.
func LoadOverride() (*Override, error) {
	dir, err := ClaudeConfigDir()
	if err != nil {
		return &Override{}, nil
	}
	return loadOverrideFile(filepath.Join(dir, OverrideFileName))
}

func loadOverrideFile(path string) (*Override, error) {
	if _, err := os.Stat(path); err != nil {
		return &Override{}, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read override: %w", err)
	}
	var o Override
	if err := v.Unmarshal(&o); err != nil {
		return nil, fmt.Errorf("parse override: %w", err)
	}
	return &o, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("no profiles defined")
	}
	for id, p := range cfg.Profiles {
		p.ID = id
		cfg.Profiles[id] = p
	}
	return &cfg, nil
}

// ClaudeConfigDir returns $CLAUDE_CONFIG_DIR or ~/.claude.
func ClaudeConfigDir() (string, error) {
	if dir := os.Getenv("CLAUDE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".claude"), nil
}

// TmpBase returns the base directory for workflow state directories.
func TmpBase() (string, error) {
	dir, err := ClaudeConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tmp"), nil
}

// KnowledgeRoot returns the root of the permanent knowledge store.
func KnowledgeRoot() (string, error) {
	dir, err := ClaudeConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "waypoints", "knowledge"), nil
}
