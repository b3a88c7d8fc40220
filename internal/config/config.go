// pattern: Imperative Shell

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/schmug/karkinos/internal/gitcmd"
)

const (
	// EnvPrefix prefixes every environment override, e.g. KARKINOS_STAGING_BRANCH.
	EnvPrefix = "KARKINOS_"
	// RepoFile is the optional per-repository override file.
	RepoFile = ".karkinos.yaml"

	maxConfigFileSize = 1024 * 1024
)

type Config struct {
	BaseBranch     string        `koanf:"base_branch" yaml:"base_branch"`
	Remote         string        `koanf:"remote" yaml:"remote"`
	WorktreeParent string        `koanf:"worktree_parent" yaml:"worktree_parent"`
	BranchKinds    []string      `koanf:"branch_kinds" yaml:"branch_kinds"`
	CacheTTL       time.Duration `koanf:"cache_ttl" yaml:"cache_ttl"`
	LogLevel       string        `koanf:"log_level" yaml:"log_level"`
	Staging        StagingConfig `koanf:"staging" yaml:"staging"`
	Agent          AgentConfig   `koanf:"agent" yaml:"agent"`
	Monitor        MonitorConfig `koanf:"monitor" yaml:"monitor"`
	Web            WebConfig     `koanf:"web" yaml:"web"`
	Hosting        HostingConfig `koanf:"hosting" yaml:"hosting"`
}

// StagingConfig enables the default <- integration <- worker chain.
type StagingConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Branch  string `koanf:"branch" yaml:"branch"`
}

type AgentConfig struct {
	// Command is the agent argv; the token "{task}" is replaced by the task.
	Command       []string `koanf:"command" yaml:"command"`
	UsePTY        bool     `koanf:"use_pty" yaml:"use_pty"`
	TranscriptDir string   `koanf:"transcript_dir" yaml:"transcript_dir"`
}

type MonitorConfig struct {
	Interval time.Duration `koanf:"interval" yaml:"interval"`
	Theme    string        `koanf:"theme" yaml:"theme"`
}

type WebConfig struct {
	Bind string `koanf:"bind" yaml:"bind"`
	Port int    `koanf:"port" yaml:"port"`
}

type HostingConfig struct {
	Binary    string        `koanf:"binary" yaml:"binary"`
	StatusTTL time.Duration `koanf:"status_ttl" yaml:"status_ttl"`
}

// Themes are the accepted catppuccin flavors.
var Themes = []string{"latte", "frappe", "macchiato", "mocha"}

func DefaultConfig() Config {
	return Config{
		Remote:      "origin",
		BranchKinds: []string{"feat", "fix", "refactor", "docs", "test", "chore", "perf"},
		CacheTTL:    2 * time.Second,
		LogLevel:    "info",
		Staging:     StagingConfig{Branch: "integration"},
		Monitor:     MonitorConfig{Interval: 5 * time.Second, Theme: "mocha"},
		Web:         WebConfig{Bind: "127.0.0.1", Port: 7337},
		Hosting:     HostingConfig{Binary: "gh", StatusTTL: 30 * time.Second},
	}
}

// DefaultDataDir is $XDG_CONFIG_HOME/karkinos, falling back to ~/.config/karkinos.
func DefaultDataDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "karkinos")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "karkinos")
	}
	return filepath.Join(home, ".config", "karkinos")
}

// Load reads <dataDir>/config.yaml, then <repoRoot>/.karkinos.yaml, then
// KARKINOS_* environment variables, each overriding the previous. Missing
// files are skipped. repoRoot may be empty.
func Load(dataDir, repoRoot string) (Config, error) {
	files := []string{filepath.Join(dataDir, "config.yaml")}
	if repoRoot != "" {
		files = append(files, filepath.Join(repoRoot, RepoFile))
	}
	return LoadFiles(files...)
}

// LoadFiles layers files in order and then the KARKINOS_* environment.
func LoadFiles(files ...string) (Config, error) {
	k := koanf.New(".")
	for key, val := range defaultValues() {
		if err := k.Set(key, val); err != nil {
			return DefaultConfig(), err
		}
	}

	for _, path := range files {
		content, err := readConfigFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return DefaultConfig(), err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return DefaultConfig(), fmt.Errorf("loading %s: %w", path, err)
		}
	}

	if err := loadEnv(k); err != nil {
		return DefaultConfig(), err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("decoding config: %w", err)
	}
	cfg.BranchKinds = splitList(cfg.BranchKinds)
	cfg.Agent.Command = splitFields(cfg.Agent.Command)

	if err := cfg.Validate(); err != nil {
		return DefaultConfig(), err
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	return io.ReadAll(f)
}

// loadEnv maps KARKINOS_STAGING_BRANCH to staging.branch and
// KARKINOS_CACHE_TTL to cache_ttl. Unknown variables are ignored.
func loadEnv(k *koanf.Koanf) error {
	known := knownKeys()
	return k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return envKey(s, known)
	}), nil)
}

func envKey(variable string, known map[string]bool) string {
	lower := strings.ToLower(strings.TrimPrefix(variable, EnvPrefix))
	if known[lower] {
		return lower
	}
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 2 && known[parts[0]+"."+parts[1]] {
		return parts[0] + "." + parts[1]
	}
	return ""
}

// Validate rejects values that would later be passed to git unchecked or
// that make timers spin.
func (c Config) Validate() error {
	if c.BaseBranch != "" {
		if err := gitcmd.ValidateBranchName(c.BaseBranch); err != nil {
			return fmt.Errorf("base_branch: %w", err)
		}
	}
	if err := gitcmd.ValidateRemote(c.Remote); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	if c.Staging.Enabled {
		if err := gitcmd.ValidateBranchName(c.Staging.Branch); err != nil {
			return fmt.Errorf("staging.branch: %w", err)
		}
	}
	if len(c.BranchKinds) == 0 {
		return errors.New("branch_kinds: at least one kind is required")
	}
	for _, kind := range c.BranchKinds {
		if err := gitcmd.ValidateBranchName(kind); err != nil || strings.Contains(kind, "/") {
			return fmt.Errorf("branch_kinds: invalid kind %q", kind)
		}
	}
	if c.CacheTTL < 0 {
		return errors.New("cache_ttl must not be negative")
	}
	if c.Monitor.Interval <= 0 {
		return errors.New("monitor.interval must be positive")
	}
	if !slices.Contains(Themes, c.Monitor.Theme) {
		return fmt.Errorf("monitor.theme %q is not one of %s", c.Monitor.Theme, strings.Join(Themes, ", "))
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port %d out of range", c.Web.Port)
	}
	if c.Hosting.Binary == "" {
		return errors.New("hosting.binary must not be empty")
	}
	return nil
}
