// pattern: Imperative Shell

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/schmug/karkinos/internal/agent"
	"github.com/schmug/karkinos/internal/config"
	"github.com/schmug/karkinos/internal/engine"
	"github.com/schmug/karkinos/internal/gitcmd"
	"github.com/schmug/karkinos/internal/hosting"
	"github.com/schmug/karkinos/internal/instance"
	"github.com/schmug/karkinos/internal/logging"
	"github.com/schmug/karkinos/internal/metrics"
	"github.com/schmug/karkinos/internal/repo"
	"github.com/schmug/karkinos/internal/tui"
)

// Globals are the options accepted before the command name.
type Globals struct {
	// ConfigDir holds config.yaml and karkinos.log.
	ConfigDir string
	// RepoDir is where repository discovery starts; empty means the
	// working directory.
	RepoDir  string
	LogLevel string
}

// ResolveDataDir returns the directory for config.yaml and the log file.
// If configDir is specified, uses that; otherwise ~/.config/karkinos.
func ResolveDataDir(configDir string) string {
	if configDir != "" {
		return configDir
	}
	return config.DefaultDataDir()
}

// Runtime is one repository wired up: configuration, logging, metrics and
// the engine every command goes through.
type Runtime struct {
	Repo    repo.Info
	Config  config.Config
	DataDir string
	Logs    *logging.Manager
	Metrics *metrics.Metrics
	Runner  *gitcmd.Runner
	Engine  *engine.Engine
}

// Open discovers the repository, loads configuration for it and builds the
// engine. console, when set, also receives warnings and errors in plain
// text. Close releases the log file.
func Open(g Globals, console io.Writer) (*Runtime, error) {
	start := g.RepoDir
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		start = wd
	}
	info, err := repo.Discover(start)
	if err != nil {
		return nil, err
	}

	dataDir := ResolveDataDir(g.ConfigDir)
	cfg, err := config.Load(dataDir, info.Root)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	logs, err := logging.NewManager(logging.Config{
		FilePath:       filepath.Join(dataDir, "karkinos.log"),
		MaxSizeMB:      10,
		MaxBackups:     3,
		MaxAgeDays:     7,
		ChannelBufSize: 1000,
		Level:          cfg.LogLevel,
		Console:        console,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	parent := cfg.WorktreeParent
	if parent != "" && !filepath.IsAbs(parent) {
		parent = filepath.Join(info.Root, parent)
	}

	m := metrics.New()
	runner := gitcmd.NewRunner(logs.For("git"))
	eng := engine.New(runner, engine.Options{
		Root:              info.Root,
		RepoName:          info.Name,
		Parent:            parent,
		Remote:            cfg.Remote,
		BaseBranch:        cfg.BaseBranch,
		BranchKinds:       cfg.BranchKinds,
		Staging:           cfg.Staging.Enabled,
		IntegrationBranch: cfg.Staging.Branch,
		CacheTTL:          cfg.CacheTTL,
	}, logs)
	eng.SetMetrics(m)
	eng.SetLocker(instance.NewMutationLock(info.CommonDir))

	logs.For("app").Debug("runtime opened", "root", info.Root, "common_dir", info.CommonDir, "linked", info.Linked())
	return &Runtime{
		Repo:    info,
		Config:  cfg,
		DataDir: dataDir,
		Logs:    logs,
		Metrics: m,
		Runner:  runner,
		Engine:  eng,
	}, nil
}

// Close flushes and closes the log file.
func (r *Runtime) Close() error {
	return r.Logs.Close()
}

// Hosting returns a pull request client for the repository.
func (r *Runtime) Hosting() *hosting.Client {
	return hosting.NewClient(r.Runner, r.Repo.Root, hosting.Options{
		Binary:    r.Config.Hosting.Binary,
		Remote:    r.Config.Remote,
		StatusTTL: r.Config.Hosting.StatusTTL,
	}, r.Logs.For("hosting"))
}

// Dispatcher returns an agent dispatcher that creates workers through the
// engine. A relative transcript_dir is taken from the data dir.
func (r *Runtime) Dispatcher() *agent.Dispatcher {
	transcripts := r.Config.Agent.TranscriptDir
	if transcripts != "" && !filepath.IsAbs(transcripts) {
		transcripts = filepath.Join(r.DataDir, transcripts)
	}
	return agent.NewDispatcher(r.Engine, agent.Options{
		Command:       r.Config.Agent.Command,
		UsePTY:        r.Config.Agent.UsePTY,
		TranscriptDir: transcripts,
	}, r.Logs.For("agent"))
}

// Watch starts a file watcher on the repository's git common dir and
// returns its change signals. Without one (e.g. no inotify) it returns a
// nil channel and callers fall back to polling. stop ends the watcher.
func (r *Runtime) Watch(ctx context.Context) (changes <-chan struct{}, stop func()) {
	logger := r.Logs.For("watch")
	w, err := tui.NewWatcher(r.Repo.CommonDir, logger)
	if err != nil {
		logger.Warn("file watching unavailable, polling only", "error", err)
		return nil, func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	return w.Changes(), func() {
		cancel()
		<-done
	}
}
