// pattern: Imperative Shell

// Package engine is the single read/write surface shared by the CLI, the
// monitor, the HTTP server and the tool-call interface.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schmug/karkinos/internal/conflict"
	"github.com/schmug/karkinos/internal/gitcmd"
	"github.com/schmug/karkinos/internal/logging"
	"github.com/schmug/karkinos/internal/metrics"
	"github.com/schmug/karkinos/internal/worktree"
)

// Options describe one repository. An Engine never switches repositories.
type Options struct {
	Root     string
	RepoName string
	// Parent holds new worktrees; empty means the parent of Root.
	Parent string
	Remote string
	// BaseBranch overrides default-branch detection.
	BaseBranch  string
	BranchKinds []string
	// Staging makes IntegrationBranch the reference for workers.
	Staging           bool
	IntegrationBranch string
	// CacheTTL bounds how long a snapshot is reused; zero disables reuse.
	CacheTTL time.Duration
}

type Engine struct {
	opts     Options
	runner   *gitcmd.Runner
	repo     *gitcmd.RepoCache
	registry *worktree.Registry
	status   *worktree.StatusEngine
	life     *worktree.Lifecycle
	detector *conflict.Detector
	metrics  *metrics.Metrics
	logger   *logging.ScopedLogger

	// mu serializes mutations issued through this engine.
	mu sync.Mutex

	generation atomic.Uint64
	snapMu     sync.Mutex
	snap       cachedSnapshot
	now        func() time.Time
}

type cachedSnapshot struct {
	entries    []Entry
	at         time.Time
	generation uint64
	valid      bool
}

// New wires every component for the repository at opts.Root. lp may be nil.
func New(runner *gitcmd.Runner, opts Options, lp logging.LoggerProvider) *Engine {
	scoped := func(scope string) *logging.ScopedLogger {
		if lp == nil {
			return logging.NopLogger()
		}
		return lp.For(scope)
	}
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.Parent == "" {
		opts.Parent = filepath.Dir(opts.Root)
	}
	if opts.RepoName == "" {
		opts.RepoName = filepath.Base(opts.Root)
	}
	if opts.IntegrationBranch == "" {
		opts.IntegrationBranch = "integration"
	}

	registry := worktree.NewRegistry(runner, opts.Root, scoped("registry"))
	status := worktree.NewStatusEngine(runner, opts.Root, scoped("status"))
	layout := worktree.Layout{RepoName: opts.RepoName, Parent: opts.Parent}

	return &Engine{
		opts:     opts,
		runner:   runner,
		repo:     gitcmd.NewRepoCache(opts.Root, opts.Remote),
		registry: registry,
		status:   status,
		life:     worktree.NewLifecycle(runner, registry, status, layout, scoped("lifecycle")),
		detector: conflict.NewDetector(status, scoped("conflict")),
		logger:   scoped("engine"),
		now:      time.Now,
	}
}

// SetMetrics records git invocations, snapshots, conflict checks and
// mutations on m.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
	if m != nil {
		e.runner.SetObserver(m.ObserveGit)
	}
}

// SetLocker adds cross-process exclusion around lifecycle mutations.
func (e *Engine) SetLocker(l worktree.Locker) {
	e.life.SetLocker(l)
}

func (e *Engine) Root() string {
	return e.opts.Root
}

func (e *Engine) Options() Options {
	return e.opts
}

// Layout returns the path policy for new worktrees.
func (e *Engine) Layout() worktree.Layout {
	return e.life.Layout()
}

// Generation increases after every mutation made through this engine.
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

// Invalidate drops the cached snapshot, e.g. after a filesystem event.
func (e *Engine) Invalidate() {
	e.generation.Add(1)
}

// BaseBranch is the configured base or the repository's default branch.
func (e *Engine) BaseBranch(ctx context.Context) string {
	if e.opts.BaseBranch != "" {
		return e.opts.BaseBranch
	}
	return e.repo.DefaultBranch(ctx, e.runner)
}

// ReferenceBranch is the branch workers are created from and compared
// against: the integration branch in staging mode, otherwise the base.
func (e *Engine) ReferenceBranch(ctx context.Context) string {
	if e.opts.Staging {
		return e.opts.IntegrationBranch
	}
	return e.BaseBranch(ctx)
}

// EnsureIntegrationBranch creates the integration branch from the base
// when staging is enabled and the branch does not exist yet.
func (e *Engine) EnsureIntegrationBranch(ctx context.Context) (bool, error) {
	if !e.opts.Staging {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	created, err := e.life.EnsureBranch(ctx, e.opts.IntegrationBranch, e.BaseBranch(ctx))
	if created {
		e.Invalidate()
	}
	if err != nil {
		return false, fmt.Errorf("preparing integration branch: %w", err)
	}
	return created, nil
}

func (e *Engine) observeMutation(op string, err error) {
	e.Invalidate()
	if e.metrics != nil {
		e.metrics.ObserveMutation(op, err)
	}
}
