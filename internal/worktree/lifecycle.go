// pattern: Imperative Shell

package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/schmug/karkinos/internal/gitcmd"
	"github.com/schmug/karkinos/internal/logging"
)

// Locker provides cross-process mutual exclusion around mutations.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

type nopLocker struct{}

func (nopLocker) Lock(context.Context) (func(), error) { return func() {}, nil }

// Lifecycle is the only component that creates or destroys worktrees and
// branches.
type Lifecycle struct {
	runner   *gitcmd.Runner
	registry *Registry
	status   *StatusEngine
	layout   Layout
	logger   *logging.ScopedLogger

	mu     sync.Mutex
	locker Locker
}

// NewLifecycle wires a Lifecycle. Mutations are serialized within the
// process; call SetLocker to also exclude other processes.
func NewLifecycle(runner *gitcmd.Runner, registry *Registry, status *StatusEngine, layout Layout, logger *logging.ScopedLogger) *Lifecycle {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Lifecycle{
		runner:   runner,
		registry: registry,
		status:   status,
		layout:   layout,
		logger:   logger,
		locker:   nopLocker{},
	}
}

// SetLocker installs a cross-process lock.
func (l *Lifecycle) SetLocker(locker Locker) {
	if locker == nil {
		locker = nopLocker{}
	}
	l.locker = locker
}

// Layout returns the path policy for new worktrees.
func (l *Lifecycle) Layout() Layout {
	return l.layout
}

func (l *Lifecycle) lock(ctx context.Context) (func(), error) {
	l.mu.Lock()
	unlock, err := l.locker.Lock(ctx)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("acquiring mutation lock: %w", err)
	}
	return func() {
		unlock()
		l.mu.Unlock()
	}, nil
}

// Create makes a new branch from base and checks it out in a new worktree
// at Layout.Path(branch). Invalid names fail before any command runs.
func (l *Lifecycle) Create(ctx context.Context, branch, base string) (Worktree, error) {
	return l.CreateWith(ctx, branch, base, nil, nil)
}

// CreateWith is Create with a precheck that runs under the mutation lock
// after the existence checks and before anything is written. A precheck
// error aborts creation and is returned unchanged. Non-empty declared
// patterns are recorded against the new worktree before the lock is
// released, so the next precheck already sees them.
func (l *Lifecycle) CreateWith(ctx context.Context, branch, base string, declared []string, precheck func(context.Context) error) (Worktree, error) {
	if err := gitcmd.ValidateBranchName(branch); err != nil {
		return Worktree{}, err
	}
	if err := gitcmd.ValidateBranchName(base); err != nil {
		return Worktree{}, err
	}

	unlock, err := l.lock(ctx)
	if err != nil {
		return Worktree{}, err
	}
	defer unlock()

	path := l.layout.Path(branch)
	if _, err := os.Stat(path); err == nil {
		return Worktree{}, &AlreadyExistsError{Branch: branch, Path: path, Reason: "path " + path + " exists"}
	}

	existing, err := l.registry.List(ctx)
	if err != nil {
		return Worktree{}, err
	}
	for _, wt := range existing {
		if wt.Branch == branch {
			return Worktree{}, &AlreadyExistsError{Branch: branch, Path: wt.Path, Reason: "checked out at " + wt.Path}
		}
	}
	if l.branchExists(ctx, branch) {
		return Worktree{}, &AlreadyExistsError{Branch: branch, Path: path, Reason: "branch exists"}
	}
	if precheck != nil {
		if err := precheck(ctx); err != nil {
			return Worktree{}, err
		}
	}

	_, err = l.runner.Git(ctx, l.registry.Root(),
		gitcmd.Git("worktree", "add", "-b").Branch(branch).EndOfOptions().Path(path).Rev(base))
	if err != nil {
		return Worktree{}, fmt.Errorf("creating worktree for %s: %w", branch, err)
	}

	head := ""
	if res, err := l.runner.Git(ctx, path, gitcmd.Git("rev-parse", "HEAD")); err == nil {
		head = strings.TrimSpace(res.Stdout)
	}
	wt := Worktree{Path: path, Branch: branch, Head: head}

	if len(declared) > 0 {
		if err := declare(wt, declared); err != nil {
			l.discard(context.WithoutCancel(ctx), wt)
			return Worktree{}, err
		}
	}

	l.logger.Info("worktree created", "branch", branch, "base", base, "path", path, "declared", len(declared))
	return wt, nil
}

// discard undoes a creation that could not be completed.
func (l *Lifecycle) discard(ctx context.Context, wt Worktree) {
	root := l.registry.Root()
	if _, err := l.runner.Git(ctx, root, gitcmd.Git("worktree", "remove", "--force").EndOfOptions().Path(wt.Path)); err != nil {
		l.logger.Warn("discarding worktree", "path", wt.Path, "error", err)
		return
	}
	if _, err := l.runner.Git(ctx, root, gitcmd.Git("branch", "-D").EndOfOptions().Branch(wt.Branch)); err != nil {
		l.logger.Warn("discarding branch", "branch", wt.Branch, "error", err)
	}
}

// EnsureBranch creates branch at base unless it already exists, without
// checking it out. It reports whether the branch was created.
func (l *Lifecycle) EnsureBranch(ctx context.Context, branch, base string) (bool, error) {
	if err := gitcmd.ValidateBranchName(branch); err != nil {
		return false, err
	}
	if err := gitcmd.ValidateBranchName(base); err != nil {
		return false, err
	}

	unlock, err := l.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	if l.branchExists(ctx, branch) {
		return false, nil
	}
	if _, err := l.runner.Git(ctx, l.registry.Root(),
		gitcmd.Git("branch").EndOfOptions().Branch(branch).Rev(base)); err != nil {
		return false, fmt.Errorf("creating branch %s from %s: %w", branch, base, err)
	}
	l.logger.Info("branch created", "branch", branch, "base", base)
	return true, nil
}

func (l *Lifecycle) branchExists(ctx context.Context, branch string) bool {
	_, err := l.runner.Git(ctx, l.registry.Root(),
		gitcmd.Git("rev-parse", "--verify", "--quiet").Path("refs/heads/"+branch))
	return err == nil
}

// RemoveOptions control Remove.
type RemoveOptions struct {
	// Force discards uncommitted changes and unmerged commits.
	Force bool
	// KeepBranch removes an unmerged worktree but retains its branch.
	KeepBranch bool
	// DryRun runs every check and reports the outcome without mutating.
	DryRun bool
}

// RemovalResult describes what Remove did or, in dry-run mode, would do.
type RemovalResult struct {
	Path            string `json:"path" yaml:"path"`
	Branch          string `json:"branch" yaml:"branch"`
	DryRun          bool   `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	WouldRemove     bool   `json:"would_remove" yaml:"would_remove"`
	Reason          string `json:"reason" yaml:"reason"`
	WorktreeRemoved bool   `json:"worktree_removed" yaml:"worktree_removed"`
	BranchDeleted   bool   `json:"branch_deleted" yaml:"branch_deleted"`
}

// Remove tears down the worktree for target (a branch or a path) after
// checking it against ref. Policy guards (dirty, unmerged, orphaned) are
// errors unless DryRun is set, in which case they are reported in the
// result with WouldRemove=false. Removing the main worktree always fails.
func (l *Lifecycle) Remove(ctx context.Context, target, ref string, opts RemoveOptions) (RemovalResult, error) {
	unlock, err := l.lock(ctx)
	if err != nil {
		return RemovalResult{}, err
	}
	defer unlock()

	wt, err := l.registry.Find(ctx, target)
	if err != nil {
		return RemovalResult{}, err
	}
	return l.removeLocked(ctx, wt, ref, opts)
}

func (l *Lifecycle) removeLocked(ctx context.Context, wt Worktree, ref string, opts RemoveOptions) (RemovalResult, error) {
	result := RemovalResult{Path: wt.Path, Branch: wt.Branch, DryRun: opts.DryRun}

	if wt.Main || wt.Bare {
		return result, &ProtectedWorktreeError{Path: wt.Path}
	}

	status, err := l.status.Compute(ctx, wt, ref)
	if err == nil {
		err = guard(wt, ref, status, opts)
	}
	if err != nil {
		if opts.DryRun && isPolicyError(err) {
			result.Reason = err.Error()
			return result, nil
		}
		return result, err
	}

	deleteBranch := wt.Branch != "" && (status.IsMerged || opts.Force)
	switch {
	case !status.IsMerged && !deleteBranch:
		result.Reason = fmt.Sprintf("not merged into %s; branch kept", ref)
	case !status.IsMerged:
		result.Reason = "forced"
	default:
		result.Reason = "merged into " + ref
	}

	if opts.DryRun {
		result.WouldRemove = true
		return result, nil
	}

	argv := gitcmd.Git("worktree", "remove")
	if opts.Force {
		argv = argv.Flag("--force")
	}
	if _, err := l.runner.Git(ctx, l.registry.Root(), argv.EndOfOptions().Path(wt.Path)); err != nil {
		return result, fmt.Errorf("removing worktree %s: %w", wt.Path, err)
	}
	result.WorktreeRemoved = true
	result.WouldRemove = true
	l.logger.Info("worktree removed", "path", wt.Path, "branch", wt.Branch, "reason", result.Reason)

	if deleteBranch {
		if _, err := l.runner.Git(ctx, l.registry.Root(),
			gitcmd.Git("branch", "-D").EndOfOptions().Branch(wt.Branch)); err != nil {
			return result, fmt.Errorf("deleting branch %s: %w", wt.Branch, err)
		}
		result.BranchDeleted = true
		l.logger.Info("branch deleted", "branch", wt.Branch)
	}
	return result, nil
}

func guard(wt Worktree, ref string, status SyncStatus, opts RemoveOptions) error {
	if opts.Force {
		return nil
	}
	if !status.IsClean {
		return &DirtyWorktreeError{Path: wt.Path, Branch: wt.Branch}
	}
	if !status.IsMerged && !opts.KeepBranch {
		return &UnmergedBranchError{Branch: wt.Rev(), Ref: ref, Ahead: status.AheadCount}
	}
	return nil
}

func isPolicyError(err error) bool {
	var (
		dirty    *DirtyWorktreeError
		unmerged *UnmergedBranchError
		orphan   *OrphanedEntryError
	)
	return errors.As(err, &dirty) || errors.As(err, &unmerged) || errors.As(err, &orphan)
}

// CleanupOptions control RemoveAllMerged.
type CleanupOptions struct {
	DryRun bool
	// Force also removes merged worktrees that have uncommitted changes.
	Force bool
}

// CleanupItem is one worktree's outcome in a CleanupReport.
type CleanupItem struct {
	Path   string `json:"path" yaml:"path"`
	Branch string `json:"branch" yaml:"branch"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// CleanupReport aggregates a bulk cleanup.
type CleanupReport struct {
	DryRun          bool          `json:"dry_run" yaml:"dry_run"`
	Removed         []CleanupItem `json:"removed" yaml:"removed"`
	SkippedDirty    []CleanupItem `json:"skipped_dirty" yaml:"skipped_dirty"`
	SkippedUnmerged []CleanupItem `json:"skipped_unmerged" yaml:"skipped_unmerged"`
	SkippedOrphaned []CleanupItem `json:"skipped_orphaned" yaml:"skipped_orphaned"`
	Failed          []CleanupItem `json:"failed" yaml:"failed"`
}

// RemoveAllMerged removes every worker whose branch is merged into ref.
// One failure does not stop the rest; only a failure to list worktrees is
// returned as an error.
func (l *Lifecycle) RemoveAllMerged(ctx context.Context, ref string, opts CleanupOptions) (CleanupReport, error) {
	report := CleanupReport{
		DryRun:          opts.DryRun,
		Removed:         []CleanupItem{},
		SkippedDirty:    []CleanupItem{},
		SkippedUnmerged: []CleanupItem{},
		SkippedOrphaned: []CleanupItem{},
		Failed:          []CleanupItem{},
	}

	unlock, err := l.lock(ctx)
	if err != nil {
		return report, err
	}
	defer unlock()

	workers, err := l.registry.Workers(ctx)
	if err != nil {
		return report, err
	}

	for _, wt := range workers {
		if ctx.Err() != nil {
			report.Failed = append(report.Failed, CleanupItem{Path: wt.Path, Branch: wt.Branch, Reason: ctx.Err().Error()})
			continue
		}
		if wt.Branch == "" {
			l.logger.Debug("cleanup skipping detached worktree", "path", wt.Path)
			continue
		}
		item := CleanupItem{Path: wt.Path, Branch: wt.Branch}

		status, err := l.status.Compute(ctx, wt, ref)
		var orphan *OrphanedEntryError
		switch {
		case errors.As(err, &orphan):
			item.Reason = err.Error()
			report.SkippedOrphaned = append(report.SkippedOrphaned, item)
			continue
		case err != nil:
			item.Reason = err.Error()
			report.Failed = append(report.Failed, item)
			l.logger.Warn("cleanup status failed", "branch", wt.Branch, "error", err)
			continue
		case !status.IsMerged:
			item.Reason = fmt.Sprintf("%d commit(s) not in %s", status.AheadCount, ref)
			report.SkippedUnmerged = append(report.SkippedUnmerged, item)
			continue
		case !status.IsClean && !opts.Force:
			item.Reason = "uncommitted changes"
			report.SkippedDirty = append(report.SkippedDirty, item)
			continue
		}

		res, err := l.removeLocked(ctx, wt, ref, RemoveOptions{Force: opts.Force, DryRun: opts.DryRun})
		if err != nil {
			item.Reason = err.Error()
			report.Failed = append(report.Failed, item)
			l.logger.Warn("cleanup removal failed", "branch", wt.Branch, "error", err)
			continue
		}
		item.Reason = res.Reason
		report.Removed = append(report.Removed, item)
		l.logger.Info("cleanup item processed", "branch", wt.Branch, "dry_run", opts.DryRun)
	}
	return report, nil
}
