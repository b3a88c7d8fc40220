// pattern: Imperative Shell

package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/schmug/karkinos/internal/gitcmd"
	"github.com/schmug/karkinos/internal/logging"
)

// StatusEngine derives SyncStatus and change sets. It never mutates the
// repository.
type StatusEngine struct {
	runner *gitcmd.Runner
	root   string
	logger *logging.ScopedLogger
}

func NewStatusEngine(runner *gitcmd.Runner, root string, logger *logging.ScopedLogger) *StatusEngine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &StatusEngine{runner: runner, root: root, logger: logger}
}

// CheckPresent returns *OrphanedEntryError when wt's directory is gone.
func CheckPresent(wt Worktree) error {
	info, err := os.Stat(wt.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &OrphanedEntryError{Path: wt.Path, Branch: wt.Branch}
		}
		return fmt.Errorf("checking worktree %s: %w", wt.Path, err)
	}
	if !info.IsDir() {
		return &OrphanedEntryError{Path: wt.Path, Branch: wt.Branch}
	}
	return nil
}

// Compute returns wt's status against ref.
func (s *StatusEngine) Compute(ctx context.Context, wt Worktree, ref string) (SyncStatus, error) {
	if err := CheckPresent(wt); err != nil {
		return SyncStatus{}, err
	}
	rev := wt.Rev()
	if rev == "" {
		return SyncStatus{}, fmt.Errorf("worktree %s has neither branch nor HEAD", wt.Path)
	}

	ahead, behind, err := s.AheadBehind(ctx, rev, ref)
	if err != nil {
		return SyncStatus{}, err
	}

	clean, err := s.IsClean(ctx, wt)
	if err != nil {
		return SyncStatus{}, err
	}

	merged := ahead == 0
	if !merged {
		merged, err = s.IsAncestor(ctx, rev, ref)
		if err != nil {
			return SyncStatus{}, err
		}
	}

	return SyncStatus{
		AheadCount:  ahead,
		BehindCount: behind,
		IsClean:     clean,
		IsMerged:    merged,
	}, nil
}

// AheadBehind counts commits on rev but not ref (ahead) and on ref but not
// rev (behind).
func (s *StatusEngine) AheadBehind(ctx context.Context, rev, ref string) (ahead, behind int, err error) {
	res, err := s.runner.Git(ctx, s.root,
		gitcmd.Git("rev-list", "--left-right", "--count").EndOfOptions().Range(ref, "...", rev))
	if err != nil {
		return 0, 0, fmt.Errorf("comparing %s with %s: %w", rev, ref, err)
	}
	behind, ahead, err = parseLeftRight(res.Stdout)
	if err != nil {
		return 0, 0, fmt.Errorf("comparing %s with %s: %w", rev, ref, err)
	}
	return ahead, behind, nil
}

// parseLeftRight parses "<left>\t<right>" from rev-list --left-right --count.
func parseLeftRight(out string) (left, right int, err error) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", strings.TrimSpace(out))
	}
	if left, err = strconv.Atoi(fields[0]); err != nil || left < 0 {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", strings.TrimSpace(out))
	}
	if right, err = strconv.Atoi(fields[1]); err != nil || right < 0 {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", strings.TrimSpace(out))
	}
	return left, right, nil
}

// IsClean reports whether wt has no uncommitted changes to tracked files.
func (s *StatusEngine) IsClean(ctx context.Context, wt Worktree) (bool, error) {
	res, err := s.runner.Git(ctx, wt.Path, gitcmd.Git("status", "--porcelain", "--untracked-files=no"))
	if err != nil {
		return false, fmt.Errorf("status of %s: %w", wt.Path, err)
	}
	return strings.TrimSpace(res.Stdout) == "", nil
}

// IsAncestor reports whether every commit of rev is reachable from ref.
func (s *StatusEngine) IsAncestor(ctx context.Context, rev, ref string) (bool, error) {
	_, err := s.runner.Git(ctx, s.root,
		gitcmd.Git("merge-base", "--is-ancestor").EndOfOptions().Rev(rev).Rev(ref))
	if err == nil {
		return true, nil
	}
	if gitcmd.ExitCode(err) == 1 {
		return false, nil
	}
	return false, fmt.Errorf("ancestry of %s in %s: %w", rev, ref, err)
}
