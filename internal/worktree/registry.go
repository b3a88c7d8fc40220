// pattern: Imperative Shell

package worktree

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/schmug/karkinos/internal/gitcmd"
	"github.com/schmug/karkinos/internal/logging"
)

// Registry is the only reader of git's worktree metadata.
type Registry struct {
	runner *gitcmd.Runner
	root   string
	logger *logging.ScopedLogger
}

// NewRegistry creates a Registry for the repository whose main worktree is root.
func NewRegistry(runner *gitcmd.Runner, root string, logger *logging.ScopedLogger) *Registry {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Registry{runner: runner, root: filepath.Clean(root), logger: logger}
}

// Root returns the main worktree path.
func (r *Registry) Root() string {
	return r.root
}

// List returns every registered worktree, main first. Malformed records are
// logged and skipped.
func (r *Registry) List(ctx context.Context) ([]Worktree, error) {
	res, err := r.runner.Git(ctx, r.root, gitcmd.Git("worktree", "list", "--porcelain"))
	if err != nil {
		return nil, fmt.Errorf("listing worktrees: %w", err)
	}

	var out []Worktree
	mainIdx := -1
	for _, rec := range ParsePorcelain(res.Stdout) {
		if rec.Malformed() {
			r.logger.Warn("skipping malformed worktree record", "error", rec.Err, "raw", rec.Raw)
			continue
		}
		wt := rec.Worktree
		if mainIdx < 0 && samePath(wt.Path, r.root) {
			wt.Main = true
			mainIdx = len(out)
		}
		out = append(out, wt)
	}

	switch {
	case len(out) == 0:
		return out, nil
	case mainIdx < 0:
		// git always lists the main worktree first.
		out[0].Main = true
	case mainIdx > 0:
		main := out[mainIdx]
		copy(out[1:mainIdx+1], out[:mainIdx])
		out[0] = main
	}
	return out, nil
}

// Workers returns the worktrees agents work in: everything except the main
// and bare entries.
func (r *Registry) Workers(ctx context.Context) ([]Worktree, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	workers := make([]Worktree, 0, len(all))
	for _, wt := range all {
		if wt.Main || wt.Bare {
			continue
		}
		workers = append(workers, wt)
	}
	return workers, nil
}

// Find resolves target as a branch name first, then as a path.
func (r *Registry) Find(ctx context.Context, target string) (Worktree, error) {
	all, err := r.List(ctx)
	if err != nil {
		return Worktree{}, err
	}
	for _, wt := range all {
		if wt.Branch != "" && wt.Branch == target {
			return wt, nil
		}
	}
	abs, err := filepath.Abs(target)
	if err == nil {
		for _, wt := range all {
			if samePath(wt.Path, abs) {
				return wt, nil
			}
		}
	}
	return Worktree{}, &NotFoundError{Target: target}
}

func samePath(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if a == b {
		return true
	}
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	return errA == nil && errB == nil && ra == rb
}
