// pattern: Imperative Shell

package worktree

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/schmug/karkinos/internal/gitcmd"
)

// UpdateOptions control UpdateBranches.
type UpdateOptions struct {
	DryRun bool
	// Merge uses `git merge` instead of `git rebase`.
	Merge bool
	// Fetch runs `git fetch <Remote>` first and prefers <Remote>/<ref>.
	Fetch  bool
	Remote string
}

// UpdateItem is one worker's outcome.
type UpdateItem struct {
	Branch string `json:"branch" yaml:"branch"`
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// UpdateReport aggregates UpdateBranches.
type UpdateReport struct {
	Upstream        string       `json:"upstream" yaml:"upstream"`
	DryRun          bool         `json:"dry_run" yaml:"dry_run"`
	Updated         []UpdateItem `json:"updated" yaml:"updated"`
	AlreadyUpToDate []UpdateItem `json:"already_up_to_date" yaml:"already_up_to_date"`
	WouldUpdate     []UpdateItem `json:"would_update" yaml:"would_update"`
	Conflicts       []UpdateItem `json:"conflicts" yaml:"conflicts"`
	Failed          []UpdateItem `json:"failed" yaml:"failed"`
}

// UpdateBranches brings every worker branch up to date with ref by rebase
// or merge inside its worktree. A conflicting update is aborted and
// reported; like bulk cleanup, one failure does not stop the others.
func (l *Lifecycle) UpdateBranches(ctx context.Context, ref string, opts UpdateOptions) (UpdateReport, error) {
	report := UpdateReport{
		DryRun:          opts.DryRun,
		Updated:         []UpdateItem{},
		AlreadyUpToDate: []UpdateItem{},
		WouldUpdate:     []UpdateItem{},
		Conflicts:       []UpdateItem{},
		Failed:          []UpdateItem{},
	}
	if err := gitcmd.ValidateBranchName(ref); err != nil {
		return report, err
	}
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if err := gitcmd.ValidateRemote(opts.Remote); err != nil {
		return report, err
	}

	unlock, err := l.lock(ctx)
	if err != nil {
		return report, err
	}
	defer unlock()

	root := l.registry.Root()
	if opts.Fetch {
		if _, err := l.runner.Git(ctx, root, gitcmd.Git("fetch", "--quiet").EndOfOptions().Branch(opts.Remote)); err != nil {
			l.logger.Warn("fetch failed, using local refs", "remote", opts.Remote, "error", err)
		}
	}

	upstream := ref
	remoteRef := opts.Remote + "/" + ref
	if _, err := l.runner.Git(ctx, root, gitcmd.Git("rev-parse", "--verify", "--quiet").Path("refs/remotes/"+remoteRef)); err == nil {
		upstream = remoteRef
	}
	report.Upstream = upstream

	upstreamHead, err := l.revParse(ctx, root, upstream)
	if err != nil {
		return report, err
	}

	workers, err := l.registry.Workers(ctx)
	if err != nil {
		return report, err
	}

	for _, wt := range workers {
		if wt.Branch == "" {
			continue
		}
		item := UpdateItem{Branch: wt.Branch, Path: wt.Path}
		fail := func(reason string) {
			item.Reason = reason
			report.Failed = append(report.Failed, item)
		}

		if err := CheckPresent(wt); err != nil {
			fail(err.Error())
			continue
		}
		clean, err := l.status.IsClean(ctx, wt)
		if err != nil {
			fail(err.Error())
			continue
		}
		if !clean {
			fail("uncommitted changes")
			continue
		}

		base, err := l.mergeBase(ctx, root, wt.Branch, upstream)
		if err != nil {
			fail(err.Error())
			continue
		}
		if base == upstreamHead {
			report.AlreadyUpToDate = append(report.AlreadyUpToDate, item)
			continue
		}

		if opts.DryRun {
			item.Reason = "would rebase onto " + upstream
			if opts.Merge {
				item.Reason = "would merge " + upstream
			}
			report.WouldUpdate = append(report.WouldUpdate, item)
			continue
		}

		conflict, err := l.integrate(ctx, wt, upstream, opts.Merge)
		switch {
		case conflict:
			item.Reason = "conflicts with " + upstream + "; aborted"
			report.Conflicts = append(report.Conflicts, item)
			l.logger.Warn("update aborted on conflict", "branch", wt.Branch, "upstream", upstream)
		case err != nil:
			fail(err.Error())
		default:
			report.Updated = append(report.Updated, item)
			l.logger.Info("branch updated", "branch", wt.Branch, "upstream", upstream, "merge", opts.Merge)
		}
	}
	return report, nil
}

// integrate rebases or merges wt onto upstream. A conflicting operation is
// aborted and reported through the bool.
func (l *Lifecycle) integrate(ctx context.Context, wt Worktree, upstream string, merge bool) (bool, error) {
	op := "rebase"
	argv := gitcmd.Git("rebase")
	if merge {
		op = "merge"
		argv = gitcmd.Git("merge", "--no-edit")
	}

	res, err := l.runner.Git(ctx, wt.Path, argv.EndOfOptions().Rev(upstream))
	if err == nil {
		return false, nil
	}

	var execErr *gitcmd.ExecutionError
	if !errors.As(err, &execErr) {
		return false, err
	}
	if _, abortErr := l.runner.Git(ctx, wt.Path, gitcmd.Git(op, "--abort")); abortErr != nil {
		l.logger.Debug("abort after failed update", "op", op, "error", abortErr)
	}
	if strings.Contains(res.Stdout, "CONFLICT") || strings.Contains(res.Stderr, "CONFLICT") {
		return true, nil
	}
	return false, fmt.Errorf("%s onto %s: %w", op, upstream, err)
}

func (l *Lifecycle) revParse(ctx context.Context, dir, rev string) (string, error) {
	res, err := l.runner.Git(ctx, dir, gitcmd.Git("rev-parse", "--verify").Rev(rev))
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", rev, err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (l *Lifecycle) mergeBase(ctx context.Context, dir, a, b string) (string, error) {
	res, err := l.runner.Git(ctx, dir, gitcmd.Git("merge-base").EndOfOptions().Rev(a).Rev(b))
	if err != nil {
		return "", fmt.Errorf("merge base of %s and %s: %w", a, b, err)
	}
	return strings.TrimSpace(res.Stdout), nil
}
