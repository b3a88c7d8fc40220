// pattern: Imperative Shell

package worktree

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/schmug/karkinos/internal/gitcmd"
)

// ChangedFiles returns the repository-relative paths wt has touched
// relative to ref: files changed by commits on its branch since the merge
// base, plus uncommitted and untracked files in its directory. For an
// orphaned entry only the committed part is available.
func (s *StatusEngine) ChangedFiles(ctx context.Context, wt Worktree, ref string) ([]string, error) {
	rev := wt.Rev()
	if rev == "" {
		return nil, fmt.Errorf("worktree %s has neither branch nor HEAD", wt.Path)
	}

	seen := make(map[string]struct{})
	add := func(out string) {
		for _, p := range strings.Split(out, "\x00") {
			if p = strings.TrimSpace(p); p != "" {
				seen[p] = struct{}{}
			}
		}
	}

	res, err := s.runner.Git(ctx, s.root,
		gitcmd.Git("diff", "--name-only", "--no-renames", "-z").EndOfOptions().Range(ref, "...", rev))
	if err != nil {
		return nil, fmt.Errorf("committed changes of %s: %w", rev, err)
	}
	add(res.Stdout)

	presence := CheckPresent(wt)
	var orphan *OrphanedEntryError
	switch {
	case errors.As(presence, &orphan):
		s.logger.Debug("worktree missing on disk, using committed changes only", "path", wt.Path)
	case presence != nil:
		return nil, presence
	default:
		res, err = s.runner.Git(ctx, wt.Path, gitcmd.Git("diff", "--name-only", "--no-renames", "-z", "HEAD"))
		if err != nil {
			return nil, fmt.Errorf("uncommitted changes in %s: %w", wt.Path, err)
		}
		add(res.Stdout)

		res, err = s.runner.Git(ctx, wt.Path, gitcmd.Git("ls-files", "--others", "--exclude-standard", "-z"))
		if err != nil {
			return nil, fmt.Errorf("untracked files in %s: %w", wt.Path, err)
		}
		add(res.Stdout)
	}

	files := make([]string, 0, len(seen))
	for p := range seen {
		files = append(files, p)
	}
	slices.Sort(files)
	return files, nil
}
