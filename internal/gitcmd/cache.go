// pattern: Imperative Shell

package gitcmd

import (
	"context"
	"strings"
	"sync"
)

// FallbackBranch is used when the default branch cannot be detected.
const FallbackBranch = "main"

// RepoCache memoizes query results that cannot change while one engine is
// working against one repository. It is owned by the caller that created
// it: build a new RepoCache when switching repositories.
type RepoCache struct {
	root   string
	remote string

	mu            sync.Mutex
	defaultBranch string
}

// NewRepoCache creates a cache bound to the repository at root.
func NewRepoCache(root, remote string) *RepoCache {
	if remote == "" {
		remote = "origin"
	}
	return &RepoCache{root: root, remote: remote}
}

// Root returns the repository the cache is bound to.
func (c *RepoCache) Root() string {
	return c.root
}

// DefaultBranch returns the repository's default branch, querying git the
// first time only. Detection order: the remote's HEAD symref, then a local
// main or master, then FallbackBranch.
func (c *RepoCache) DefaultBranch(ctx context.Context, r *Runner) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.defaultBranch != "" {
		return c.defaultBranch
	}
	c.defaultBranch = c.detect(ctx, r)
	return c.defaultBranch
}

// SetDefaultBranch pins the default branch, e.g. from configuration.
func (c *RepoCache) SetDefaultBranch(name string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	c.mu.Lock()
	c.defaultBranch = name
	c.mu.Unlock()
	return nil
}

func (c *RepoCache) detect(ctx context.Context, r *Runner) string {
	if ValidateRemote(c.remote) == nil {
		res, err := r.Git(ctx, c.root, Git("symbolic-ref", "--quiet").Path("refs/remotes/"+c.remote+"/HEAD"))
		if err == nil {
			ref := strings.TrimSpace(res.Stdout)
			name := strings.TrimPrefix(ref, "refs/remotes/"+c.remote+"/")
			if name != ref && ValidateBranchName(name) == nil {
				return name
			}
		}
	}

	for _, candidate := range []string{"main", "master"} {
		if _, err := r.Git(ctx, c.root, Git("rev-parse", "--verify", "--quiet").Path("refs/heads/"+candidate)); err == nil {
			return candidate
		}
	}
	return FallbackBranch
}
