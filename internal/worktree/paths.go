// pattern: Functional Core

package worktree

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/schmug/karkinos/internal/gitcmd"
)

// DefaultKinds are the branch kinds accepted by BranchName.
var DefaultKinds = []string{"feat", "fix", "refactor", "docs", "test", "chore", "perf"}

// Layout decides where new worktrees go: <Parent>/<RepoName>-<slug>.
type Layout struct {
	RepoName string
	Parent   string
}

// Slug turns a branch name into a single path component.
func Slug(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}

// Path returns the deterministic worktree directory for branch.
func (l Layout) Path(branch string) string {
	return filepath.Join(l.Parent, l.RepoName+"-"+Slug(branch))
}

// BranchName builds "<kind>/<slug>". kinds limits the accepted kinds;
// nil means DefaultKinds.
func BranchName(kind, slug string, kinds []string) (string, error) {
	if kinds == nil {
		kinds = DefaultKinds
	}
	if !slices.Contains(kinds, kind) {
		return "", &gitcmd.InvalidNameError{
			Name:   kind,
			Reason: fmt.Sprintf("kind must be one of %s", strings.Join(kinds, ", ")),
		}
	}
	name := kind + "/" + slug
	if err := gitcmd.ValidateBranchName(name); err != nil {
		return "", err
	}
	return name, nil
}
