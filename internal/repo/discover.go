// pattern: Imperative Shell

// Package repo locates the repository a command runs against without
// spawning git.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

// ErrNotRepository is returned when no repository encloses the start path.
var ErrNotRepository = errors.New("not inside a git repository")

// Info describes a repository as seen from one of its worktrees.
type Info struct {
	// Root is the main worktree, the one every linked worktree hangs off.
	Root string
	// Current is the worktree that contains the start path.
	Current string
	// CommonDir is the shared git directory (refs, worktrees/, locks).
	CommonDir string
	// Name is the base name of Root, used to lay out sibling worktrees.
	Name string
}

// Linked reports whether Discover was started inside a linked worktree.
func (i Info) Linked() bool {
	return i.Current != i.Root
}

// Discover walks up from start to the enclosing worktree and resolves the
// main worktree through the shared git directory.
func Discover(start string) (Info, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return Info{}, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	r, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true, EnableDotGitCommonDir: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Info{}, fmt.Errorf("%s: %w", start, ErrNotRepository)
		}
		return Info{}, fmt.Errorf("opening repository at %s: %w", start, err)
	}
	wt, err := r.Worktree()
	if err != nil {
		return Info{}, fmt.Errorf("%s is a bare repository: %w", start, err)
	}
	current := wt.Filesystem.Root()

	common, err := commonDir(current)
	if err != nil {
		return Info{}, err
	}

	root := current
	if filepath.Base(common) == ".git" {
		root = filepath.Dir(common)
	}
	return Info{Root: root, Current: current, CommonDir: common, Name: filepath.Base(root)}, nil
}

// commonDir follows a linked worktree's ".git" file to its gitdir and from
// there to the shared directory named in "commondir".
func commonDir(worktreeRoot string) (string, error) {
	dotGit := filepath.Join(worktreeRoot, ".git")
	info, err := os.Stat(dotGit)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", dotGit, err)
	}
	if info.IsDir() {
		return dotGit, nil
	}

	gitDir, err := readPointer(dotGit, "gitdir:")
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(worktreeRoot, gitDir)
	}

	data, err := os.ReadFile(filepath.Join(gitDir, "commondir"))
	if errors.Is(err, os.ErrNotExist) {
		return filepath.Clean(gitDir), nil
	}
	if err != nil {
		return "", err
	}
	common := strings.TrimSpace(string(data))
	if !filepath.IsAbs(common) {
		common = filepath.Join(gitDir, common)
	}
	return filepath.Clean(common), nil
}

func readPointer(file, prefix string) (string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(data))
	if !strings.HasPrefix(line, prefix) {
		return "", fmt.Errorf("%s: unexpected content %q", file, line)
	}
	return strings.TrimSpace(strings.TrimPrefix(line, prefix)), nil
}
