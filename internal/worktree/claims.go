// pattern: Imperative Shell

package worktree

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DeclaredFilesName is kept in a linked worktree's administrative
// directory (.git/worktrees/<id>), so git drops it together with the
// worktree on remove or prune.
const DeclaredFilesName = "karkinos-files"

// adminDir resolves the "gitdir:" link in a linked worktree's .git file.
// It returns "" when wt has no such link.
func adminDir(wt Worktree) (string, error) {
	data, err := os.ReadFile(filepath.Join(wt.Path, ".git"))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s/.git: %w", wt.Path, err)
	}
	dir, ok := strings.CutPrefix(strings.TrimSpace(string(data)), "gitdir:")
	if !ok {
		return "", fmt.Errorf("%s/.git is not a gitdir link", wt.Path)
	}
	dir = strings.TrimSpace(dir)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(wt.Path, dir)
	}
	return filepath.Clean(dir), nil
}

// DeclaredFiles returns the patterns wt declared when it was created. The
// main worktree, orphaned entries and workers created without files
// declare nothing.
func (s *StatusEngine) DeclaredFiles(wt Worktree) ([]string, error) {
	if wt.Main || wt.Bare {
		return nil, nil
	}
	var orphan *OrphanedEntryError
	if err := CheckPresent(wt); errors.As(err, &orphan) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	dir, err := adminDir(wt)
	if err != nil || dir == "" {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, DeclaredFilesName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading declared files of %s: %w", wt.Path, err)
	}

	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			patterns = append(patterns, line)
		}
	}
	return patterns, nil
}

// declare records patterns for a freshly created worktree, one per line.
func declare(wt Worktree, patterns []string) error {
	dir, err := adminDir(wt)
	if err != nil {
		return err
	}
	if dir == "" {
		return fmt.Errorf("%s has no administrative directory", wt.Path)
	}
	body := strings.Join(patterns, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, DeclaredFilesName), []byte(body), 0o644); err != nil {
		return fmt.Errorf("recording declared files of %s: %w", wt.Branch, err)
	}
	return nil
}
