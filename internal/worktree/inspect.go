// pattern: Imperative Shell

package worktree

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/schmug/karkinos/internal/gitcmd"
)

// Commit is one line of branch history.
type Commit struct {
	Hash    string `json:"hash" yaml:"hash"`
	Subject string `json:"subject" yaml:"subject"`
}

// FileChange is one entry of diff --name-status.
type FileChange struct {
	Status string `json:"status" yaml:"status"`
	Path   string `json:"path" yaml:"path"`
}

// MaxReadFileSize caps ReadFile.
const MaxReadFileSize = 1 << 20

// Commits lists up to limit commits on wt that ref does not have, newest first.
func (s *StatusEngine) Commits(ctx context.Context, wt Worktree, ref string, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = 20
	}
	res, err := s.runner.Git(ctx, s.root,
		gitcmd.Git("log", "--format=%h%x09%s", fmt.Sprintf("--max-count=%d", limit)).
			EndOfOptions().Range(ref, "..", wt.Rev()))
	if err != nil {
		return nil, fmt.Errorf("commits of %s: %w", wt.Rev(), err)
	}
	return parseCommits(res.Stdout), nil
}

func parseCommits(out string) []Commit {
	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		hash, subject, _ := strings.Cut(line, "\t")
		commits = append(commits, Commit{Hash: hash, Subject: subject})
	}
	return commits
}

// NameStatus lists files changed on wt since it forked from ref.
func (s *StatusEngine) NameStatus(ctx context.Context, wt Worktree, ref string) ([]FileChange, error) {
	res, err := s.runner.Git(ctx, s.root,
		gitcmd.Git("diff", "--name-status").EndOfOptions().Range(ref, "...", wt.Rev()))
	if err != nil {
		return nil, fmt.Errorf("changed files of %s: %w", wt.Rev(), err)
	}
	return parseNameStatus(res.Stdout), nil
}

// parseNameStatus handles "M\tpath" and "R100\told\tnew" lines; renames and
// copies report the new path with a one-letter status.
func parseNameStatus(out string) []FileChange {
	var changes []FileChange
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) < 2 || fields[0] == "" {
			continue
		}
		changes = append(changes, FileChange{
			Status: fields[0][:1],
			Path:   fields[len(fields)-1],
		})
	}
	return changes
}

// DiffStat returns `git diff --stat` of wt against ref.
func (s *StatusEngine) DiffStat(ctx context.Context, wt Worktree, ref string) (string, error) {
	res, err := s.runner.Git(ctx, s.root,
		gitcmd.Git("diff", "--stat").EndOfOptions().Range(ref, "...", wt.Rev()))
	if err != nil {
		return "", fmt.Errorf("diffstat of %s: %w", wt.Rev(), err)
	}
	return strings.TrimRight(res.Stdout, "\n"), nil
}

// Diff returns the patch of wt against ref, optionally limited to one file.
func (s *StatusEngine) Diff(ctx context.Context, wt Worktree, ref, file string) (string, error) {
	argv := gitcmd.Git("diff").EndOfOptions().Range(ref, "...", wt.Rev())
	if file != "" {
		argv = argv.Paths(file)
	}
	res, err := s.runner.Git(ctx, s.root, argv)
	if err != nil {
		return "", fmt.Errorf("diff of %s: %w", wt.Rev(), err)
	}
	return res.Stdout, nil
}

// ReadFile reads rel from inside wt. Absolute paths, paths that leave the
// worktree (directly or through a symlink), directories and files larger
// than MaxReadFileSize are rejected.
func ReadFile(wt Worktree, rel string) ([]byte, error) {
	if err := CheckPresent(wt); err != nil {
		return nil, err
	}
	if rel == "" || filepath.IsAbs(rel) {
		return nil, &gitcmd.InvalidNameError{Name: rel, Reason: "path must be relative to the worktree"}
	}

	root, err := filepath.EvalSymlinks(wt.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving worktree %s: %w", wt.Path, err)
	}
	joined := filepath.Join(root, filepath.Clean(rel))
	if !within(root, joined) {
		return nil, &gitcmd.InvalidNameError{Name: rel, Reason: "path escapes the worktree"}
	}

	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file %s not found in %s: %w", rel, wt.Path, fs.ErrNotExist)
		}
		return nil, err
	}
	if !within(root, resolved) {
		return nil, &gitcmd.InvalidNameError{Name: rel, Reason: "path escapes the worktree"}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", rel)
	}
	if info.Size() > MaxReadFileSize {
		return nil, fmt.Errorf("%s is too large (%d bytes, max %d)", rel, info.Size(), MaxReadFileSize)
	}
	return os.ReadFile(resolved)
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
