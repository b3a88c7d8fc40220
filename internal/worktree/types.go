// pattern: Functional Core

package worktree

import "fmt"

// Worktree is one checkout registered with the repository.
type Worktree struct {
	Path     string `json:"path" yaml:"path"`
	Branch   string `json:"branch" yaml:"branch"`
	Head     string `json:"head" yaml:"head"`
	Main     bool   `json:"main,omitempty" yaml:"main,omitempty"`
	Detached bool   `json:"detached,omitempty" yaml:"detached,omitempty"`
	Bare     bool   `json:"bare,omitempty" yaml:"bare,omitempty"`
	Locked   bool   `json:"locked,omitempty" yaml:"locked,omitempty"`
	Prunable bool   `json:"prunable,omitempty" yaml:"prunable,omitempty"`
}

// Rev returns the revision that names this worktree's history: its branch,
// or its head commit when detached.
func (w Worktree) Rev() string {
	if w.Branch != "" {
		return w.Branch
	}
	return w.Head
}

// SyncStatus is computed against a reference branch at query time and is
// never cached across mutations.
type SyncStatus struct {
	AheadCount  int  `json:"ahead_count" yaml:"ahead_count"`
	BehindCount int  `json:"behind_count" yaml:"behind_count"`
	IsClean     bool `json:"is_clean" yaml:"is_clean"`
	IsMerged    bool `json:"is_merged" yaml:"is_merged"`
}

// AlreadyExistsError is returned by Create when the target path or branch
// is taken.
type AlreadyExistsError struct {
	Branch string
	Path   string
	Reason string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("worktree for %q already exists: %s", e.Branch, e.Reason)
}

// DirtyWorktreeError guards against discarding uncommitted changes.
type DirtyWorktreeError struct {
	Path   string
	Branch string
}

func (e *DirtyWorktreeError) Error() string {
	return fmt.Sprintf("worktree %s (%s) has uncommitted changes; use force to discard them", e.Path, e.Branch)
}

// UnmergedBranchError guards against discarding commits that the reference
// branch does not contain.
type UnmergedBranchError struct {
	Branch string
	Ref    string
	Ahead  int
}

func (e *UnmergedBranchError) Error() string {
	return fmt.Sprintf("branch %q has %d commit(s) not merged into %q; use force or keep-branch", e.Branch, e.Ahead, e.Ref)
}

// ProtectedWorktreeError is returned for any attempt to remove the main
// worktree. It cannot be overridden.
type ProtectedWorktreeError struct {
	Path string
}

func (e *ProtectedWorktreeError) Error() string {
	return fmt.Sprintf("refusing to remove main worktree %s", e.Path)
}

// OrphanedEntryError reports a registered worktree whose directory is gone.
// The registry entry is left alone; `git worktree prune` clears it.
type OrphanedEntryError struct {
	Path   string
	Branch string
}

func (e *OrphanedEntryError) Error() string {
	return fmt.Sprintf("worktree %s (%s) is registered but missing on disk; run 'git worktree prune' to clear it", e.Path, e.Branch)
}

// NotFoundError is returned when no worktree matches a branch or path.
type NotFoundError struct {
	Target string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no worktree for %q", e.Target)
}
