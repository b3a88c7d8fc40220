// pattern: Imperative Shell

package engine

import (
	"context"
	"errors"
	"slices"

	"github.com/schmug/karkinos/internal/worktree"
)

// Entry is one row of a snapshot: a worktree and its status against the
// reference branch. Error is set instead of failing the whole snapshot.
type Entry struct {
	Path        string `json:"path" yaml:"path"`
	Branch      string `json:"branch" yaml:"branch"`
	Head        string `json:"head" yaml:"head"`
	Main        bool   `json:"main,omitempty" yaml:"main,omitempty"`
	Detached    bool   `json:"detached,omitempty" yaml:"detached,omitempty"`
	Locked      bool   `json:"locked,omitempty" yaml:"locked,omitempty"`
	AheadCount  int    `json:"ahead_count" yaml:"ahead_count"`
	BehindCount int    `json:"behind_count" yaml:"behind_count"`
	IsClean     bool   `json:"is_clean" yaml:"is_clean"`
	IsMerged    bool   `json:"is_merged" yaml:"is_merged"`
	Orphaned    bool   `json:"orphaned,omitempty" yaml:"orphaned,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Worktree returns the registry view of the entry.
func (en Entry) Worktree() worktree.Worktree {
	return worktree.Worktree{Path: en.Path, Branch: en.Branch, Head: en.Head, Main: en.Main, Detached: en.Detached, Locked: en.Locked}
}

// Snapshot lists the active workers (the main worktree excluded) with their
// status against the reference branch. Callers poll it on their own cadence.
func (e *Engine) Snapshot(ctx context.Context) ([]Entry, error) {
	all, err := e.SnapshotAll(ctx)
	if err != nil {
		return nil, err
	}
	workers := make([]Entry, 0, len(all))
	for _, en := range all {
		if !en.Main {
			workers = append(workers, en)
		}
	}
	return workers, nil
}

// SnapshotAll is Snapshot with the main worktree first.
func (e *Engine) SnapshotAll(ctx context.Context) ([]Entry, error) {
	gen := e.generation.Load()

	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	if e.snap.valid && e.snap.generation == gen && e.opts.CacheTTL > 0 && e.now().Sub(e.snap.at) < e.opts.CacheTTL {
		if e.metrics != nil {
			e.metrics.ObserveCacheHit()
		}
		return slices.Clone(e.snap.entries), nil
	}

	start := e.now()
	entries, failed, err := e.computeSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.ObserveSnapshot(e.now().Sub(start), len(entries), failed)
	}
	e.snap = cachedSnapshot{entries: entries, at: e.now(), generation: gen, valid: true}
	return slices.Clone(entries), nil
}

func (e *Engine) computeSnapshot(ctx context.Context) ([]Entry, int, error) {
	all, err := e.registry.List(ctx)
	if err != nil {
		return nil, 0, err
	}
	ref := e.ReferenceBranch(ctx)

	entries := make([]Entry, 0, len(all))
	failed := 0
	for _, wt := range all {
		en := Entry{
			Path:     wt.Path,
			Branch:   wt.Branch,
			Head:     wt.Head,
			Main:     wt.Main,
			Detached: wt.Detached,
			Locked:   wt.Locked,
		}
		if wt.Bare {
			continue
		}
		st, err := e.status.Compute(ctx, wt, ref)
		if err != nil {
			var orphan *worktree.OrphanedEntryError
			en.Orphaned = errors.As(err, &orphan)
			en.Error = err.Error()
			failed++
			e.logger.Debug("status unavailable", "path", wt.Path, "error", err)
		} else {
			en.AheadCount = st.AheadCount
			en.BehindCount = st.BehindCount
			en.IsClean = st.IsClean
			en.IsMerged = st.IsMerged
		}
		entries = append(entries, en)
	}
	return entries, failed, nil
}
