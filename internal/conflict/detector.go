// pattern: Imperative Shell

package conflict

import (
	"context"
	"fmt"
	"sort"

	"github.com/schmug/karkinos/internal/logging"
	"github.com/schmug/karkinos/internal/worktree"
)

// Record names one path that a candidate overlaps and the worktree that
// already changes it. Declared is set when Path is a pattern the owner
// declared at creation rather than a file it changed.
type Record struct {
	Path      string `json:"path" yaml:"path"`
	Pattern   string `json:"pattern" yaml:"pattern"`
	Owner     string `json:"owner" yaml:"owner"`
	OwnerPath string `json:"owner_path" yaml:"owner_path"`
	Declared  bool   `json:"declared,omitempty" yaml:"declared,omitempty"`
}

// ChangeSource yields the changed-file set of a worktree relative to ref
// and the patterns it declared when created. *worktree.StatusEngine
// satisfies it.
type ChangeSource interface {
	ChangedFiles(ctx context.Context, wt worktree.Worktree, ref string) ([]string, error)
	DeclaredFiles(wt worktree.Worktree) ([]string, error)
}

// Detector checks proposed work against in-flight worktrees. It never
// mutates anything.
type Detector struct {
	source ChangeSource
	logger *logging.ScopedLogger
}

// NewDetector creates a Detector reading changes from source.
func NewDetector(source ChangeSource, logger *logging.ScopedLogger) *Detector {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Detector{source: source, logger: logger}
}

// Check returns every (path, owner) pair where a candidate pattern covers a
// file changed by one of active against ref, or overlaps a pattern one of
// active declared. An empty result means no conflict. If any worktree's changes cannot be read the check fails rather
// than reporting a possibly incomplete empty set.
func (d *Detector) Check(ctx context.Context, candidates []string, active []worktree.Worktree, ref string) ([]Record, error) {
	patterns, err := NormalizeAll(candidates)
	if err != nil {
		return nil, err
	}
	records := []Record{}
	if len(patterns) == 0 {
		return records, nil
	}

	for _, wt := range active {
		if wt.Main || wt.Bare {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files, err := d.source.ChangedFiles(ctx, wt, ref)
		if err != nil {
			return nil, fmt.Errorf("reading changes of %s: %w", owner(wt), err)
		}
		declared, err := d.source.DeclaredFiles(wt)
		if err != nil {
			return nil, fmt.Errorf("reading declared files of %s: %w", owner(wt), err)
		}

		seen := map[string]bool{}
		hits, by := Overlap(patterns, files)
		for i, f := range hits {
			seen[f] = true
			records = append(records, Record{Path: f, Pattern: by[i], Owner: owner(wt), OwnerPath: wt.Path})
		}
		for _, claim := range declared {
			if seen[claim] {
				continue
			}
			for _, p := range patterns {
				if PatternsOverlap(p, claim) {
					seen[claim] = true
					records = append(records, Record{Path: claim, Pattern: p, Owner: owner(wt), OwnerPath: wt.Path, Declared: true})
					break
				}
			}
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Path != records[j].Path {
			return records[i].Path < records[j].Path
		}
		return records[i].Owner < records[j].Owner
	})
	d.logger.Debug("conflict check", "candidates", len(patterns), "worktrees", len(active), "conflicts", len(records))
	return records, nil
}

// Owners returns the distinct owners in records, sorted.
func Owners(records []Record) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range records {
		if !seen[r.Owner] {
			seen[r.Owner] = true
			out = append(out, r.Owner)
		}
	}
	sort.Strings(out)
	return out
}

func owner(wt worktree.Worktree) string {
	if wt.Branch != "" {
		return wt.Branch
	}
	return wt.Path
}
