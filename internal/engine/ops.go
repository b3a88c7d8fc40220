// pattern: Imperative Shell

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/schmug/karkinos/internal/conflict"
	"github.com/schmug/karkinos/internal/gitcmd"
	"github.com/schmug/karkinos/internal/metrics"
	"github.com/schmug/karkinos/internal/worktree"
)

// ErrConflict matches every *ConflictError.
var ErrConflict = errors.New("conflicts with active workers")

// ConflictError blocks creation of a worker whose declared files overlap
// files other workers already change or declare.
type ConflictError struct {
	Branch  string
	Records []conflict.Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Branch, ErrConflict, strings.Join(conflict.Owners(e.Records), ", "))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// CreateRequest names the new worker by Branch or by Kind and Slug.
type CreateRequest struct {
	Branch string   `json:"branch,omitempty" yaml:"branch,omitempty"`
	Kind   string   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Slug   string   `json:"slug,omitempty" yaml:"slug,omitempty"`
	Base   string   `json:"base,omitempty" yaml:"base,omitempty"`
	Files  []string `json:"files,omitempty" yaml:"files,omitempty"`
}

// BranchName resolves the branch the request asks for.
func (e *Engine) BranchName(req CreateRequest) (string, error) {
	if req.Branch != "" {
		return req.Branch, gitcmd.ValidateBranchName(req.Branch)
	}
	if req.Kind == "" || req.Slug == "" {
		return "", &gitcmd.InvalidNameError{Name: "", Reason: "either branch or kind and slug are required"}
	}
	return worktree.BranchName(req.Kind, req.Slug, e.opts.BranchKinds)
}

type CreateResult struct {
	Path   string `json:"path" yaml:"path"`
	Branch string `json:"branch" yaml:"branch"`
	Head   string `json:"head" yaml:"head"`
	Base   string `json:"base" yaml:"base"`
}

// CreateWorker creates a worktree and branch for req. When req.Files is
// non-empty the files are first checked against every active worker; any
// overlap returns a *ConflictError and nothing is created. Otherwise the
// files stay declared by the new worker until it is removed.
func (e *Engine) CreateWorker(ctx context.Context, req CreateRequest) (CreateResult, error) {
	branch, err := e.BranchName(req)
	if err != nil {
		return CreateResult{}, err
	}
	if req.Base != "" {
		if err := gitcmd.ValidateBranchName(req.Base); err != nil {
			return CreateResult{}, err
		}
	}
	declared, err := conflict.NormalizeAll(req.Files)
	if err != nil {
		return CreateResult{}, err
	}

	if _, err := e.EnsureIntegrationBranch(ctx); err != nil {
		return CreateResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ref := e.ReferenceBranch(ctx)
	base := req.Base
	if base == "" {
		base = ref
	}

	gate := func(ctx context.Context) error {
		if len(declared) == 0 {
			return nil
		}
		records, err := e.conflictsFor(ctx, declared, ref)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			return &ConflictError{Branch: branch, Records: records}
		}
		return nil
	}

	wt, err := e.life.CreateWith(ctx, branch, base, declared, gate)
	e.observeMutation("create", err)
	if err != nil {
		return CreateResult{}, err
	}
	return CreateResult{Path: wt.Path, Branch: wt.Branch, Head: wt.Head, Base: base}, nil
}

// CheckResult is the outcome of a read-only conflict check.
type CheckResult struct {
	Ref       string            `json:"ref" yaml:"ref"`
	Clear     bool              `json:"clear" yaml:"clear"`
	Conflicts []conflict.Record `json:"conflicts" yaml:"conflicts"`
}

// Check reports which active workers already change any of candidates.
func (e *Engine) Check(ctx context.Context, candidates []string) (CheckResult, error) {
	ref := e.ReferenceBranch(ctx)
	records, err := e.conflictsFor(ctx, candidates, ref)
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{Ref: ref, Clear: len(records) == 0, Conflicts: records}, nil
}

func (e *Engine) conflictsFor(ctx context.Context, candidates []string, ref string) ([]conflict.Record, error) {
	workers, err := e.registry.Workers(ctx)
	if err == nil {
		var records []conflict.Record
		records, err = e.detector.Check(ctx, candidates, workers, ref)
		if err == nil {
			e.observeCheck(records)
			return records, nil
		}
	}
	if e.metrics != nil {
		e.metrics.ObserveConflictCheck(metrics.CheckError)
	}
	return nil, err
}

func (e *Engine) observeCheck(records []conflict.Record) {
	if e.metrics == nil {
		return
	}
	if len(records) == 0 {
		e.metrics.ObserveConflictCheck(metrics.CheckClear)
		return
	}
	e.metrics.ObserveConflictCheck(metrics.CheckBlocked)
}

// Remove tears down one worker against the reference branch.
func (e *Engine) Remove(ctx context.Context, target string, opts worktree.RemoveOptions) (worktree.RemovalResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.life.Remove(ctx, target, e.ReferenceBranch(ctx), opts)
	if !opts.DryRun {
		e.observeMutation("remove", err)
	}
	return res, err
}

// Cleanup removes every worker merged into the reference branch.
func (e *Engine) Cleanup(ctx context.Context, opts worktree.CleanupOptions) (worktree.CleanupReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report, err := e.life.RemoveAllMerged(ctx, e.ReferenceBranch(ctx), opts)
	if !opts.DryRun {
		e.observeMutation("cleanup", err)
	}
	return report, err
}

// UpdateBranches rebases or merges every worker onto the reference branch.
func (e *Engine) UpdateBranches(ctx context.Context, opts worktree.UpdateOptions) (worktree.UpdateReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if opts.Remote == "" {
		opts.Remote = e.opts.Remote
	}
	report, err := e.life.UpdateBranches(ctx, e.ReferenceBranch(ctx), opts)
	if !opts.DryRun {
		e.observeMutation("update", err)
	}
	return report, err
}

// Details is the drill-down view of one worker.
type Details struct {
	Entry        `yaml:",inline"`
	Ref          string                `json:"ref" yaml:"ref"`
	Commits      []worktree.Commit     `json:"commits" yaml:"commits"`
	ChangedFiles []worktree.FileChange `json:"changed_files" yaml:"changed_files"`
	DiffStat     string                `json:"diff_stat" yaml:"diff_stat"`
}

// MaxDetailCommits bounds the commit list in Details.
const MaxDetailCommits = 50

// Details reports status, commits not in the reference branch, and the
// files they change for the worker identified by target.
func (e *Engine) Details(ctx context.Context, target string) (Details, error) {
	wt, err := e.registry.Find(ctx, target)
	if err != nil {
		return Details{}, err
	}
	ref := e.ReferenceBranch(ctx)
	d := Details{
		Entry: Entry{Path: wt.Path, Branch: wt.Branch, Head: wt.Head, Main: wt.Main, Detached: wt.Detached, Locked: wt.Locked},
		Ref:   ref,
	}

	st, err := e.status.Compute(ctx, wt, ref)
	if err != nil {
		var orphan *worktree.OrphanedEntryError
		if !errors.As(err, &orphan) {
			return Details{}, err
		}
		d.Orphaned = true
		d.Error = err.Error()
	} else {
		d.AheadCount, d.BehindCount, d.IsClean, d.IsMerged = st.AheadCount, st.BehindCount, st.IsClean, st.IsMerged
	}

	if d.Commits, err = e.status.Commits(ctx, wt, ref, MaxDetailCommits); err != nil {
		return Details{}, err
	}
	if d.ChangedFiles, err = e.status.NameStatus(ctx, wt, ref); err != nil {
		return Details{}, err
	}
	if d.DiffStat, err = e.status.DiffStat(ctx, wt, ref); err != nil {
		return Details{}, err
	}
	if d.Commits == nil {
		d.Commits = []worktree.Commit{}
	}
	if d.ChangedFiles == nil {
		d.ChangedFiles = []worktree.FileChange{}
	}
	return d, nil
}

// Diff returns the patch of a worker against the reference branch,
// optionally limited to file.
func (e *Engine) Diff(ctx context.Context, target, file string) (string, error) {
	wt, err := e.registry.Find(ctx, target)
	if err != nil {
		return "", err
	}
	return e.status.Diff(ctx, wt, e.ReferenceBranch(ctx), file)
}

// ReadFile reads rel from a worker's checkout.
func (e *Engine) ReadFile(ctx context.Context, target, rel string) ([]byte, error) {
	wt, err := e.registry.Find(ctx, target)
	if err != nil {
		return nil, err
	}
	return worktree.ReadFile(wt, rel)
}

// Find resolves a branch or path to its worktree.
func (e *Engine) Find(ctx context.Context, target string) (worktree.Worktree, error) {
	return e.registry.Find(ctx, target)
}
