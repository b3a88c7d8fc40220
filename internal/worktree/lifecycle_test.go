package worktree

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schmug/karkinos/internal/gitcmd"
	"github.com/schmug/karkinos/internal/gitcmd/gitcmdtest"
)

func newTestLifecycle(runner *gitcmd.Runner, root, parent string) *Lifecycle {
	reg := NewRegistry(runner, root, nil)
	st := NewStatusEngine(runner, root, nil)
	return NewLifecycle(runner, reg, st, Layout{RepoName: "proj", Parent: parent}, nil)
}

func gitRepoLifecycle(t *testing.T) (*gitcmdtest.Repo, *Lifecycle) {
	t.Helper()
	repo := gitcmdtest.NewRepo(t)
	return repo, newTestLifecycle(gitcmd.NewRunner(nil), repo.Root, filepath.Dir(repo.Root))
}

func branchExists(t *testing.T, repo *gitcmdtest.Repo, branch string) bool {
	t.Helper()
	return strings.TrimSpace(repo.Git("branch", "--list", branch)) != ""
}

func TestLifecycle_InvalidNamesRunNothing(t *testing.T) {
	fake := gitcmdtest.New()
	l := newTestLifecycle(fake.Runner(), "/src/proj", "/src")

	for _, tt := range []struct{ branch, base string }{
		{"-x", "main"},
		{"feat/x", "--upload-pack=evil"},
		{"feat/../x", "main"},
		{"feat x", "main"},
	} {
		_, err := l.Create(context.Background(), tt.branch, tt.base)
		var invalid *gitcmd.InvalidNameError
		if !errors.As(err, &invalid) {
			t.Errorf("Create(%q, %q) error = %v, want *InvalidNameError", tt.branch, tt.base, err)
		}
	}
	if n := len(fake.Calls()); n != 0 {
		t.Errorf("git ran %d times, want 0", n)
	}
}

func TestLifecycle_RemoveMainIsProtected(t *testing.T) {
	fake := gitcmdtest.New().Stdout(listCmd,
		"worktree /src/proj\nHEAD "+shaA+"\nbranch refs/heads/main\n")
	l := newTestLifecycle(fake.Runner(), "/src/proj", "/src")

	for _, opts := range []RemoveOptions{{}, {Force: true}, {DryRun: true}} {
		_, err := l.Remove(context.Background(), "main", "main", opts)
		var protected *ProtectedWorktreeError
		if !errors.As(err, &protected) {
			t.Errorf("Remove(main, %+v) error = %v, want *ProtectedWorktreeError", opts, err)
		}
	}
	if fake.Ran("git worktree remove") || fake.Ran("git branch") {
		t.Error("protected removal must not mutate")
	}
}

func TestLifecycle_RemoveDryRunReportsPolicy(t *testing.T) {
	dir := t.TempDir()
	porcelain := "worktree /src/proj\nHEAD " + shaA + "\nbranch refs/heads/main\n\n" +
		"worktree " + dir + "\nHEAD " + shaB + "\nbranch refs/heads/feat/x\n"

	tests := []struct {
		name       string
		script     func(f *gitcmdtest.Fake)
		wantRemove bool
		wantReason string
	}{
		{
			name: "unmerged",
			script: func(f *gitcmdtest.Fake) {
				f.Stdout("git rev-list --left-right --count", "0\t2\n")
				f.Fail("git merge-base --is-ancestor", 1, "")
			},
			wantReason: "not merged",
		},
		{
			name: "dirty",
			script: func(f *gitcmdtest.Fake) {
				f.Stdout("git rev-list --left-right --count", "0\t0\n")
				f.Stdout("git status --porcelain", " M a.go\n")
			},
			wantReason: "uncommitted",
		},
		{
			name: "merged",
			script: func(f *gitcmdtest.Fake) {
				f.Stdout("git rev-list --left-right --count", "1\t0\n")
			},
			wantRemove: true,
			wantReason: "merged into main",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := gitcmdtest.New().Stdout(listCmd, porcelain)
			tt.script(fake)
			l := newTestLifecycle(fake.Runner(), "/src/proj", "/src")

			res, err := l.Remove(context.Background(), "feat/x", "main", RemoveOptions{DryRun: true})
			if err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
			if res.WouldRemove != tt.wantRemove {
				t.Errorf("WouldRemove = %v, want %v", res.WouldRemove, tt.wantRemove)
			}
			if !strings.Contains(res.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want it to contain %q", res.Reason, tt.wantReason)
			}
			if fake.Ran("git worktree remove") || fake.Ran("git branch") {
				t.Error("dry run must not mutate")
			}
		})
	}
}

func TestLifecycle_CreateListRoundTrip(t *testing.T) {
	repo, l := gitRepoLifecycle(t)
	ctx := context.Background()

	wt, err := l.Create(ctx, "feat/login", "main")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	wantPath := filepath.Join(filepath.Dir(repo.Root), "proj-feat-login")
	if wt.Path != wantPath {
		t.Errorf("Path = %q, want %q", wt.Path, wantPath)
	}
	if len(wt.Head) != 40 {
		t.Errorf("Head = %q", wt.Head)
	}

	workers, err := l.registry.Workers(ctx)
	if err != nil {
		t.Fatalf("Workers() error = %v", err)
	}
	if len(workers) != 1 || workers[0].Branch != "feat/login" {
		t.Fatalf("workers = %+v", workers)
	}

	st, err := l.status.Compute(ctx, workers[0], "main")
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if st != (SyncStatus{IsClean: true, IsMerged: true}) {
		t.Errorf("fresh worktree status = %+v", st)
	}

	_, err = l.Create(ctx, "feat/login", "main")
	var exists *AlreadyExistsError
	if !errors.As(err, &exists) {
		t.Errorf("second Create() error = %v, want *AlreadyExistsError", err)
	}
}

func TestLifecycle_CreateRejectsExistingBranch(t *testing.T) {
	repo, l := gitRepoLifecycle(t)
	repo.Git("branch", "feat/taken")

	_, err := l.Create(context.Background(), "feat/taken", "main")
	var exists *AlreadyExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("Create() error = %v, want *AlreadyExistsError", err)
	}
	if _, statErr := os.Stat(l.Layout().Path("feat/taken")); !os.IsNotExist(statErr) {
		t.Error("no worktree directory should have been created")
	}
}

func TestLifecycle_UnmergedRemovalLeavesEverything(t *testing.T) {
	repo, l := gitRepoLifecycle(t)
	ctx := context.Background()

	wt, err := l.Create(ctx, "feat/x", "main")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	gitcmdtest.WriteFile(t, filepath.Join(wt.Path, "x.txt"), "x\n")
	repo.CommitIn(wt.Path, "add x")

	st, err := l.status.Compute(ctx, wt, "main")
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if st.AheadCount != 1 || st.IsMerged {
		t.Errorf("status after commit = %+v", st)
	}

	_, err = l.Remove(ctx, "feat/x", "main", RemoveOptions{})
	var unmerged *UnmergedBranchError
	if !errors.As(err, &unmerged) {
		t.Fatalf("Remove() error = %v, want *UnmergedBranchError", err)
	}
	if unmerged.Ahead != 1 {
		t.Errorf("Ahead = %d, want 1", unmerged.Ahead)
	}
	if _, err := os.Stat(wt.Path); err != nil {
		t.Errorf("worktree directory should remain: %v", err)
	}
	if !branchExists(t, repo, "feat/x") {
		t.Error("branch should remain")
	}

	repo.Git("merge", "--ff-only", "--quiet", "feat/x")
	st, err = l.status.Compute(ctx, wt, "main")
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if !st.IsMerged {
		t.Errorf("status after merge = %+v, want merged", st)
	}

	res, err := l.Remove(ctx, "feat/x", "main", RemoveOptions{})
	if err != nil {
		t.Fatalf("Remove() after merge error = %v", err)
	}
	if !res.WorktreeRemoved || !res.BranchDeleted {
		t.Errorf("result = %+v", res)
	}
	if _, err := os.Stat(wt.Path); !os.IsNotExist(err) {
		t.Error("worktree directory should be gone")
	}
	if branchExists(t, repo, "feat/x") {
		t.Error("merged branch should be deleted")
	}
}

func TestLifecycle_DirtyRemovalFails(t *testing.T) {
	_, l := gitRepoLifecycle(t)
	ctx := context.Background()

	wt, err := l.Create(ctx, "fix/dirty", "main")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	gitcmdtest.WriteFile(t, filepath.Join(wt.Path, "README.md"), "changed\n")

	_, err = l.Remove(ctx, "fix/dirty", "main", RemoveOptions{})
	var dirty *DirtyWorktreeError
	if !errors.As(err, &dirty) {
		t.Fatalf("Remove() error = %v, want *DirtyWorktreeError", err)
	}
	if _, err := os.Stat(wt.Path); err != nil {
		t.Errorf("worktree should remain: %v", err)
	}

	res, err := l.Remove(ctx, "fix/dirty", "main", RemoveOptions{Force: true})
	if err != nil {
		t.Fatalf("forced Remove() error = %v", err)
	}
	if !res.WorktreeRemoved || !res.BranchDeleted {
		t.Errorf("forced result = %+v", res)
	}
}

func TestLifecycle_KeepBranch(t *testing.T) {
	repo, l := gitRepoLifecycle(t)
	ctx := context.Background()

	wt, err := l.Create(ctx, "feat/keep", "main")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	gitcmdtest.WriteFile(t, filepath.Join(wt.Path, "k.txt"), "k\n")
	repo.CommitIn(wt.Path, "keep me")

	res, err := l.Remove(ctx, wt.Path, "main", RemoveOptions{KeepBranch: true})
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if !res.WorktreeRemoved || res.BranchDeleted {
		t.Errorf("result = %+v", res)
	}
	if !branchExists(t, repo, "feat/keep") {
		t.Error("branch should be kept")
	}
}

func TestLifecycle_RemoveAllMerged(t *testing.T) {
	repo, l := gitRepoLifecycle(t)
	ctx := context.Background()

	if _, err := l.Create(ctx, "feat/done", "main"); err != nil {
		t.Fatal(err)
	}
	wip, err := l.Create(ctx, "feat/wip", "main")
	if err != nil {
		t.Fatal(err)
	}
	gitcmdtest.WriteFile(t, filepath.Join(wip.Path, "w.txt"), "w\n")
	repo.CommitIn(wip.Path, "wip")

	dirty, err := l.Create(ctx, "fix/dirty", "main")
	if err != nil {
		t.Fatal(err)
	}
	gitcmdtest.WriteFile(t, filepath.Join(dirty.Path, "README.md"), "dirty\n")

	dry, err := l.RemoveAllMerged(ctx, "main", CleanupOptions{DryRun: true})
	if err != nil {
		t.Fatalf("dry RemoveAllMerged() error = %v", err)
	}
	if len(dry.Removed) != 1 || dry.Removed[0].Branch != "feat/done" {
		t.Errorf("dry Removed = %+v", dry.Removed)
	}
	if !branchExists(t, repo, "feat/done") {
		t.Fatal("dry run deleted a branch")
	}

	report, err := l.RemoveAllMerged(ctx, "main", CleanupOptions{})
	if err != nil {
		t.Fatalf("RemoveAllMerged() error = %v", err)
	}
	if len(report.Removed) != 1 || report.Removed[0].Branch != "feat/done" {
		t.Errorf("Removed = %+v", report.Removed)
	}
	if len(report.SkippedUnmerged) != 1 || report.SkippedUnmerged[0].Branch != "feat/wip" {
		t.Errorf("SkippedUnmerged = %+v", report.SkippedUnmerged)
	}
	if len(report.SkippedDirty) != 1 || report.SkippedDirty[0].Branch != "fix/dirty" {
		t.Errorf("SkippedDirty = %+v", report.SkippedDirty)
	}
	if len(report.Failed) != 0 {
		t.Errorf("Failed = %+v", report.Failed)
	}
	if branchExists(t, repo, "feat/done") {
		t.Error("merged branch should be deleted")
	}
}

func TestLifecycle_RemoveAllMergedOrphanAndUnsafe(t *testing.T) {
	gone := filepath.Join(t.TempDir(), "gone")
	fake := gitcmdtest.New().Stdout(listCmd,
		"worktree /src/proj\nHEAD "+shaA+"\nbranch refs/heads/main\n\n"+
			"worktree "+gone+"\nHEAD "+shaB+"\nbranch refs/heads/feat/gone\n\n"+
			"worktree "+t.TempDir()+"\nHEAD "+shaC+"\nbranch refs/heads/-unsafe\n")
	l := newTestLifecycle(fake.Runner(), "/src/proj", "/src")

	report, err := l.RemoveAllMerged(context.Background(), "main", CleanupOptions{})
	if err != nil {
		t.Fatalf("RemoveAllMerged() error = %v", err)
	}
	if len(report.SkippedOrphaned) != 1 || report.SkippedOrphaned[0].Branch != "feat/gone" {
		t.Errorf("SkippedOrphaned = %+v", report.SkippedOrphaned)
	}
	if len(report.Failed) != 1 || report.Failed[0].Branch != "-unsafe" {
		t.Errorf("Failed = %+v", report.Failed)
	}
	if fake.Ran("git worktree remove") {
		t.Error("nothing should have been removed")
	}
}

type countingLocker struct{ n int }

func (c *countingLocker) Lock(context.Context) (func(), error) {
	c.n++
	return func() {}, nil
}

func TestLifecycle_MutationsTakeLock(t *testing.T) {
	fake := gitcmdtest.New()
	l := newTestLifecycle(fake.Runner(), "/src/proj", t.TempDir())
	locker := &countingLocker{}
	l.SetLocker(locker)

	_, _ = l.Remove(context.Background(), "feat/none", "main", RemoveOptions{})
	_, _ = l.RemoveAllMerged(context.Background(), "main", CleanupOptions{})
	if locker.n != 2 {
		t.Errorf("lock taken %d times, want 2", locker.n)
	}
}

func TestLifecycle_CreateWithPrecheckBlocks(t *testing.T) {
	_, l := gitRepoLifecycle(t)
	blocked := errors.New("blocked")

	_, err := l.CreateWith(context.Background(), "feat/gated", "main", []string{"src"}, func(context.Context) error { return blocked })
	if !errors.Is(err, blocked) {
		t.Fatalf("CreateWith() error = %v, want precheck error", err)
	}
	if _, statErr := os.Stat(l.Layout().Path("feat/gated")); !os.IsNotExist(statErr) {
		t.Error("blocked creation must not create the worktree")
	}
}

func TestLifecycle_EnsureBranch(t *testing.T) {
	repo, l := gitRepoLifecycle(t)
	ctx := context.Background()

	created, err := l.EnsureBranch(ctx, "integration", "main")
	if err != nil || !created {
		t.Fatalf("EnsureBranch() = %v, %v", created, err)
	}
	if !branchExists(t, repo, "integration") {
		t.Fatal("integration branch missing")
	}

	created, err = l.EnsureBranch(ctx, "integration", "main")
	if err != nil || created {
		t.Errorf("second EnsureBranch() = %v, %v, want false, nil", created, err)
	}
}
