package worktree

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/schmug/karkinos/internal/gitcmd/gitcmdtest"
)

func TestDeclaredFiles_RecordedUntilRemoval(t *testing.T) {
	repo, l := gitRepoLifecycle(t)
	ctx := context.Background()

	wt, err := l.CreateWith(ctx, "feat/claim", "main", []string{"src/api/**", "docs"}, nil)
	if err != nil {
		t.Fatalf("CreateWith() error = %v", err)
	}
	got, err := l.status.DeclaredFiles(wt)
	if err != nil {
		t.Fatalf("DeclaredFiles() error = %v", err)
	}
	if !slices.Equal(got, []string{"src/api/**", "docs"}) {
		t.Errorf("DeclaredFiles() = %v", got)
	}

	dir, err := adminDir(wt)
	if err != nil || dir == "" {
		t.Fatalf("adminDir() = %q, %v", dir, err)
	}
	if _, err := os.Stat(filepath.Join(wt.Path, DeclaredFilesName)); !os.IsNotExist(err) {
		t.Error("declared files leaked into the checkout")
	}

	gitcmdtest.WriteFile(t, filepath.Join(wt.Path, "docs", "api.md"), "# api\n")
	repo.CommitIn(wt.Path, "docs")
	if _, err := l.Remove(ctx, "feat/claim", "main", RemoveOptions{KeepBranch: true}); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, DeclaredFilesName)); !os.IsNotExist(err) {
		t.Errorf("declaration survived removal: %v", err)
	}
	if !branchExists(t, repo, "feat/claim") {
		t.Error("branch should be kept")
	}
}

func TestDeclaredFiles_NothingDeclared(t *testing.T) {
	_, l := gitRepoLifecycle(t)
	ctx := context.Background()

	wt, err := l.Create(ctx, "feat/plain", "main")
	if err != nil {
		t.Fatal(err)
	}
	for _, w := range []Worktree{wt, {Path: l.registry.Root(), Branch: "main", Main: true}, {Path: "/nonexistent/proj-x", Branch: "feat/x"}} {
		got, err := l.status.DeclaredFiles(w)
		if err != nil || got != nil {
			t.Errorf("DeclaredFiles(%s) = %v, %v, want nothing", w.Path, got, err)
		}
	}
}
