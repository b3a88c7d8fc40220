package repo

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/schmug/karkinos/internal/gitcmd/gitcmdtest"
)

func TestDiscover_MainWorktree(t *testing.T) {
	r := gitcmdtest.NewRepo(t)
	gitcmdtest.WriteFile(t, filepath.Join(r.Root, "src", "deep", "a.go"), "package deep\n")

	info, err := Discover(filepath.Join(r.Root, "src", "deep"))
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if info.Root != r.Root || info.Current != r.Root {
		t.Errorf("info = %+v, want root %s", info, r.Root)
	}
	if info.Name != "proj" {
		t.Errorf("Name = %q", info.Name)
	}
	if info.CommonDir != filepath.Join(r.Root, ".git") {
		t.Errorf("CommonDir = %q", info.CommonDir)
	}
	if info.Linked() {
		t.Error("Linked() = true for main worktree")
	}
}

func TestDiscover_LinkedWorktree(t *testing.T) {
	r := gitcmdtest.NewRepo(t)
	linked := filepath.Join(filepath.Dir(r.Root), "proj-feat-x")
	r.Git("worktree", "add", "-b", "feat/x", linked, "main")

	info, err := Discover(linked)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if info.Root != r.Root {
		t.Errorf("Root = %q, want %q", info.Root, r.Root)
	}
	if info.Current != linked {
		t.Errorf("Current = %q, want %q", info.Current, linked)
	}
	if info.Name != "proj" || !info.Linked() {
		t.Errorf("info = %+v", info)
	}
}

func TestDiscover_NotARepository(t *testing.T) {
	_, err := Discover(t.TempDir())
	if !errors.Is(err, ErrNotRepository) {
		t.Fatalf("Discover() error = %v, want ErrNotRepository", err)
	}
}
