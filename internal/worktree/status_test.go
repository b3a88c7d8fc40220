package worktree

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/schmug/karkinos/internal/gitcmd"
	"github.com/schmug/karkinos/internal/gitcmd/gitcmdtest"
)

func TestParseLeftRight(t *testing.T) {
	tests := []struct {
		in          string
		left, right int
		wantErr     bool
	}{
		{"0\t1\n", 0, 1, false},
		{"3\t2", 3, 2, false},
		{"", 0, 0, true},
		{"1", 0, 0, true},
		{"a\tb", 0, 0, true},
		{"-1\t2", 0, 0, true},
	}
	for _, tt := range tests {
		left, right, err := parseLeftRight(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLeftRight(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if left != tt.left || right != tt.right {
			t.Errorf("parseLeftRight(%q) = %d, %d; want %d, %d", tt.in, left, right, tt.left, tt.right)
		}
	}
}

func TestStatusEngine_Compute(t *testing.T) {
	dir := t.TempDir()
	wt := Worktree{Path: dir, Branch: "feat/x", Head: shaB}

	tests := []struct {
		name   string
		script func(f *gitcmdtest.Fake)
		want   SyncStatus
	}{
		{
			name: "ahead and unmerged",
			script: func(f *gitcmdtest.Fake) {
				f.Stdout("git rev-list --left-right --count --end-of-options main...feat/x", "0\t1\n")
				f.Fail("git merge-base --is-ancestor", 1, "")
			},
			want: SyncStatus{AheadCount: 1, BehindCount: 0, IsClean: true, IsMerged: false},
		},
		{
			name: "zero ahead is trivially merged",
			script: func(f *gitcmdtest.Fake) {
				f.Stdout("git rev-list --left-right --count", "4\t0\n")
			},
			want: SyncStatus{AheadCount: 0, BehindCount: 4, IsClean: true, IsMerged: true},
		},
		{
			name: "diverged reports both counts",
			script: func(f *gitcmdtest.Fake) {
				f.Stdout("git rev-list --left-right --count", "2\t3\n")
				f.Fail("git merge-base --is-ancestor", 1, "")
				f.Stdout("git status --porcelain", " M src/a.go\n")
			},
			want: SyncStatus{AheadCount: 3, BehindCount: 2, IsClean: false, IsMerged: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := gitcmdtest.New()
			tt.script(fake)
			s := NewStatusEngine(fake.Runner(), "/src/proj", nil)

			got, err := s.Compute(context.Background(), wt, "main")
			if err != nil {
				t.Fatalf("Compute() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Compute() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStatusEngine_ComputeOrphaned(t *testing.T) {
	fake := gitcmdtest.New()
	s := NewStatusEngine(fake.Runner(), "/src/proj", nil)
	wt := Worktree{Path: filepath.Join(t.TempDir(), "gone"), Branch: "feat/x", Head: shaB}

	_, err := s.Compute(context.Background(), wt, "main")
	var orphan *OrphanedEntryError
	if !errors.As(err, &orphan) {
		t.Fatalf("Compute() error = %v, want *OrphanedEntryError", err)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("git ran %d times for an orphaned entry, want 0", len(fake.Calls()))
	}
}

func TestStatusEngine_ComputeRejectsUnsafeBranch(t *testing.T) {
	fake := gitcmdtest.New()
	s := NewStatusEngine(fake.Runner(), "/src/proj", nil)
	wt := Worktree{Path: t.TempDir(), Branch: "-unsafe", Head: shaB}

	_, err := s.Compute(context.Background(), wt, "main")
	var invalid *gitcmd.InvalidNameError
	if !errors.As(err, &invalid) {
		t.Fatalf("Compute() error = %v, want *InvalidNameError", err)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("git ran %d times, want 0", len(fake.Calls()))
	}
}

func TestStatusEngine_AncestryErrorPropagates(t *testing.T) {
	fake := gitcmdtest.New().
		Stdout("git rev-list --left-right --count", "0\t2\n").
		Fail("git merge-base --is-ancestor", 128, "fatal: bad object")
	s := NewStatusEngine(fake.Runner(), "/src/proj", nil)

	_, err := s.Compute(context.Background(), Worktree{Path: t.TempDir(), Branch: "feat/x"}, "main")
	if err == nil {
		t.Fatal("Compute() should fail when merge-base exits 128")
	}
}

func TestStatusEngine_ChangedFiles(t *testing.T) {
	dir := t.TempDir()
	fake := gitcmdtest.New().
		Stdout("git diff --name-only --no-renames -z --end-of-options main...feat/x", "src/a.go\x00docs/b.md\x00").
		Set(dir, "git diff --name-only --no-renames -z HEAD", gitcmd.Result{Stdout: "src/a.go\x00src/c.go\x00"}).
		Set(dir, "git ls-files --others", gitcmd.Result{Stdout: "new.txt\x00"})
	s := NewStatusEngine(fake.Runner(), "/src/proj", nil)

	files, err := s.ChangedFiles(context.Background(), Worktree{Path: dir, Branch: "feat/x"}, "main")
	if err != nil {
		t.Fatalf("ChangedFiles() error = %v", err)
	}
	want := []string{"docs/b.md", "new.txt", "src/a.go", "src/c.go"}
	if len(files) != len(want) {
		t.Fatalf("files = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestStatusEngine_ChangedFilesOrphanedUsesCommitsOnly(t *testing.T) {
	fake := gitcmdtest.New().Stdout("git diff --name-only --no-renames -z --end-of-options", "src/a.go\x00")
	s := NewStatusEngine(fake.Runner(), "/src/proj", nil)

	files, err := s.ChangedFiles(context.Background(), Worktree{Path: "/does/not/exist", Branch: "feat/x"}, "main")
	if err != nil {
		t.Fatalf("ChangedFiles() error = %v", err)
	}
	if len(files) != 1 || files[0] != "src/a.go" {
		t.Errorf("files = %v", files)
	}
	if fake.Ran("git ls-files") {
		t.Error("should not inspect the working tree of an orphaned entry")
	}
}
