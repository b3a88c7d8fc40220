// pattern: Imperative Shell

package gitcmdtest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Repo is a scratch repository created under t.TempDir().
type Repo struct {
	t    testing.TB
	Root string
}

// NewRepo initializes a repository named "proj" on branch main with one
// commit. The test is skipped when git is not installed.
func NewRepo(t testing.TB) *Repo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	parent := t.TempDir()
	// Resolve symlinks so paths match what git reports (macOS /var -> /private/var).
	if resolved, err := filepath.EvalSymlinks(parent); err == nil {
		parent = resolved
	}
	root := filepath.Join(parent, "proj")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	r := &Repo{t: t, Root: root}
	r.Git("init", "--quiet")
	r.Git("symbolic-ref", "HEAD", "refs/heads/main")
	r.Git("config", "user.email", "test@example.com")
	r.Git("config", "user.name", "Test")
	r.Git("config", "commit.gpgsign", "false")
	r.WriteFile("README.md", "# proj\n")
	r.Commit("initial")
	return r
}

// Git runs git in the repository root and returns trimmed stdout.
func (r *Repo) Git(args ...string) string {
	r.t.Helper()
	return r.GitIn(r.Root, args...)
}

// GitIn runs git in dir and returns trimmed stdout.
func (r *Repo) GitIn(dir string, args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "LC_ALL=C", "GIT_CONFIG_NOSYSTEM=1")
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// WriteFile writes content to rel inside the repository root.
func (r *Repo) WriteFile(rel, content string) {
	r.t.Helper()
	WriteFile(r.t, filepath.Join(r.Root, rel), content)
}

// Commit stages everything in the root and commits.
func (r *Repo) Commit(msg string) {
	r.t.Helper()
	r.CommitIn(r.Root, msg)
}

// CommitIn stages everything in dir and commits.
func (r *Repo) CommitIn(dir, msg string) {
	r.t.Helper()
	r.GitIn(dir, "add", "-A")
	r.GitIn(dir, "commit", "--quiet", "-m", msg)
}

// WriteFile creates parent directories and writes content to path.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
