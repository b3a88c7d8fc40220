//go:build e2e
// +build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schmug/karkinos/internal/engine"
	"github.com/schmug/karkinos/internal/gitcmd/gitcmdtest"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "karkinos-e2e-")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	binary, err = buildBinary(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building karkinos: %v\n", err)
		_ = os.RemoveAll(dir)
		os.Exit(1)
	}
	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

func listJSON(t *testing.T, h *Harness, args ...string) []engine.Entry {
	t.Helper()
	var entries []engine.Entry
	out := h.MustRun(append([]string{"list", "--json"}, args...)...)
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decoding list: %v\n%s", err, out)
	}
	return entries
}

func createJSON(t *testing.T, h *Harness, args ...string) engine.CreateResult {
	t.Helper()
	var res engine.CreateResult
	out := h.MustRun(append([]string{"create", "--json"}, args...)...)
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decoding create: %v\n%s", err, out)
	}
	return res
}

func TestWorkerLifecycle(t *testing.T) {
	h := NewHarness(t)

	api := createJSON(t, h, "feat/api", "--files", "src/api/**")
	if api.Path != filepath.Join(filepath.Dir(h.Repo.Root), "proj-feat-api") {
		t.Errorf("worker path = %q", api.Path)
	}
	gitcmdtest.WriteFile(t, filepath.Join(api.Path, "src", "api", "handler.go"), "package api\n")
	h.Repo.CommitIn(api.Path, "add handler")

	entries := listJSON(t, h)
	if len(entries) != 1 || entries[0].Branch != "feat/api" || entries[0].AheadCount != 1 {
		t.Fatalf("list = %+v", entries)
	}

	res := h.Run("check", "src/api/*.go")
	if res.Code != 3 || !strings.Contains(res.Stdout, "src/api/handler.go") {
		t.Errorf("check: exit %d\n%s", res.Code, res.Stdout)
	}
	if out := h.MustRun("check", "docs/**"); !strings.HasPrefix(out, "Clear:") {
		t.Errorf("check docs/** = %q", out)
	}

	res = h.Run("create", "feat/refactor", "--files", "src/**")
	if res.Code != 3 {
		t.Fatalf("overlapping create exit = %d, want 3\n%s", res.Code, res.Stderr)
	}
	if !strings.Contains(res.Stderr, "src/api/handler.go (matches src/**) owned by feat/api") {
		t.Errorf("create stderr = %q", res.Stderr)
	}

	if res := h.Run("remove", "feat/api"); res.Code != 3 {
		t.Errorf("unmerged remove exit = %d, want 3", res.Code)
	}

	h.Repo.Git("merge", "--quiet", "--no-ff", "-m", "merge feat/api", "feat/api")
	out := h.MustRun("cleanup")
	if !strings.Contains(out, "Removed: "+api.Path) {
		t.Errorf("cleanup = %q", out)
	}
	if entries := listJSON(t, h); len(entries) != 0 {
		t.Errorf("workers after cleanup = %+v", entries)
	}
	if got := h.Repo.Git("branch", "--list", "feat/api"); got != "" {
		t.Errorf("merged branch kept: %q", got)
	}
}

func TestUpdateRebasesWorkers(t *testing.T) {
	h := NewHarness(t)

	w := createJSON(t, h, "feat/behind")
	gitcmdtest.WriteFile(t, filepath.Join(w.Path, "feature.txt"), "feature\n")
	h.Repo.CommitIn(w.Path, "feature")
	h.Repo.WriteFile("upstream.txt", "upstream\n")
	h.Repo.Commit("upstream")

	if out := h.MustRun("update", "--no-fetch"); !strings.Contains(out, "Would rebase: feat/behind") {
		t.Errorf("update dry run = %q", out)
	}
	if out := h.MustRun("update", "--no-fetch", "--apply"); !strings.Contains(out, "Updated: feat/behind") {
		t.Errorf("update apply = %q", out)
	}
	if _, err := os.Stat(filepath.Join(w.Path, "upstream.txt")); err != nil {
		t.Errorf("worker missing upstream commit: %v", err)
	}
}

func TestInvalidInputExitCodes(t *testing.T) {
	h := NewHarness(t)

	tests := []struct {
		args []string
		want int
	}{
		{[]string{"create", "-bad"}, 2},
		{[]string{"create", "feat/a", "--files", "../outside"}, 2},
		{[]string{"bogus"}, 2},
		{[]string{"remove", "feat/missing"}, 1},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			if res := h.Run(tt.args...); res.Code != tt.want {
				t.Errorf("exit = %d, want %d\nstderr: %s", res.Code, tt.want, res.Stderr)
			}
		})
	}
}

func TestVersion(t *testing.T) {
	h := NewHarness(t)
	if out := h.MustRun("version"); out != "dev\n" {
		t.Errorf("version = %q", out)
	}
}
