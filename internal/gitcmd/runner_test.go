package gitcmd

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/schmug/karkinos/internal/logging"
)

// mockExecRecorder records all exec calls for verification.
type mockExecRecorder struct {
	calls   [][]string
	results map[string]Result
	errs    map[string]error
}

func newMockExec() *mockExecRecorder {
	return &mockExecRecorder{
		results: make(map[string]Result),
		errs:    make(map[string]error),
	}
}

func (m *mockExecRecorder) exec(_ context.Context, _ string, name string, args []string) (Result, error) {
	line := name + " " + strings.Join(args, " ")
	m.calls = append(m.calls, append([]string{name}, args...))
	if err, ok := m.errs[line]; ok {
		return Result{}, err
	}
	return m.results[line], nil
}

func TestRunner_Success(t *testing.T) {
	mock := newMockExec()
	mock.results["git rev-parse HEAD"] = Result{Stdout: "abc123\n"}
	r := NewRunnerWithExecutor(mock.exec, logging.NopLogger())

	res, err := r.Git(context.Background(), "/repo", Git("rev-parse", "HEAD"))
	if err != nil {
		t.Fatalf("Git() error = %v", err)
	}
	if res.Stdout != "abc123\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestRunner_NonZeroExitIsExecutionError(t *testing.T) {
	mock := newMockExec()
	mock.results["git branch -d --end-of-options feat/x"] = Result{ExitCode: 1, Stderr: "error: not fully merged\n"}
	r := NewRunnerWithExecutor(mock.exec, nil)

	_, err := r.Git(context.Background(), "/repo", Git("branch", "-d").EndOfOptions().Branch("feat/x"))
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *ExecutionError", err)
	}
	if execErr.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", execErr.ExitCode)
	}
	if !strings.Contains(execErr.Error(), "not fully merged") {
		t.Errorf("Error() = %q, want stderr included", execErr.Error())
	}
	if ExitCode(err) != 1 {
		t.Errorf("ExitCode(err) = %d, want 1", ExitCode(err))
	}
}

func TestRunner_InvalidArgumentRunsNothing(t *testing.T) {
	mock := newMockExec()
	r := NewRunnerWithExecutor(mock.exec, nil)

	_, err := r.Git(context.Background(), "/repo", Git("worktree", "add", "-b").Branch("--upload-pack=evil"))
	var invalid *InvalidNameError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want *InvalidNameError", err)
	}
	if len(mock.calls) != 0 {
		t.Errorf("executor called %d times, want 0", len(mock.calls))
	}
}

func TestRunner_StartFailureIsWrapped(t *testing.T) {
	mock := newMockExec()
	mock.errs["git status"] = errors.New("executable not found")
	r := NewRunnerWithExecutor(mock.exec, nil)

	_, err := r.Run(context.Background(), "/repo", "git", "status")
	if err == nil {
		t.Fatal("expected error")
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		t.Error("start failure should not be an *ExecutionError")
	}
	if ExitCode(err) != -1 {
		t.Errorf("ExitCode(err) = %d, want -1", ExitCode(err))
	}
}

func TestRunner_Observer(t *testing.T) {
	mock := newMockExec()
	r := NewRunnerWithExecutor(mock.exec, nil)

	var seen []string
	r.SetObserver(func(command string, exitCode int, _ time.Duration) {
		seen = append(seen, command)
	})

	_, _ = r.Run(context.Background(), "/repo", "git", "--no-pager", "log")
	if len(seen) != 1 || seen[0] != "git log" {
		t.Errorf("observed = %v, want [git log]", seen)
	}
}

func TestRepoCache_DefaultBranchFromRemoteHead(t *testing.T) {
	mock := newMockExec()
	mock.results["git symbolic-ref --quiet refs/remotes/origin/HEAD"] = Result{Stdout: "refs/remotes/origin/trunk\n"}
	r := NewRunnerWithExecutor(mock.exec, nil)
	c := NewRepoCache("/repo", "origin")

	if got := c.DefaultBranch(context.Background(), r); got != "trunk" {
		t.Errorf("DefaultBranch() = %q, want trunk", got)
	}
	if got := c.DefaultBranch(context.Background(), r); got != "trunk" {
		t.Errorf("second DefaultBranch() = %q, want trunk", got)
	}
	if len(mock.calls) != 1 {
		t.Errorf("git called %d times, want 1 (memoized)", len(mock.calls))
	}
}

func TestRepoCache_FallsBackToLocalBranches(t *testing.T) {
	mock := newMockExec()
	mock.results["git symbolic-ref --quiet refs/remotes/origin/HEAD"] = Result{ExitCode: 1}
	mock.results["git rev-parse --verify --quiet refs/heads/main"] = Result{ExitCode: 1}
	mock.results["git rev-parse --verify --quiet refs/heads/master"] = Result{Stdout: "abc\n"}
	r := NewRunnerWithExecutor(mock.exec, nil)

	c := NewRepoCache("/repo", "")
	if got := c.DefaultBranch(context.Background(), r); got != "master" {
		t.Errorf("DefaultBranch() = %q, want master", got)
	}
}

func TestRepoCache_FinalFallback(t *testing.T) {
	mock := newMockExec()
	for _, line := range []string{
		"git symbolic-ref --quiet refs/remotes/origin/HEAD",
		"git rev-parse --verify --quiet refs/heads/main",
		"git rev-parse --verify --quiet refs/heads/master",
	} {
		mock.results[line] = Result{ExitCode: 1}
	}
	r := NewRunnerWithExecutor(mock.exec, nil)

	c := NewRepoCache("/repo", "origin")
	if got := c.DefaultBranch(context.Background(), r); got != FallbackBranch {
		t.Errorf("DefaultBranch() = %q, want %q", got, FallbackBranch)
	}
}

func TestRepoCache_SetDefaultBranch(t *testing.T) {
	mock := newMockExec()
	r := NewRunnerWithExecutor(mock.exec, nil)
	c := NewRepoCache("/repo", "origin")

	if err := c.SetDefaultBranch("-bad"); err == nil {
		t.Error("SetDefaultBranch should validate")
	}
	if err := c.SetDefaultBranch("develop"); err != nil {
		t.Fatalf("SetDefaultBranch() error = %v", err)
	}
	if got := c.DefaultBranch(context.Background(), r); got != "develop" {
		t.Errorf("DefaultBranch() = %q, want develop", got)
	}
	if len(mock.calls) != 0 {
		t.Errorf("git called %d times, want 0", len(mock.calls))
	}
}
