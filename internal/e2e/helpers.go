//go:build e2e
// +build e2e

// pattern: Imperative Shell

// Package e2e drives a built karkinos binary against scratch repositories.
// Run with: go test -tags e2e ./internal/e2e/
package e2e

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/schmug/karkinos/internal/gitcmd/gitcmdtest"
	"github.com/schmug/karkinos/internal/instance"
)

// binary is the karkinos executable built by TestMain.
var binary string

// buildBinary compiles the module root into dir.
func buildBinary(dir string) (string, error) {
	out := filepath.Join(dir, "karkinos")
	cmd := exec.Command("go", "build", "-o", out, ".")
	cmd.Dir = filepath.Join("..", "..")
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", errors.New(string(output))
	}
	return out, nil
}

// Harness runs the binary inside one scratch repository with an isolated
// config directory.
type Harness struct {
	t         *testing.T
	Repo      *gitcmdtest.Repo
	ConfigDir string
}

// Result is the outcome of one invocation.
type Result struct {
	Stdout string
	Stderr string
	Code   int
}

// NewHarness creates a scratch repository on main with one commit.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	return &Harness{t: t, Repo: gitcmdtest.NewRepo(t), ConfigDir: t.TempDir()}
}

func (h *Harness) command(ctx context.Context, args ...string) *exec.Cmd {
	full := append([]string{"-c", h.ConfigDir, "-C", h.Repo.Root}, args...)
	cmd := exec.CommandContext(ctx, binary, full...)
	cmd.Dir = h.Repo.Root
	cmd.Env = append(os.Environ(), "LC_ALL=C", "GIT_CONFIG_NOSYSTEM=1")
	return cmd
}

// Run executes one command line and waits for it.
func (h *Harness) Run(args ...string) Result {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := h.command(ctx, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.Code = exitErr.ExitCode()
	default:
		h.t.Fatalf("karkinos %s: %v", strings.Join(args, " "), err)
	}
	return res
}

// MustRun is Run that fails the test on a non-zero exit.
func (h *Harness) MustRun(args ...string) string {
	h.t.Helper()
	res := h.Run(args...)
	if res.Code != 0 {
		h.t.Fatalf("karkinos %s: exit %d\nstdout: %s\nstderr: %s", strings.Join(args, " "), res.Code, res.Stdout, res.Stderr)
	}
	return res.Stdout
}

// Server is a running `karkinos serve`.
type Server struct {
	URL  string
	cmd  *exec.Cmd
	done chan error
}

// Serve starts `karkinos serve --port 0` and waits until its port file is
// discoverable. The server is interrupted when the test ends.
func (h *Harness) Serve() *Server {
	h.t.Helper()
	cmd := h.command(context.Background(), "serve", "--bind", "127.0.0.1", "--port", "0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		h.t.Fatalf("starting serve: %v", err)
	}

	s := &Server{cmd: cmd, done: make(chan error, 1)}
	go func() { s.done <- cmd.Wait() }()
	h.t.Cleanup(func() { _ = s.Stop() })

	commonDir := filepath.Join(h.Repo.Root, ".git")
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if url, err := instance.Discover(commonDir); err == nil {
			s.URL = url
			return s
		}
		select {
		case err := <-s.done:
			h.t.Fatalf("serve exited early: %v\n%s", err, stderr.String())
		case <-time.After(100 * time.Millisecond):
		}
	}
	h.t.Fatalf("serve never wrote its port file\n%s", stderr.String())
	return nil
}

// Stop interrupts the server and waits for it to exit.
func (s *Server) Stop() error {
	if s.cmd.ProcessState != nil {
		return nil
	}
	_ = s.cmd.Process.Signal(syscall.SIGINT)
	select {
	case err := <-s.done:
		s.done <- err
		return err
	case <-time.After(15 * time.Second):
		_ = s.cmd.Process.Kill()
		return errors.New("serve did not stop after SIGINT")
	}
}
