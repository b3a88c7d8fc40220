// pattern: Imperative Shell

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/schmug/karkinos/internal/engine"
	"github.com/schmug/karkinos/internal/instance"
	"github.com/schmug/karkinos/internal/worktree"
)

// Backend is what the worker commands need. The engine serves it in
// process; instance.Client serves it through a running `karkinos serve`.
type Backend interface {
	List(ctx context.Context, all bool) ([]engine.Entry, error)
	Create(ctx context.Context, req engine.CreateRequest) (engine.CreateResult, error)
	Details(ctx context.Context, branch string) (engine.Details, error)
	Remove(ctx context.Context, target string, opts worktree.RemoveOptions) (worktree.RemovalResult, error)
	Check(ctx context.Context, files []string) (engine.CheckResult, error)
	Cleanup(ctx context.Context, opts worktree.CleanupOptions) (worktree.CleanupReport, error)
	Update(ctx context.Context, opts worktree.UpdateOptions) (worktree.UpdateReport, error)
}

var (
	_ Backend = Local{}
	_ Backend = (*instance.Client)(nil)
)

// Local adapts an engine to Backend.
type Local struct {
	Engine *engine.Engine
}

func (l Local) List(ctx context.Context, all bool) ([]engine.Entry, error) {
	if all {
		return l.Engine.SnapshotAll(ctx)
	}
	return l.Engine.Snapshot(ctx)
}

func (l Local) Create(ctx context.Context, req engine.CreateRequest) (engine.CreateResult, error) {
	return l.Engine.CreateWorker(ctx, req)
}

func (l Local) Details(ctx context.Context, branch string) (engine.Details, error) {
	return l.Engine.Details(ctx, branch)
}

func (l Local) Remove(ctx context.Context, target string, opts worktree.RemoveOptions) (worktree.RemovalResult, error) {
	return l.Engine.Remove(ctx, target, opts)
}

func (l Local) Check(ctx context.Context, files []string) (engine.CheckResult, error) {
	return l.Engine.Check(ctx, files)
}

func (l Local) Cleanup(ctx context.Context, opts worktree.CleanupOptions) (worktree.CleanupReport, error) {
	return l.Engine.Cleanup(ctx, opts)
}

func (l Local) Update(ctx context.Context, opts worktree.UpdateOptions) (worktree.UpdateReport, error) {
	return l.Engine.UpdateBranches(ctx, opts)
}

// Delegate picks the backend for a command: the running server for the
// repository when there is one, so its event and watch subscribers see the
// change, otherwise the local engine.
type Delegate struct {
	// Discover finds the server for a git common dir. Defaults to
	// instance.Discover. Overridable for testing.
	Discover func(commonDir string) (string, error)

	// Stderr receives the warning printed when a server looks present but
	// cannot be reached. Defaults to io.Discard.
	Stderr io.Writer

	// ClientTimeout is the HTTP client timeout. Defaults to 30 seconds.
	// Update with fetch and create on large repositories may need longer.
	ClientTimeout time.Duration
}

// Backend returns the server client or Local{rt.Engine}. A server that
// holds the lock but fails its health check is reported and bypassed; the
// mutation lock still serializes the local engine against it.
func (d *Delegate) Backend(rt *Runtime) Backend {
	discover := d.Discover
	if discover == nil {
		discover = instance.Discover
	}
	stderr := d.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	baseURL, err := discover(rt.Repo.CommonDir)
	switch {
	case err == nil:
		rt.Logs.For("app").Debug("delegating to server", "url", baseURL)
		if d.ClientTimeout > 0 {
			return instance.NewClientWithTimeout(baseURL, d.ClientTimeout)
		}
		return instance.NewClient(baseURL)
	case errors.Is(err, instance.ErrNoInstance):
		return Local{Engine: rt.Engine}
	default:
		fmt.Fprintf(stderr, "warning: %v; running locally\n", err)
		rt.Logs.For("app").Info("server discovery failed", "error", err)
		return Local{Engine: rt.Engine}
	}
}
