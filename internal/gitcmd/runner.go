// pattern: Imperative Shell

package gitcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/schmug/karkinos/internal/logging"
)

// Result is the captured outcome of one external command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs name with args in dir and reports the exit code.
// It returns an error only when the process could not be run at all;
// a non-zero exit is reported through Result.ExitCode.
type Executor func(ctx context.Context, dir, name string, args []string) (Result, error)

// Observer is notified after every command with its subcommand label,
// exit code and wall time.
type Observer func(command string, exitCode int, elapsed time.Duration)

// ExecutionError reports a command that exited non-zero.
type ExecutionError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExecutionError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, msg)
}

// Runner executes git (and the code-hosting CLI) as discrete argv tokens.
// It never goes through a shell.
type Runner struct {
	exec    Executor
	logger  *logging.ScopedLogger
	observe Observer
}

// NewRunner creates a Runner backed by os/exec.
func NewRunner(logger *logging.ScopedLogger) *Runner {
	return NewRunnerWithExecutor(execCommand, logger)
}

// NewRunnerWithExecutor creates a Runner with the given executor (for testing).
func NewRunnerWithExecutor(exec Executor, logger *logging.ScopedLogger) *Runner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Runner{exec: exec, logger: logger}
}

// SetObserver installs a hook called after every command.
func (r *Runner) SetObserver(o Observer) {
	r.observe = o
}

// Git builds argv and runs git in dir. Any validation failure in argv is
// returned before a process is started.
func (r *Runner) Git(ctx context.Context, dir string, argv *Argv) (Result, error) {
	args, err := argv.Build()
	if err != nil {
		return Result{}, err
	}
	return r.Run(ctx, dir, "git", args...)
}

// Run executes name with args in dir. A non-zero exit is returned as
// *ExecutionError together with the captured Result.
func (r *Runner) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	label := commandLabel(name, args)
	start := time.Now()

	res, err := r.exec(ctx, dir, name, args)
	elapsed := time.Since(start)
	if err != nil {
		r.logger.Error("command failed to run", "command", label, "dir", dir, "error", err)
		if r.observe != nil {
			r.observe(label, -1, elapsed)
		}
		return res, fmt.Errorf("%s: %w", label, err)
	}

	r.logger.Debug("command finished",
		"command", label,
		"args", args,
		"dir", dir,
		"exit_code", res.ExitCode,
		"duration", elapsed,
	)
	if r.observe != nil {
		r.observe(label, res.ExitCode, elapsed)
	}

	if res.ExitCode != 0 {
		return res, &ExecutionError{
			Command:  name + " " + strings.Join(args, " "),
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}
	return res, nil
}

// commandLabel returns "git <subcommand>" for logging and metrics.
func commandLabel(name string, args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return name + " " + a
		}
	}
	return name
}

func execCommand(ctx context.Context, dir, name string, args []string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "LC_ALL=C", "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// ExitCode extracts the exit code from an *ExecutionError, or -1.
func ExitCode(err error) int {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.ExitCode
	}
	return -1
}
