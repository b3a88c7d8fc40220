// pattern: Imperative Shell

// Package gitcmdtest provides a scripted executor and a scratch-repository
// helper for tests that drive gitcmd.Runner.
package gitcmdtest

import (
	"context"
	"strings"
	"sync"

	"github.com/schmug/karkinos/internal/gitcmd"
)

// Call records one invocation seen by Fake.
type Call struct {
	Dir  string
	Name string
	Args []string
}

// Line returns "name arg1 arg2 ...".
func (c Call) Line() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

type response struct {
	dir    string
	prefix string
	res    gitcmd.Result
	err    error
}

// Fake is a gitcmd.Executor that answers from a script keyed by the
// leading tokens of the command line. Unscripted commands succeed with
// empty output.
type Fake struct {
	mu        sync.Mutex
	calls     []Call
	responses []response
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{}
}

// Stdout scripts a successful command whose line starts with prefix.
func (f *Fake) Stdout(prefix, out string) *Fake {
	return f.Set("", prefix, gitcmd.Result{Stdout: out})
}

// Fail scripts a command that exits with code and stderr.
func (f *Fake) Fail(prefix string, code int, stderr string) *Fake {
	return f.Set("", prefix, gitcmd.Result{ExitCode: code, Stderr: stderr})
}

// Set scripts a full result for commands run in dir ("" matches any dir).
func (f *Fake) Set(dir, prefix string, res gitcmd.Result) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, response{dir: dir, prefix: prefix, res: res})
	return f
}

// Exec implements gitcmd.Executor. The longest matching prefix wins; among
// equal prefixes a dir-specific entry beats a wildcard one.
func (f *Fake) Exec(_ context.Context, dir, name string, args []string) (gitcmd.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := Call{Dir: dir, Name: name, Args: append([]string(nil), args...)}
	f.calls = append(f.calls, call)
	line := call.Line()

	best := -1
	bestScore := -1
	for i, r := range f.responses {
		if r.dir != "" && r.dir != dir {
			continue
		}
		if !strings.HasPrefix(line, r.prefix) {
			continue
		}
		score := len(r.prefix) * 2
		if r.dir != "" {
			score++
		}
		if score >= bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return gitcmd.Result{}, nil
	}
	return f.responses[best].res, f.responses[best].err
}

// Runner returns a gitcmd.Runner backed by this Fake.
func (f *Fake) Runner() *gitcmd.Runner {
	return gitcmd.NewRunnerWithExecutor(f.Exec, nil)
}

// Calls returns a copy of all recorded invocations.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Ran reports whether any recorded command line starts with prefix.
func (f *Fake) Ran(prefix string) bool {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c.Line(), prefix) {
			return true
		}
	}
	return false
}

// Reset forgets recorded calls but keeps the script.
func (f *Fake) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}
