// pattern: Functional Core

package cli

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/schmug/karkinos/internal/conflict"
	"github.com/schmug/karkinos/internal/engine"
	"github.com/schmug/karkinos/internal/gitcmd"
	"github.com/schmug/karkinos/internal/instance"
	"github.com/schmug/karkinos/internal/worktree"
)

// Exit codes shared by every command.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitInvalid = 2
	// ExitBlocked means a safety guard or the conflict gate refused the
	// operation; nothing was changed.
	ExitBlocked = 3
)

// UsageError is a malformed command line.
type UsageError struct {
	Usage string
	Err   error
}

func (e *UsageError) Error() string {
	return e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

func usageErrorf(usage, format string, args ...any) error {
	return &UsageError{Usage: usage, Err: fmt.Errorf(format, args...)}
}

// blockedError reports a result that callers should treat as refused, such
// as a conflict check that found overlaps.
type blockedError struct {
	msg string
}

func (e *blockedError) Error() string {
	return e.msg
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		usage     *UsageError
		name      *gitcmd.InvalidNameError
		pattern   *conflict.PatternError
		exists    *worktree.AlreadyExistsError
		dirty     *worktree.DirtyWorktreeError
		unmerged  *worktree.UnmergedBranchError
		protected *worktree.ProtectedWorktreeError
		blocked   *blockedError
		api       *instance.APIError
	)
	switch {
	case errors.As(err, &usage), errors.As(err, &name), errors.As(err, &pattern):
		return ExitInvalid
	case errors.Is(err, engine.ErrConflict),
		errors.As(err, &exists),
		errors.As(err, &dirty),
		errors.As(err, &unmerged),
		errors.As(err, &protected),
		errors.As(err, &blocked):
		return ExitBlocked
	case errors.As(err, &api):
		switch api.StatusCode {
		case http.StatusBadRequest:
			return ExitInvalid
		case http.StatusConflict, http.StatusForbidden:
			return ExitBlocked
		}
	}
	return ExitFailure
}

// describe renders err for stderr with one line per conflict record.
func describe(err error) string {
	var b strings.Builder
	var records []conflict.Record
	var ce *engine.ConflictError
	var api *instance.APIError
	switch {
	case errors.As(err, &ce):
		b.WriteString(err.Error())
		records = ce.Records
	case errors.As(err, &api):
		// The server already phrased it; the status code is in the exit code.
		b.WriteString(api.Message)
		records = api.Conflicts
	default:
		b.WriteString(err.Error())
	}
	for _, r := range records {
		verb := "owned by"
		if r.Declared {
			verb = "declared by"
		}
		fmt.Fprintf(&b, "\n  %s (matches %s) %s %s at %s", r.Path, r.Pattern, verb, r.Owner, r.OwnerPath)
	}
	return b.String()
}
