// pattern: Functional Core

package gitcmd

import (
	"fmt"
	"regexp"
	"strings"
)

// branchNameRe is the allow-list for branch names and revisions taken from
// user or remote input.
var branchNameRe = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)

const maxBranchNameLen = 200

// InvalidNameError is returned when an untrusted argument fails validation.
// No command is run after this error.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid name %q: %s", e.Name, e.Reason)
}

// ValidateBranchName checks name against the allow-list and the git ref
// rules that the allow-list alone does not cover.
func ValidateBranchName(name string) error {
	invalid := func(reason string) error {
		return &InvalidNameError{Name: name, Reason: reason}
	}

	switch {
	case name == "":
		return invalid("cannot be empty")
	case len(name) > maxBranchNameLen:
		return invalid(fmt.Sprintf("too long (max %d characters)", maxBranchNameLen))
	case !branchNameRe.MatchString(name):
		return invalid("may only contain a-z A-Z 0-9 / _ . -")
	case strings.HasPrefix(name, "-"):
		return invalid("cannot start with '-'")
	case strings.HasPrefix(name, "/"):
		return invalid("cannot start with '/'")
	case strings.HasSuffix(name, "/"), strings.HasSuffix(name, "."):
		return invalid("cannot end with '/' or '.'")
	case strings.Contains(name, ".."):
		return invalid("cannot contain '..'")
	case strings.Contains(name, "//"):
		return invalid("cannot contain '//'")
	case name == "@":
		return invalid("cannot be '@'")
	case strings.HasSuffix(name, ".lock"):
		return invalid("cannot end with '.lock'")
	}

	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return invalid("path components cannot start with '.'")
		}
		if strings.HasPrefix(part, "-") {
			return invalid("path components cannot start with '-'")
		}
	}
	return nil
}

// ValidatePath checks a repository-relative or absolute path that will be
// passed as a positional argument.
func ValidatePath(p string) error {
	switch {
	case p == "":
		return &InvalidNameError{Name: p, Reason: "path cannot be empty"}
	case strings.HasPrefix(p, "-"):
		return &InvalidNameError{Name: p, Reason: "path cannot start with '-'"}
	case strings.ContainsRune(p, 0):
		return &InvalidNameError{Name: p, Reason: "path cannot contain NUL"}
	case strings.ContainsAny(p, "\r\n"):
		return &InvalidNameError{Name: p, Reason: "path cannot contain line breaks"}
	}
	return nil
}

// ValidateRemote checks a remote name. Remote names follow the branch rules.
func ValidateRemote(name string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	if strings.Contains(name, "/") {
		return &InvalidNameError{Name: name, Reason: "remote name cannot contain '/'"}
	}
	return nil
}
