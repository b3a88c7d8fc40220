// pattern: Functional Core

package gitcmd

// Argv assembles a git argument vector. Literal tokens come from code;
// anything that came from a user, a config file or a remote goes through
// Branch, Rev, Range or Path so it is validated before the command runs.
// The first validation error sticks and is returned by Build.
type Argv struct {
	args []string
	err  error
}

// Git starts an argv with literal subcommand tokens, e.g. Git("worktree", "list").
func Git(tokens ...string) *Argv {
	return &Argv{args: append([]string(nil), tokens...)}
}

// Flag appends literal option tokens.
func (a *Argv) Flag(tokens ...string) *Argv {
	a.args = append(a.args, tokens...)
	return a
}

// FlagValue appends "<flag>=<value>" after validating value as a branch name.
func (a *Argv) FlagValue(flag, value string) *Argv {
	if a.err != nil {
		return a
	}
	if err := ValidateBranchName(value); err != nil {
		a.err = err
		return a
	}
	a.args = append(a.args, flag+"="+value)
	return a
}

// Branch appends a validated branch name.
func (a *Argv) Branch(name string) *Argv {
	if a.err != nil {
		return a
	}
	if err := ValidateBranchName(name); err != nil {
		a.err = err
		return a
	}
	a.args = append(a.args, name)
	return a
}

// Rev is Branch for revisions: branch names, remote-tracking names and
// commit ids all satisfy the same allow-list.
func (a *Argv) Rev(rev string) *Argv {
	return a.Branch(rev)
}

// Range appends "<left><op><right>" where op is ".." or "...".
func (a *Argv) Range(left, op, right string) *Argv {
	if a.err != nil {
		return a
	}
	if op != ".." && op != "..." {
		a.err = &InvalidNameError{Name: op, Reason: "range operator must be '..' or '...'"}
		return a
	}
	for _, side := range []string{left, right} {
		if err := ValidateBranchName(side); err != nil {
			a.err = err
			return a
		}
	}
	a.args = append(a.args, left+op+right)
	return a
}

// Path appends one validated positional path.
func (a *Argv) Path(p string) *Argv {
	if a.err != nil {
		return a
	}
	if err := ValidatePath(p); err != nil {
		a.err = err
		return a
	}
	a.args = append(a.args, p)
	return a
}

// EndOfOptions appends "--end-of-options" so nothing after it is read as a flag.
func (a *Argv) EndOfOptions() *Argv {
	a.args = append(a.args, "--end-of-options")
	return a
}

// Paths appends "--" followed by validated pathspecs. With no paths it
// appends nothing.
func (a *Argv) Paths(paths ...string) *Argv {
	if a.err != nil || len(paths) == 0 {
		return a
	}
	for _, p := range paths {
		if err := ValidatePath(p); err != nil {
			a.err = err
			return a
		}
	}
	a.args = append(a.args, "--")
	a.args = append(a.args, paths...)
	return a
}

// Build returns the argument vector or the first validation error.
func (a *Argv) Build() ([]string, error) {
	if a.err != nil {
		return nil, a.err
	}
	return append([]string(nil), a.args...), nil
}
