// pattern: Functional Core

package worktree

import (
	"bufio"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var objectIDRe = regexp.MustCompile(`^[0-9a-f]{40}([0-9a-f]{24})?$`)

// Record is the parse result for one block of `git worktree list --porcelain`.
// Exactly one of Worktree (Err == nil) or Raw+Err (malformed) is meaningful.
type Record struct {
	Worktree Worktree
	Raw      string
	Err      error
}

// Malformed reports whether the block could not be parsed.
func (r Record) Malformed() bool {
	return r.Err != nil
}

// ParsePorcelain parses worktree list output. Blocks are separated by
// blank lines:
//
//	worktree /path/to/worktree
//	HEAD 0123abcd...
//	branch refs/heads/feat/x
//
// Each block yields one Record so a single bad block never hides the
// others. Empty output yields no records.
func ParsePorcelain(output string) []Record {
	var records []Record
	var block []string

	flush := func() {
		if len(block) > 0 {
			records = append(records, parseBlock(block))
			block = nil
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			flush()
			continue
		}
		block = append(block, line)
	}
	flush()
	return records
}

func parseBlock(lines []string) Record {
	raw := strings.Join(lines, "\n")
	malformed := func(reason string) Record {
		return Record{Raw: raw, Err: errors.New(reason)}
	}

	path, ok := strings.CutPrefix(lines[0], "worktree ")
	if !ok || path == "" {
		return malformed("block does not start with a worktree line")
	}
	if !filepath.IsAbs(path) {
		return malformed(fmt.Sprintf("worktree path %q is not absolute", path))
	}

	wt := Worktree{Path: filepath.Clean(path)}
	for _, line := range lines[1:] {
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "HEAD":
			if !objectIDRe.MatchString(value) {
				return malformed(fmt.Sprintf("bad HEAD %q", value))
			}
			wt.Head = value
		case "branch":
			name, ok := strings.CutPrefix(value, "refs/heads/")
			if !ok || name == "" {
				return malformed(fmt.Sprintf("bad branch ref %q", value))
			}
			wt.Branch = name
		case "detached":
			wt.Detached = true
		case "bare":
			wt.Bare = true
		case "locked":
			wt.Locked = true
		case "prunable":
			wt.Prunable = true
		case "worktree":
			return malformed("two worktree lines in one block")
		}
		// Unknown keys are tolerated so newer git versions still parse.
	}

	if !wt.Bare && wt.Head == "" {
		return malformed("missing HEAD")
	}
	if wt.Branch != "" && wt.Detached {
		return malformed("both branch and detached")
	}
	return Record{Worktree: wt, Raw: raw}
}
