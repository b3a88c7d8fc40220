// pattern: Functional Core

package conflict

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PatternError reports a candidate that cannot be used as a path pattern.
type PatternError struct {
	Pattern string
	Reason  string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid file pattern %q: %s", e.Pattern, e.Reason)
}

// Normalize cleans a candidate pattern into repository-relative slash form.
// "./src/" becomes "src".
func Normalize(pattern string) (string, error) {
	p := strings.ReplaceAll(strings.TrimSpace(pattern), "\\", "/")
	if p == "" {
		return "", &PatternError{Pattern: pattern, Reason: "empty"}
	}
	if strings.HasPrefix(p, "/") {
		return "", &PatternError{Pattern: pattern, Reason: "must be relative to the repository root"}
	}
	p = path.Clean(p)
	if p == "." {
		return "", &PatternError{Pattern: pattern, Reason: "matches the whole repository"}
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", &PatternError{Pattern: pattern, Reason: "leaves the repository"}
	}
	if !doublestar.ValidatePattern(p) {
		return "", &PatternError{Pattern: pattern, Reason: "malformed glob"}
	}
	return p, nil
}

// NormalizeAll normalizes every pattern and drops duplicates, keeping order.
func NormalizeAll(patterns []string) ([]string, error) {
	out := make([]string, 0, len(patterns))
	for _, raw := range patterns {
		p, err := Normalize(raw)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func isGlob(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

// Matches reports whether a normalized pattern covers file. A pattern covers
// the same path, every path below it when it names a directory, and every
// path a glob matches either directly or as a directory prefix.
func Matches(pattern, file string) bool {
	if pattern == file || strings.HasPrefix(file, pattern+"/") {
		return true
	}
	if !isGlob(pattern) {
		return false
	}
	if ok, _ := doublestar.Match(pattern, file); ok {
		return true
	}
	ok, _ := doublestar.Match(pattern+"/**", file)
	return ok
}

// Overlap returns the files covered by any of patterns, in files order, and
// for each the first pattern that covered it.
func Overlap(patterns, files []string) (hits []string, by []string) {
	for _, f := range files {
		for _, p := range patterns {
			if Matches(p, f) {
				hits = append(hits, f)
				by = append(by, p)
				break
			}
		}
	}
	return hits, by
}

// staticDir returns the directories of p before its first glob segment.
func staticDir(p string) string {
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		if isGlob(seg) {
			return strings.Join(segs[:i], "/")
		}
	}
	return p
}

func within(dir, p string) bool {
	return dir == "" || p == dir || strings.HasPrefix(p, dir+"/")
}

// PatternsOverlap reports whether two normalized patterns may cover a
// common path. It errs toward overlap: two globs overlap whenever one's
// static directory contains the other's, so "src/*.go" and "src/*.py" do.
func PatternsOverlap(a, b string) bool {
	if Matches(a, b) || Matches(b, a) {
		return true
	}
	ga, gb := isGlob(a), isGlob(b)
	switch {
	case ga && gb:
		da, db := staticDir(a), staticDir(b)
		return within(da, db) || within(db, da)
	case ga:
		return strings.Contains(a, "**") && within(staticDir(a), b)
	case gb:
		return strings.Contains(b, "**") && within(staticDir(b), a)
	}
	return false
}
