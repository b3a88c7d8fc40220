// pattern: Functional Core

package tui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"

	"github.com/schmug/karkinos/internal/engine"
)

// Worker states shown in the STATE column.
const (
	StateClean    = "clean"
	StateDirty    = "dirty"
	StateOrphaned = "orphaned"
	StateError    = "error"
)

// Columns of the worker table.
var Columns = []string{"BRANCH", "AHEAD", "BEHIND", "STATE", "MERGED", "PATH"}

const (
	colBranch = iota
	colAhead
	colBehind
	colState
	colMerged
	colPath
)

// EntryState summarizes an entry for the STATE column.
func EntryState(e engine.Entry) string {
	switch {
	case e.Orphaned:
		return StateOrphaned
	case e.Error != "":
		return StateError
	case e.IsClean:
		return StateClean
	default:
		return StateDirty
	}
}

// Row formats one entry as table cells.
func Row(e engine.Entry) []string {
	branch := e.Branch
	if branch == "" {
		branch = "(detached " + shortHash(e.Head) + ")"
	}
	if e.Main {
		branch += " *"
	}
	ahead, behind, merged := "-", "-", "-"
	if e.Error == "" {
		ahead = strconv.Itoa(e.AheadCount)
		behind = strconv.Itoa(e.BehindCount)
		merged = "no"
		if e.IsMerged {
			merged = "yes"
		}
	}
	return []string{branch, ahead, behind, EntryState(e), merged, e.Path}
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

// RenderTable renders entries as a plain bordered table. Cells wider than
// maxCell are truncated; maxCell <= 0 disables truncation.
func RenderTable(entries []engine.Entry, maxCell int) string {
	if len(entries) == 0 {
		return "No active workers.\n"
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, truncateRow(Row(e), maxCell))
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(Columns...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			return lipgloss.NewStyle().Padding(0, 1)
		})
	return t.String() + "\n"
}

func truncateRow(cells []string, maxCell int) []string {
	if maxCell <= 0 {
		return cells
	}
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = ansi.Truncate(c, maxCell, "…")
	}
	return out
}

// Summary is the one-line tally shown above the table.
func Summary(entries []engine.Entry) string {
	var dirty, merged, broken int
	for _, e := range entries {
		switch EntryState(e) {
		case StateDirty:
			dirty++
		case StateOrphaned, StateError:
			broken++
		}
		if e.IsMerged && e.Error == "" {
			merged++
		}
	}
	s := fmt.Sprintf("%d workers, %d dirty, %d merged", len(entries), dirty, merged)
	if broken > 0 {
		s += fmt.Sprintf(", %d unavailable", broken)
	}
	return s
}
