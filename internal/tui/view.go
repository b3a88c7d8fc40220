// pattern: Imperative Shell

package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"

	"github.com/schmug/karkinos/internal/engine"
	"github.com/schmug/karkinos/internal/logging"
)

// View renders the TUI.
func (m Model) View() string {
	if m.confirm != nil {
		return m.renderConfirmDialog()
	}

	layout := ComputeLayout(m.width, m.height, m.logOpen, m.detailOpen)

	parts := []string{m.renderHeader(layout)}

	content := m.renderTable(layout)
	if m.detailOpen {
		content = lipgloss.JoinHorizontal(lipgloss.Top, content, m.renderDetailPanel(layout))
	}
	parts = append(parts, content)

	if m.logOpen {
		separator := m.styles.BorderStyle().Render(strings.Repeat("─", max(layout.Separator.Width, 0)))
		parts = append(parts, separator, m.renderLogPanel(layout))
	}

	parts = append(parts, lipgloss.NewStyle().Width(layout.StatusBar.Width).Render(m.renderStatusBar(layout.StatusBar.Width)))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderHeader(layout Layout) string {
	title := "karkinos"
	if m.opts.Title != "" {
		title += " · " + m.opts.Title
	}
	sub := Summary(m.entries)
	if !m.lastRefresh.IsZero() {
		sub += " · updated " + m.lastRefresh.Format("15:04:05")
	}
	if m.opts.Root != "" {
		sub = m.opts.Root + " · " + sub
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.TitleStyle().Render(ansi.Truncate(title, max(layout.Header.Width, 1), "…")),
		m.styles.SubtitleStyle().Render(ansi.Truncate(sub, max(layout.Header.Width, 1), "…")),
	)
}

// visibleRange returns the slice of entries that fits rows lines while
// keeping the selection in view.
func visibleRange(selected, total, rows int) (int, int) {
	if total <= rows {
		return 0, total
	}
	start := selected - rows/2
	if start < 0 {
		start = 0
	}
	if start+rows > total {
		start = total - rows
	}
	return start, start + rows
}

func (m Model) renderTable(layout Layout) string {
	if len(m.entries) == 0 {
		msg := "No active workers."
		if m.err != nil {
			msg = "Snapshot unavailable."
		}
		return lipgloss.NewStyle().
			Width(layout.Table.Width).
			Height(layout.Table.Height).
			Padding(1).
			Render(m.styles.InfoStyle().Render(msg))
	}

	start, end := visibleRange(m.selected, len(m.entries), layout.TableRows())
	pathWidth := max(layout.Table.Width/3, 12)
	rows := make([][]string, 0, end-start)
	for _, e := range m.entries[start:end] {
		cells := Row(e)
		cells[colBranch] = ansi.Truncate(cells[colBranch], 40, "…")
		cells[colPath] = ansi.Truncate(cells[colPath], pathWidth, "…")
		rows = append(rows, cells)
	}

	selectedRow := m.selected - start
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(m.styles.BorderStyle()).
		Headers(Columns...).
		Rows(rows...).
		Width(layout.Table.Width).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return m.styles.TableHeaderStyle()
			case row == selectedRow:
				return m.styles.SelectedRowStyle()
			case col == colState:
				return m.styles.StateStyle(rows[row][colState]).Padding(0, 1)
			default:
				return m.styles.TableCellStyle()
			}
		})
	return t.String()
}

func (m Model) renderDetailPanel(layout Layout) string {
	title := " Details"
	if e, ok := m.Selected(); ok {
		title += ": " + e.Branch
	}
	header := m.styles.PanelHeaderFocusedStyle().Width(layout.Detail.Width).Render(ansi.Truncate(title, max(layout.Detail.Width, 1), "…"))
	body := lipgloss.NewStyle().
		Width(layout.Detail.Width).
		Height(max(layout.Detail.Height-1, 1)).
		PaddingLeft(1).
		Render(m.detailViewport.View())
	return lipgloss.JoinVertical(lipgloss.Left, header, body)
}

// renderDetailContent formats a worker's details for the detail viewport.
func (m Model) renderDetailContent(d engine.Details) string {
	var b strings.Builder
	label := m.styles.SubtitleStyle()

	fmt.Fprintf(&b, "%s %s\n", label.Render("path:"), d.Path)
	fmt.Fprintf(&b, "%s %s\n", label.Render("head:"), shortHash(d.Head))
	fmt.Fprintf(&b, "%s %s\n", label.Render("ref: "), d.Ref)
	state := EntryState(d.Entry)
	fmt.Fprintf(&b, "%s %s  ↑%d ↓%d", label.Render("state:"), m.styles.StateStyle(state).Render(state), d.AheadCount, d.BehindCount)
	if d.IsMerged {
		b.WriteString("  merged")
	}
	b.WriteString("\n")
	if d.Error != "" {
		b.WriteString(m.styles.ErrorStyle().Render(d.Error) + "\n")
	}

	b.WriteString("\n" + m.styles.AccentStyle().Render("Commits ("+strconv.Itoa(len(d.Commits))+")") + "\n")
	if len(d.Commits) == 0 {
		b.WriteString(m.styles.HelpStyle().Render("  none") + "\n")
	}
	for _, c := range d.Commits {
		fmt.Fprintf(&b, "  %s %s\n", m.styles.HelpStyle().Render(shortHash(c.Hash)), c.Subject)
	}

	b.WriteString("\n" + m.styles.AccentStyle().Render("Changed files ("+strconv.Itoa(len(d.ChangedFiles))+")") + "\n")
	for _, f := range d.ChangedFiles {
		fmt.Fprintf(&b, "  %s %s\n", f.Status, f.Path)
	}
	if d.DiffStat != "" {
		b.WriteString("\n" + d.DiffStat + "\n")
	}
	return b.String()
}

func (m Model) renderConfirmDialog() string {
	body := lipgloss.JoinVertical(lipgloss.Left,
		m.styles.TitleStyle().Render("Confirm"),
		"",
		m.styles.InfoStyle().Render(m.confirm.prompt),
		"",
		m.styles.HelpStyle().Render("y: confirm • n/esc: cancel"),
	)
	box := m.styles.BoxStyle().Render(body)
	if m.width == 0 || m.height == 0 {
		return box
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m Model) renderStatusBar(width int) string {
	var statusText string
	switch m.statusLevel {
	case StatusLoading:
		statusText = m.statusSpinner.View() + " " + m.styles.InfoStyle().Render(m.statusMessage)
	case StatusSuccess:
		statusText = m.styles.SuccessStyle().Render("✓ " + m.statusMessage)
	case StatusError:
		statusText = m.styles.ErrorStyle().Render("✗ " + m.statusMessage)
		if m.err != nil {
			statusText += m.styles.ErrorStyle().Render(": " + m.err.Error())
		}
		statusText += m.styles.HelpStyle().Render(" (esc to clear)")
	default:
		statusText = m.styles.InfoStyle().Render(m.statusMessage)
	}

	help := m.help.ShortHelpView(m.keys.ShortHelp())

	spacer := width - lipgloss.Width(statusText) - lipgloss.Width(help) - 2
	if spacer < 1 {
		// Status wins over help on narrow terminals.
		return ansi.Truncate(statusText, max(width, 1), "…")
	}
	return statusText + strings.Repeat(" ", spacer) + help
}

// renderLogEntry formats a single log entry for display.
func (m Model) renderLogEntry(entry logging.LogEntry) string {
	ts := m.styles.LogTimestampStyle().Render(entry.Timestamp.Format("15:04:05"))
	level := m.styles.LogLevelStyle(entry.Level).Render(fmt.Sprintf("%-5s", entry.Level))
	scope := m.styles.LogScopeStyle().Render("[" + entry.Scope + "]")
	return fmt.Sprintf("%s %s %s %s", ts, level, scope, entry.Message)
}

func (m Model) renderLogPanel(layout Layout) string {
	header := m.styles.PanelHeaderUnfocusedStyle().Width(layout.Logs.Width).Render(fmt.Sprintf(" Logs (%d)", len(m.logEntries)))
	if len(m.logEntries) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, header, m.styles.InfoStyle().Render("No log entries"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, m.logViewport.View())
}
