// pattern: Imperative Shell

package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/schmug/karkinos/internal/engine"
	"github.com/schmug/karkinos/internal/logging"
	"github.com/schmug/karkinos/internal/worktree"
)

type snapshotMsg struct {
	entries []engine.Entry
	err     error
	at      time.Time
}

type tickMsg struct {
	time time.Time
}

// changeMsg is sent when the file watcher saw worktrees or refs change.
type changeMsg struct{}

type detailsMsg struct {
	branch  string
	details engine.Details
	err     error
}

// actionMsg is sent when a remove or cleanup completes.
type actionMsg struct {
	action  string
	target  string
	summary string
	err     error
}

// logEntriesMsg delivers log entries from the logging channel.
type logEntriesMsg struct {
	entries []logging.LogEntry
}

// clearStatusMsg is sent after a timed delay to clear the status bar.
type clearStatusMsg struct{}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewports()
		return m, nil

	case spinner.TickMsg:
		if !m.refreshing && m.statusLevel != StatusLoading {
			return m, nil
		}
		var cmd tea.Cmd
		m.statusSpinner, cmd = m.statusSpinner.Update(msg)
		return m, cmd

	case tickMsg:
		cmd := m.startRefresh()
		return m, tea.Batch(cmd, m.tick())

	case changeMsg:
		m.src.Invalidate()
		cmd := m.startRefresh()
		return m, tea.Batch(cmd, waitForChange(m.opts.Changes))

	case snapshotMsg:
		m.refreshing = false
		var again tea.Cmd
		if m.pending {
			m.pending = false
			again = m.startRefresh()
		}
		if msg.err != nil {
			m.err = msg.err
			m.logger.Warn("snapshot failed", "error", msg.err)
			return m, tea.Batch(again, m.setStatus(StatusError, "Refresh failed"))
		}
		m.err = nil
		m.entries = msg.entries
		m.lastRefresh = msg.at
		m.clampSelection()
		if m.statusLevel == StatusLoading {
			m.statusLevel, m.statusMessage = StatusInfo, ""
		}
		if m.detailOpen {
			if e, ok := m.Selected(); ok {
				return m, tea.Batch(again, m.loadDetails(e.Branch))
			}
			m.detailOpen, m.detail = false, nil
			m.resizeViewports()
		}
		return m, again

	case detailsMsg:
		if !m.detailOpen {
			return m, nil
		}
		if e, ok := m.Selected(); !ok || e.Branch != msg.branch {
			return m, nil
		}
		if msg.err != nil {
			m.detail = nil
			m.detailViewport.SetContent(m.styles.ErrorStyle().Render(msg.err.Error()))
			return m, nil
		}
		d := msg.details
		m.detail = &d
		m.detailViewport.SetContent(m.renderDetailContent(d))
		return m, nil

	case actionMsg:
		var status tea.Cmd
		if msg.err != nil {
			m.err = msg.err
			m.logger.Error(msg.action+" failed", "target", msg.target, "error", msg.err)
			status = m.setStatus(StatusError, fmt.Sprintf("%s %s failed", msg.action, msg.target))
		} else {
			m.logger.Info(msg.action+" done", "target", msg.target, "summary", msg.summary)
			status = m.setStatus(StatusSuccess, msg.summary)
		}
		refresh := m.startRefresh()
		return m, tea.Batch(status, refresh)

	case logEntriesMsg:
		m.logEntries = append(m.logEntries, msg.entries...)
		if over := len(m.logEntries) - maxLogEntries; over > 0 {
			m.logEntries = m.logEntries[over:]
		}
		m.updateLogViewport()
		return m, waitForLogs(m.opts.Logs)

	case clearStatusMsg:
		if m.statusLevel != StatusLoading {
			m.statusLevel, m.statusMessage = StatusInfo, ""
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirm != nil {
		return m.handleConfirmKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
			cmd := m.selectionChanged()
			return m, cmd
		}

	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.entries)-1 {
			m.selected++
			cmd := m.selectionChanged()
			return m, cmd
		}

	case key.Matches(msg, m.keys.Details):
		if m.detailOpen {
			m.detailOpen, m.detail = false, nil
			m.resizeViewports()
			return m, nil
		}
		e, ok := m.Selected()
		if !ok {
			return m, nil
		}
		m.detailOpen = true
		m.resizeViewports()
		m.detailViewport.SetContent(m.styles.HelpStyle().Render("Loading..."))
		return m, m.loadDetails(e.Branch)

	case key.Matches(msg, m.keys.Refresh):
		m.src.Invalidate()
		cmd := m.startRefresh()
		return m, cmd

	case key.Matches(msg, m.keys.Remove), key.Matches(msg, m.keys.ForceRemove):
		e, ok := m.Selected()
		if !ok {
			return m, nil
		}
		target := e.Branch
		if target == "" {
			target = e.Path
		}
		c := confirmation{action: "remove", target: target, prompt: fmt.Sprintf("Remove %s?", target)}
		if key.Matches(msg, m.keys.ForceRemove) {
			c.action = "force-remove"
			c.prompt = fmt.Sprintf("Force remove %s, discarding unmerged commits and local changes?", target)
		}
		m.confirm = &c

	case key.Matches(msg, m.keys.Cleanup):
		m.confirm = &confirmation{action: "cleanup", prompt: "Remove every worker merged into the reference branch?"}

	case key.Matches(msg, m.keys.Logs):
		if m.opts.Logs == nil {
			return m, nil
		}
		m.logOpen = !m.logOpen
		m.resizeViewports()
		m.updateLogViewport()

	case msg.String() == "esc":
		m.err = nil
		if m.statusLevel == StatusError {
			m.statusLevel, m.statusMessage = StatusInfo, ""
		}
	}

	if m.logOpen {
		switch msg.String() {
		case "pgup", "pgdown", "g", "G":
			var cmd tea.Cmd
			switch msg.String() {
			case "g":
				m.logViewport.GotoTop()
			case "G":
				m.logViewport.GotoBottom()
			default:
				m.logViewport, cmd = m.logViewport.Update(msg)
			}
			return m, cmd
		}
	}
	return m, nil
}

func (m Model) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Confirm):
		c := *m.confirm
		m.confirm = nil
		switch c.action {
		case "remove":
			return m.runAction(c.action, c.target, m.removeWorker(c.target, false))
		case "force-remove":
			return m.runAction("remove", c.target, m.removeWorker(c.target, true))
		case "cleanup":
			return m.runAction(c.action, "merged workers", m.cleanupMerged())
		}
	case key.Matches(msg, m.keys.Cancel), key.Matches(msg, m.keys.Quit):
		m.confirm = nil
	}
	return m, nil
}

func (m Model) runAction(action, target string, cmd tea.Cmd) (tea.Model, tea.Cmd) {
	m.statusLevel = StatusLoading
	m.statusMessage = fmt.Sprintf("Running %s on %s...", action, target)
	return m, tea.Batch(cmd, m.statusSpinner.Tick)
}

// startRefresh takes a snapshot unless one is in flight, in which case
// another is taken when it lands.
func (m *Model) startRefresh() tea.Cmd {
	if m.refreshing {
		m.pending = true
		return nil
	}
	m.refreshing = true
	return m.refresh()
}

// setStatus shows a message and schedules it to clear.
func (m *Model) setStatus(level StatusLevel, message string) tea.Cmd {
	m.statusLevel = level
	m.statusMessage = message
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg { return clearStatusMsg{} })
}

func (m *Model) clampSelection() {
	if m.selected >= len(m.entries) {
		m.selected = len(m.entries) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

// selectionChanged reloads the detail panel for the new selection.
func (m *Model) selectionChanged() tea.Cmd {
	if !m.detailOpen {
		return nil
	}
	m.detail = nil
	e, ok := m.Selected()
	if !ok {
		return nil
	}
	m.detailViewport.SetContent(m.styles.HelpStyle().Render("Loading..."))
	return m.loadDetails(e.Branch)
}

func (m *Model) resizeViewports() {
	layout := ComputeLayout(m.width, m.height, m.logOpen, m.detailOpen)
	m.detailViewport.Width = max(layout.Detail.Width-2, 1)
	m.detailViewport.Height = max(layout.Detail.Height-1, 1)
	m.logViewport.Width = max(layout.Logs.Width, 1)
	m.logViewport.Height = max(layout.Logs.Height-1, 1)
}

func (m *Model) updateLogViewport() {
	lines := make([]string, 0, len(m.logEntries))
	for _, e := range m.logEntries {
		lines = append(lines, m.renderLogEntry(e))
	}
	atBottom := m.logViewport.AtBottom()
	m.logViewport.SetContent(strings.Join(lines, "\n"))
	if atBottom {
		m.logViewport.GotoBottom()
	}
}

func (m Model) loadDetails(branch string) tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		d, err := src.Details(ctx, branch)
		return detailsMsg{branch: branch, details: d, err: err}
	}
}

func (m Model) removeWorker(target string, force bool) tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		res, err := src.Remove(ctx, target, worktree.RemoveOptions{Force: force})
		summary := "removed " + res.Path
		if res.BranchDeleted {
			summary += " and branch " + res.Branch
		}
		return actionMsg{action: "remove", target: target, summary: summary, err: err}
	}
}

func (m Model) cleanupMerged() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		report, err := src.Cleanup(ctx, worktree.CleanupOptions{})
		summary := fmt.Sprintf("cleanup removed %d, skipped %d dirty, %d unmerged",
			len(report.Removed), len(report.SkippedDirty), len(report.SkippedUnmerged))
		if err == nil && len(report.Failed) > 0 {
			err = fmt.Errorf("%d workers failed to clean up: %s", len(report.Failed), report.Failed[0].Reason)
		}
		return actionMsg{action: "cleanup", target: "merged workers", summary: summary, err: err}
	}
}
