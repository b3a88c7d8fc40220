package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/schmug/karkinos/internal/engine"
	"github.com/schmug/karkinos/internal/logging"
	"github.com/schmug/karkinos/internal/worktree"
)

// Source is the part of the engine the monitor reads and mutates.
type Source interface {
	Snapshot(ctx context.Context) ([]engine.Entry, error)
	Details(ctx context.Context, target string) (engine.Details, error)
	Remove(ctx context.Context, target string, opts worktree.RemoveOptions) (worktree.RemovalResult, error)
	Cleanup(ctx context.Context, opts worktree.CleanupOptions) (worktree.CleanupReport, error)
	Invalidate()
}

// Options configures the monitor.
type Options struct {
	// Title is shown in the header, usually the repository name.
	Title string
	// Root is the main worktree path shown under the title.
	Root     string
	Interval time.Duration
	Theme    string
	// Changes triggers an early refresh; nil means timer only.
	Changes <-chan struct{}
	// Logs feeds the log pane; nil hides it.
	Logs <-chan logging.LogEntry
}

// StatusLevel is the tone of the status bar message.
type StatusLevel int

const (
	StatusInfo StatusLevel = iota
	StatusLoading
	StatusSuccess
	StatusError
)

// confirmation is a destructive action waiting for y/n.
type confirmation struct {
	action string // "remove", "force-remove" or "cleanup"
	target string
	prompt string
}

const (
	opTimeout     = 30 * time.Second
	maxLogEntries = 500
)

// Model is the monitor state. It polls Source.Snapshot on Interval and on
// every Changes signal.
type Model struct {
	src    Source
	opts   Options
	styles *Styles
	keys   keyMap
	help   help.Model
	logger *logging.ScopedLogger

	width  int
	height int

	entries     []engine.Entry
	selected    int
	lastRefresh time.Time
	refreshing  bool
	pending     bool

	detailOpen     bool
	detail         *engine.Details
	detailViewport viewport.Model

	logOpen     bool
	logEntries  []logging.LogEntry
	logViewport viewport.Model

	confirm *confirmation

	statusMessage string
	statusLevel   StatusLevel
	statusSpinner spinner.Model

	err error
}

// NewModel creates a monitor over src.
func NewModel(src Source, opts Options, logProvider logging.LoggerProvider) Model {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	var logger *logging.ScopedLogger
	if logProvider != nil {
		logger = logProvider.For("monitor")
	} else {
		logger = logging.NopLogger()
	}
	logger.Debug("monitor created", "interval", opts.Interval)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	styles := NewStyles(opts.Theme)
	sp.Style = styles.AccentStyle()

	h := help.New()
	h.Styles.ShortKey = styles.AccentStyle()
	h.Styles.ShortDesc = styles.HelpStyle()

	return Model{
		src:            src,
		opts:           opts,
		styles:         styles,
		keys:           newKeyMap(),
		help:           h,
		logger:         logger,
		statusSpinner:  sp,
		refreshing:     true,
		statusLevel:    StatusLoading,
		statusMessage:  "Loading workers...",
		detailViewport: viewport.New(0, 0),
		logViewport:    viewport.New(0, 0),
	}
}

// Init returns the initial command to run.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.refresh(), m.tick(), m.statusSpinner.Tick}
	if m.opts.Changes != nil {
		cmds = append(cmds, waitForChange(m.opts.Changes))
	}
	if m.opts.Logs != nil {
		cmds = append(cmds, waitForLogs(m.opts.Logs))
	}
	return tea.Batch(cmds...)
}

// Entries returns the last snapshot shown.
func (m Model) Entries() []engine.Entry {
	return m.entries
}

// Selected returns the selected entry, if any.
func (m Model) Selected() (engine.Entry, bool) {
	if m.selected < 0 || m.selected >= len(m.entries) {
		return engine.Entry{}, false
	}
	return m.entries[m.selected], true
}

// refresh returns a command that takes a snapshot.
func (m Model) refresh() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		entries, err := src.Snapshot(ctx)
		return snapshotMsg{entries: entries, err: err, at: time.Now()}
	}
}

// tick returns a command for periodic refresh.
func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Interval, func(t time.Time) tea.Msg {
		return tickMsg{time: t}
	})
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changeMsg{}
	}
}

// waitForLogs blocks for one entry, then drains whatever else is queued.
func waitForLogs(ch <-chan logging.LogEntry) tea.Cmd {
	return func() tea.Msg {
		entry, ok := <-ch
		if !ok {
			return nil
		}
		entries := []logging.LogEntry{entry}
		for len(entries) < 100 {
			select {
			case e, ok := <-ch:
				if !ok {
					return logEntriesMsg{entries: entries}
				}
				entries = append(entries, e)
			default:
				return logEntriesMsg{entries: entries}
			}
		}
		return logEntriesMsg{entries: entries}
	}
}
