package tui

import (
	catppuccin "github.com/catppuccin/go"
	"github.com/charmbracelet/lipgloss"
)

type Styles struct {
	flavor catppuccin.Flavor
}

func NewStyles(themeName string) *Styles {
	flavor := flavorFromName(themeName)
	return &Styles{flavor: flavor}
}

func flavorFromName(name string) catppuccin.Flavor {
	switch name {
	case "latte":
		return catppuccin.Latte
	case "frappe":
		return catppuccin.Frappe
	case "macchiato":
		return catppuccin.Macchiato
	case "mocha":
		return catppuccin.Mocha
	default:
		return catppuccin.Mocha
	}
}

func (s *Styles) color(c catppuccin.Color) lipgloss.Color {
	return lipgloss.Color(c.Hex)
}

func (s *Styles) TitleStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(s.color(s.flavor.Mauve()))
}

func (s *Styles) SubtitleStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.color(s.flavor.Subtext0()))
}

func (s *Styles) HelpStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.color(s.flavor.Overlay0()))
}

func (s *Styles) BoxStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(s.color(s.flavor.Surface1())).
		Padding(1, 2)
}

func (s *Styles) InfoStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.color(s.flavor.Text()))
}

func (s *Styles) AccentStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.color(s.flavor.Teal()))
}

func (s *Styles) ErrorStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.color(s.flavor.Red())).
		Bold(true)
}

func (s *Styles) SuccessStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.color(s.flavor.Green()))
}

func (s *Styles) WarnStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.color(s.flavor.Yellow()))
}

// TableHeaderStyle styles the column titles of the worker table.
func (s *Styles) TableHeaderStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(s.color(s.flavor.Subtext1())).
		Padding(0, 1)
}

func (s *Styles) TableCellStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.color(s.flavor.Text())).
		Padding(0, 1)
}

func (s *Styles) SelectedRowStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(s.color(s.flavor.Base())).
		Background(s.color(s.flavor.Mauve())).
		Padding(0, 1)
}

func (s *Styles) BorderStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.color(s.flavor.Surface1()))
}

// StateStyle colors a worker state as produced by EntryState.
func (s *Styles) StateStyle(state string) lipgloss.Style {
	switch state {
	case StateClean:
		return s.SuccessStyle()
	case StateDirty:
		return s.WarnStyle()
	default:
		return s.ErrorStyle()
	}
}

func (s *Styles) PanelHeaderFocusedStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(s.color(s.flavor.Base())).
		Background(s.color(s.flavor.Teal()))
}

func (s *Styles) PanelHeaderUnfocusedStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.color(s.flavor.Subtext0())).
		Background(s.color(s.flavor.Surface0()))
}

func (s *Styles) LogTimestampStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(s.color(s.flavor.Overlay1()))
}

func (s *Styles) LogScopeStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(s.color(s.flavor.Lavender()))
}

// LogLevelStyle colors a level badge in the log pane.
func (s *Styles) LogLevelStyle(level string) lipgloss.Style {
	switch level {
	case "DEBUG":
		return lipgloss.NewStyle().Foreground(s.color(s.flavor.Overlay0()))
	case "WARN":
		return s.WarnStyle()
	case "ERROR":
		return s.ErrorStyle()
	default:
		return lipgloss.NewStyle().Foreground(s.color(s.flavor.Blue()))
	}
}
