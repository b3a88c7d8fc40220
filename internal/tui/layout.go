// pattern: Functional Core

package tui

// Region defines a rectangular area within the terminal.
type Region struct {
	X      int // Left position (0-indexed)
	Y      int // Top position (0-indexed)
	Width  int // Width in cells
	Height int // Height in lines
}

// Layout holds computed regions for all UI components.
type Layout struct {
	Header    Region // Title + repository line
	Table     Region // Worker table (left side, 55% when detail open, 100% otherwise)
	Detail    Region // Detail panel (right side, 45% when open)
	Separator Region // Separator between table and logs (1 line when logs open)
	Logs      Region // Log panel when open (60% of the content area)
	StatusBar Region // Status bar (1 line)
}

// Fixed heights for chrome elements
const (
	headerHeight    = 2
	statusBarHeight = 1
	marginHeight    = 1
	separatorHeight = 1
	minContent      = 4
)

// ComputeLayout calculates regions based on terminal dimensions.
// When logPanelOpen is true, the content area splits 40/60 vertically (table/logs).
// When detailPanelOpen is true, the table area splits 55/45 horizontally (table/detail).
func ComputeLayout(width, height int, logPanelOpen, detailPanelOpen bool) Layout {
	available := height - headerHeight - statusBarHeight - marginHeight
	if logPanelOpen {
		available -= separatorHeight
	}
	if available < minContent {
		available = minContent
	}

	contentHeight, logsHeight := available, 0
	if logPanelOpen {
		contentHeight = int(float64(available) * 0.4)
		logsHeight = available - contentHeight
	}

	y := 0
	header := Region{X: 0, Y: y, Width: width, Height: headerHeight}
	y += headerHeight

	var table, detail Region
	if detailPanelOpen {
		tableWidth := int(float64(width) * 0.55)
		table = Region{X: 0, Y: y, Width: tableWidth, Height: contentHeight}
		detail = Region{X: tableWidth, Y: y, Width: width - tableWidth, Height: contentHeight}
	} else {
		table = Region{X: 0, Y: y, Width: width, Height: contentHeight}
		detail = Region{X: 0, Y: y}
	}
	y += contentHeight

	var separator, logs Region
	if logPanelOpen {
		separator = Region{X: 0, Y: y, Width: width, Height: separatorHeight}
		y += separatorHeight
		logs = Region{X: 0, Y: y, Width: width, Height: logsHeight}
		y += logsHeight
	}

	return Layout{
		Header:    header,
		Table:     table,
		Detail:    detail,
		Separator: separator,
		Logs:      logs,
		StatusBar: Region{X: 0, Y: y, Width: width, Height: statusBarHeight},
	}
}

// TableRows returns how many worker rows fit below the table header and
// borders.
func (l Layout) TableRows() int {
	h := l.Table.Height - 4
	if h < 1 {
		h = 1
	}
	return h
}
