// pattern: Imperative Shell

package tui

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/schmug/karkinos/internal/engine"
)

// clearScreen moves the cursor home and erases the display.
const clearScreen = "\x1b[H\x1b[2J"

// SnapshotFunc lists the entries to show.
type SnapshotFunc func(ctx context.Context) ([]engine.Entry, error)

// RunSimple repaints a plain table on w every interval and whenever changes
// fires, until ctx is done. It always paints at least once. changes may be
// nil.
func RunSimple(ctx context.Context, w io.Writer, snapshot SnapshotFunc, interval time.Duration, changes <-chan struct{}) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := paint(ctx, w, snapshot); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-changes:
		}
	}
}

func paint(ctx context.Context, w io.Writer, snapshot SnapshotFunc) error {
	entries, err := snapshot(ctx)
	now := time.Now().Format("15:04:05")
	var out string
	if err != nil {
		out = fmt.Sprintf("%skarkinos  %s\n\nerror: %v\n", clearScreen, now, err)
	} else {
		out = fmt.Sprintf("%skarkinos  %s  %s\n\n%s", clearScreen, now, Summary(entries), RenderTable(entries, 0))
	}
	_, werr := io.WriteString(w, out)
	return werr
}
