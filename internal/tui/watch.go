// pattern: Imperative Shell

package tui

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/schmug/karkinos/internal/logging"
)

// Watcher signals when the set of worktrees or branches may have changed:
// entries under <common-dir>/worktrees, loose refs under refs/heads, and
// packed-refs. Signals coalesce; a consumer that falls behind sees one.
type Watcher struct {
	commonDir string
	watcher   *fsnotify.Watcher
	changes   chan struct{}
	logger    *logging.ScopedLogger
}

// NewWatcher creates a Watcher for the repository whose git common dir is
// commonDir. Call Run to start delivering signals.
func NewWatcher(commonDir string, logger *logging.ScopedLogger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		commonDir: commonDir,
		watcher:   fw,
		changes:   make(chan struct{}, 1),
		logger:    logger,
	}

	if err := fw.Add(commonDir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", commonDir, err)
	}
	w.addIfExists(filepath.Join(commonDir, "worktrees"))
	w.addTree(filepath.Join(commonDir, "refs", "heads"))
	return w, nil
}

// Changes delivers one value per burst of relevant filesystem events.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Run processes events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				// New worktrees/ dir or a new branch namespace like refs/heads/feat.
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && w.underWatchedTree(event.Name) {
					w.addTree(event.Name)
				}
			}
			if w.relevant(event.Name) {
				w.signal()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// Close stops the watcher; Run returns.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) signal() {
	select {
	case w.changes <- struct{}{}:
	default:
	}
}

// relevant filters out lock files and the unrelated churn in the common
// dir itself (index, logs, FETCH_HEAD).
func (w *Watcher) relevant(name string) bool {
	base := filepath.Base(name)
	if strings.HasSuffix(base, ".lock") {
		return false
	}
	if filepath.Dir(filepath.Clean(name)) == filepath.Clean(w.commonDir) {
		return base == "packed-refs" || base == "worktrees"
	}
	return true
}

func (w *Watcher) underWatchedTree(name string) bool {
	name = filepath.Clean(name)
	for _, root := range []string{filepath.Join(w.commonDir, "refs", "heads"), filepath.Join(w.commonDir, "worktrees")} {
		if name == root || strings.HasPrefix(name, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) addIfExists(dir string) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return
	}
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Debug("cannot watch directory", "dir", dir, "error", err)
	}
}

// addTree watches dir and every directory below it. Only refs/heads is
// walked this way; worktrees/ entries change as a whole.
func (w *Watcher) addTree(dir string) {
	worktrees := filepath.Join(w.commonDir, "worktrees")
	if filepath.Clean(dir) == worktrees {
		w.addIfExists(dir)
		return
	}
	if filepath.Dir(filepath.Clean(dir)) == worktrees {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			w.addIfExists(path)
		}
		return nil
	})
}
