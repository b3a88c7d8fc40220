// pattern: Functional Core

package logging

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// LogEntry is one decoded log line as shown in the monitor's log pane.
type LogEntry struct {
	Timestamp time.Time
	Level     string // DEBUG, INFO, WARN, ERROR
	Scope     string // logger scope, e.g. "lifecycle"
	Message   string
	Fields    map[string]any
}

// String renders "15:04:05 LEVEL [scope] message k=v ..." with fields
// sorted by key.
func (e LogEntry) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s [%s] %s", e.Timestamp.Format("15:04:05"), e.Level, e.Scope, e.Message)
	for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
		fmt.Fprintf(&sb, " %s=%v", k, e.Fields[k])
	}
	return sb.String()
}

// MatchesScope reports whether the entry's scope starts with prefix.
// An empty prefix matches everything.
func (e LogEntry) MatchesScope(prefix string) bool {
	return prefix == "" || strings.HasPrefix(e.Scope, prefix)
}

// AtLeast reports whether the entry's level is at or above min.
func (e LogEntry) AtLeast(min string) bool {
	return levelRank(e.Level) >= levelRank(ParseLevel(min))
}

// ParseLevel normalizes a level name to upper case, defaulting to INFO.
func ParseLevel(level string) string {
	switch strings.ToLower(level) {
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error", "dpanic", "panic", "fatal":
		return "ERROR"
	default:
		return "INFO"
	}
}

func levelRank(level string) int {
	switch level {
	case "DEBUG":
		return 0
	case "WARN":
		return 2
	case "ERROR":
		return 3
	default:
		return 1
	}
}
