// pattern: Imperative Shell

package logging

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ChannelSink is a zapcore.WriteSyncer that decodes each JSON line into a
// LogEntry and queues it for the monitor. When the buffer is full the
// oldest entry is dropped so logging never blocks.
type ChannelSink struct {
	mu      sync.Mutex
	entries chan LogEntry
	closed  bool
}

// NewChannelSink creates a sink buffering bufferSize entries.
func NewChannelSink(bufferSize int) *ChannelSink {
	return &ChannelSink{entries: make(chan LogEntry, bufferSize)}
}

func (s *ChannelSink) Write(p []byte) (int, error) {
	entry, err := decodeEntry(p)
	if err != nil {
		// Undecodable lines are dropped; the file core still has them.
		return len(p), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New("logging: write to closed channel sink")
	}

	select {
	case s.entries <- entry:
	default:
		select {
		case <-s.entries:
		default:
		}
		select {
		case s.entries <- entry:
		default:
		}
	}
	return len(p), nil
}

func (s *ChannelSink) Sync() error { return nil }

// Close closes the entries channel. Safe to call more than once.
func (s *ChannelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.entries)
	}
	return nil
}

func (s *ChannelSink) Entries() <-chan LogEntry {
	return s.entries
}

func decodeEntry(data []byte) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return LogEntry{}, err
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     "INFO",
		Scope:     "karkinos",
		Fields:    make(map[string]any),
	}
	if msg, ok := raw["msg"].(string); ok {
		entry.Message = msg
	}
	if level, ok := raw["level"].(string); ok {
		entry.Level = ParseLevel(level)
	}
	if logger, ok := raw["logger"].(string); ok {
		entry.Scope = logger
	}
	if ts, ok := raw["ts"].(float64); ok {
		sec := int64(ts)
		entry.Timestamp = time.Unix(sec, int64((ts-float64(sec))*1e9))
	}

	for k, v := range raw {
		switch k {
		case "msg", "level", "logger", "ts", "caller", "stacktrace":
			continue
		}
		entry.Fields[k] = v
	}
	return entry, nil
}
