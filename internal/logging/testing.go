// pattern: Imperative Shell

package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NopLogger returns a logger that discards everything.
func NopLogger() *ScopedLogger {
	return &ScopedLogger{}
}

// TestLogManager writes debug-level entries to a channel only, so tests
// can assert on what was logged.
type TestLogManager struct {
	sink *ChannelSink
	base *zap.Logger

	mu      sync.RWMutex
	loggers map[string]*ScopedLogger
}

// NewTestLogManager creates a TestLogManager buffering up to bufferSize entries.
func NewTestLogManager(bufferSize int) *TestLogManager {
	sink := NewChannelSink(bufferSize)
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(sink),
		zapcore.DebugLevel,
	)
	return &TestLogManager{
		sink:    sink,
		base:    zap.New(core),
		loggers: make(map[string]*ScopedLogger),
	}
}

func (m *TestLogManager) For(scope string) *ScopedLogger {
	return scopedFor(&m.mu, m.loggers, m.base, zapcore.DebugLevel, scope)
}

// Channel returns the captured entries.
func (m *TestLogManager) Channel() <-chan LogEntry {
	return m.sink.Entries()
}

// Drain returns every entry buffered so far without blocking.
func (m *TestLogManager) Drain() []LogEntry {
	var out []LogEntry
	for {
		select {
		case e, ok := <-m.sink.Entries():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func (m *TestLogManager) Close() error {
	return m.sink.Close()
}
