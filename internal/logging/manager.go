// pattern: Imperative Shell

package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds configuration for the Manager.
type Config struct {
	FilePath       string    // rotating JSON log file
	MaxSizeMB      int       // size before rotation
	MaxBackups     int       // rotated files kept
	MaxAgeDays     int       // days rotated files are kept
	Level          string    // debug, info, warn, error
	ChannelBufSize int       // entries buffered for the monitor's log pane
	Console        io.Writer // optional human-readable output (warn and above)
}

// LoggerProvider hands out scoped loggers.
// Both Manager and TestLogManager implement it.
type LoggerProvider interface {
	For(scope string) *ScopedLogger
}

// ScopedLogger is a leveled key/value logger bound to one scope
// ("git", "lifecycle", "mcp", ...).
type ScopedLogger struct {
	slog  *slog.Logger
	scope string
}

func (l *ScopedLogger) Info(msg string, args ...any) {
	if l.slog != nil {
		l.slog.Info(msg, args...)
	}
}

func (l *ScopedLogger) Debug(msg string, args ...any) {
	if l.slog != nil {
		l.slog.Debug(msg, args...)
	}
}

func (l *ScopedLogger) Warn(msg string, args ...any) {
	if l.slog != nil {
		l.slog.Warn(msg, args...)
	}
}

func (l *ScopedLogger) Error(msg string, args ...any) {
	if l.slog != nil {
		l.slog.Error(msg, args...)
	}
}

// With returns a logger that adds args to every entry.
func (l *ScopedLogger) With(args ...any) *ScopedLogger {
	if l.slog == nil {
		return l
	}
	return &ScopedLogger{slog: l.slog.With(args...), scope: l.scope}
}

// Scope returns the logger's scope name.
func (l *ScopedLogger) Scope() string {
	return l.scope
}

// Manager fans log output to a rotating file, the monitor's channel sink
// and, optionally, a console writer.
type Manager struct {
	base       *zap.Logger
	sink       *ChannelSink
	fileWriter *lumberjack.Logger
	level      zapcore.Level

	mu      sync.RWMutex
	loggers map[string]*ScopedLogger
}

// NewManager builds a Manager from cfg, filling in rotation defaults.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.FilePath == "" {
		return nil, errors.New("logging: FilePath is required")
	}
	if cfg.ChannelBufSize == 0 {
		cfg.ChannelBufSize = 1000
	}
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 3
	}
	if cfg.MaxAgeDays == 0 {
		cfg.MaxAgeDays = 7
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, err
	}

	fileWriter := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	sink := NewChannelSink(cfg.ChannelBufSize)

	jsonEnc := zapcore.NewJSONEncoder(encoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(jsonEnc, zapcore.AddSync(fileWriter), level),
		zapcore.NewCore(jsonEnc.Clone(), zapcore.AddSync(sink), level),
	}
	if cfg.Console != nil {
		consoleCfg := encoderConfig()
		consoleCfg.TimeKey = ""
		consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		consoleLevel := max(level, zapcore.WarnLevel)
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.AddSync(cfg.Console),
			consoleLevel,
		))
	}

	return &Manager{
		base:       zap.New(zapcore.NewTee(cores...)),
		sink:       sink,
		fileWriter: fileWriter,
		level:      level,
		loggers:    make(map[string]*ScopedLogger),
	}, nil
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.EpochTimeEncoder
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return cfg
}

// For returns the cached logger for scope, creating it on first use.
func (m *Manager) For(scope string) *ScopedLogger {
	return scopedFor(&m.mu, m.loggers, m.base, m.level, scope)
}

// scopedFor is shared by Manager and TestLogManager.
func scopedFor(mu *sync.RWMutex, cache map[string]*ScopedLogger, base *zap.Logger, level zapcore.Level, scope string) *ScopedLogger {
	mu.RLock()
	logger, ok := cache[scope]
	mu.RUnlock()
	if ok {
		return logger
	}

	mu.Lock()
	defer mu.Unlock()
	if logger, ok := cache[scope]; ok {
		return logger
	}

	named := base.Named(scope)
	logger = &ScopedLogger{
		slog:  slog.New(&zapSlogHandler{zap: named, level: level}),
		scope: scope,
	}
	cache[scope] = logger
	return logger
}

// Entries returns the channel the monitor reads log entries from.
func (m *Manager) Entries() <-chan LogEntry {
	return m.sink.Entries()
}

// Sync flushes buffered output.
func (m *Manager) Sync() error {
	return m.base.Sync()
}

// Close flushes and releases the file and channel.
func (m *Manager) Close() error {
	_ = m.Sync()
	_ = m.sink.Close()
	return m.fileWriter.Close()
}

// zapSlogHandler lets slog front a zap core.
type zapSlogHandler struct {
	zap   *zap.Logger
	level zapcore.Level
	attrs []slog.Attr
}

func (h *zapSlogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return toZapLevel(level) >= h.level
}

func (h *zapSlogHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make([]zap.Field, 0, r.NumAttrs()+len(h.attrs))
	for _, attr := range h.attrs {
		fields = append(fields, zap.Any(attr.Key, attr.Value.Any()))
	}
	r.Attrs(func(attr slog.Attr) bool {
		fields = append(fields, zap.Any(attr.Key, attr.Value.Any()))
		return true
	})

	if ce := h.zap.Check(toZapLevel(r.Level), r.Message); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

func (h *zapSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &zapSlogHandler{zap: h.zap, level: h.level, attrs: merged}
}

func (h *zapSlogHandler) WithGroup(name string) slog.Handler {
	return &zapSlogHandler{zap: h.zap.Named(name), level: h.level, attrs: h.attrs}
}

func toZapLevel(level slog.Level) zapcore.Level {
	switch {
	case level >= slog.LevelError:
		return zapcore.ErrorLevel
	case level >= slog.LevelWarn:
		return zapcore.WarnLevel
	case level >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
