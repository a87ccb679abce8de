package logutil

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const loggerName = "rocm-debug-agent"

var logger atomic.Pointer[zap.Logger]

// InitLogger installs the default logger: warnings and errors on stderr.
func InitLogger() {
	l, err := build("stderr", zapcore.WarnLevel)
	if err != nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

func GetLogger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// SetLogger replaces the process logger and returns a func restoring the previous one.
func SetLogger(l *zap.Logger) func() {
	prev := logger.Swap(l)
	return func() {
		if prev == nil {
			logger.Store(zap.NewNop())
			return
		}
		logger.Store(prev)
	}
}

// Configure points the logger at dest with the given level name.
// dest is empty (stderr), "stdout", or a file prefix that becomes
// <prefix>_AgentLog_<sessionID>.log.
func Configure(dest, level, sessionID string) error {
	lvl, enabled, err := ParseLevel(level)
	if err != nil {
		return err
	}
	if !enabled {
		logger.Store(zap.NewNop())
		return nil
	}

	out := LogPath(dest, sessionID)
	l, err := build(out, lvl)
	if err != nil {
		return fmt.Errorf("building logger for %s: %w", out, err)
	}
	logger.Store(l)
	l.Info("logging enabled", zap.String("output", out), zap.String("level", lvl.String()))
	return nil
}

func LogPath(dest, sessionID string) string {
	switch dest {
	case "":
		return "stderr"
	case "stdout":
		return "stdout"
	default:
		return fmt.Sprintf("%s_AgentLog_%s.log", dest, sessionID)
	}
}

// ParseLevel maps none|error|warning|info|verbose onto zap levels.
// The bool is false for "none".
func ParseLevel(s string) (zapcore.Level, bool, error) {
	switch strings.ToLower(s) {
	case "", "warning", "warn":
		return zapcore.WarnLevel, true, nil
	case "none":
		return zapcore.InvalidLevel, false, nil
	case "error":
		return zapcore.ErrorLevel, true, nil
	case "info":
		return zapcore.InfoLevel, true, nil
	case "verbose", "debug":
		return zapcore.DebugLevel, true, nil
	default:
		return zapcore.InvalidLevel, false, fmt.Errorf("invalid log level %q", s)
	}
}

func build(output string, lvl zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{output}
	cfg.ErrorOutputPaths = []string{"stderr"}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Named(loggerName), nil
}
