// Package log wraps go.uber.org/zap behind a small interface so the rest
// of the tree (internal/memtask, internal/engine, cmd/tgctl) never imports
// zap directly, the same seam the teacher draws with its own
// pkg/interfaces/infrastructure/log package in front of the same library.
// File rotation, when configured, goes through gopkg.in/natefinch/lumberjack.v2.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured-logging surface every other package depends
// on. Fields are passed as alternating key/value pairs, matching zap's
// SugaredLogger convention so call sites stay terse.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)

	// With returns a Logger that prepends kv to every subsequent call.
	With(kv ...any) Logger

	// Sync flushes any buffered log entries; call before process exit.
	Sync() error
}

// Config controls where and at what level a Logger built by New writes.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string

	// Console enables a human-readable encoder on stdout. Defaults to true
	// when FilePath is empty.
	Console bool

	// FilePath, when set, rotates JSON-encoded entries through lumberjack.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultConfig returns a console-only, info-level configuration.
func DefaultConfig() Config {
	return Config{Level: "info", Console: true}
}

type sugaredLogger struct {
	s *zap.SugaredLogger
}

// New builds a Logger from cfg. The returned Logger must be Sync'd before
// process exit to flush any buffered file output.
func New(cfg Config) (Logger, error) {
	level := parseLevel(cfg.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var cores []zapcore.Core
	if cfg.Console || cfg.FilePath == "" {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stdout), level))
	}
	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level))
	}

	core := zapcore.NewTee(cores...)
	zl := zap.New(core, zap.AddCaller())
	return &sugaredLogger{s: zl.Sugar()}, nil
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *sugaredLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l *sugaredLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *sugaredLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *sugaredLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }

func (l *sugaredLogger) With(kv ...any) Logger {
	return &sugaredLogger{s: l.s.With(kv...)}
}

func (l *sugaredLogger) Sync() error { return l.s.Sync() }

type nopLogger struct{}

// Nop returns a Logger that discards everything, the default every
// constructor in this tree falls back to when no Logger is configured.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any)    {}
func (nopLogger) Info(string, ...any)     {}
func (nopLogger) Warn(string, ...any)     {}
func (nopLogger) Error(string, ...any)    {}
func (nopLogger) With(...any) Logger      { return nopLogger{} }
func (nopLogger) Sync() error             { return nil }
