package log

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Options controls the global logger. Zero values give a console logger on
// stderr at INFO.
type Options struct {
	Level  Level
	Format string // "console" (default) or "json"

	// File, if set, receives a copy of every line with size-based rotation.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar  *zap.SugaredLogger
	closer func() error
)

// initLogger builds the default logger lazily so that packages can log before
// main has called Init.
func initLogger() *zap.SugaredLogger {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	if s != nil {
		return s
	}

	mu.Lock()
	defer mu.Unlock()
	if sugar == nil {
		core := zapcore.NewCore(newEncoder("console"), zapcore.Lock(os.Stderr), level)
		sugar = zap.New(core).Sugar()
	}
	return sugar
}

// Init replaces the global logger according to opts.
func Init(opts Options) error {
	if opts.Level != "" {
		SetLevel(opts.Level)
	}

	ws := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	var rotator *lumberjack.Logger
	if opts.File != "" {
		rotator = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		ws = append(ws, zapcore.AddSync(rotator))
	}

	core := zapcore.NewCore(newEncoder(opts.Format), zapcore.NewMultiWriteSyncer(ws...), level)

	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		_ = closer()
	}
	sugar = zap.New(core).Sugar()
	closer = nil
	if rotator != nil {
		closer = rotator.Close
	}
	return nil
}

// Sync flushes buffered output and closes the rotating file, if any.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if sugar != nil {
		_ = sugar.Sync()
	}
	if closer != nil {
		_ = closer()
		closer = nil
	}
}

func newEncoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "json" {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

// SetLevel changes the minimum level. Unknown names fall back to INFO.
func SetLevel(l Level) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(strings.ToLower(string(l)))); err != nil {
		zl = zapcore.InfoLevel
	}
	level.SetLevel(zl)
}

// ParseLevel maps a config string such as "debug" to a Level.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	initLogger().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	initLogger().Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	initLogger().Warnw(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	initLogger().Errorw(msg, extended...)
}
