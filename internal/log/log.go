package log

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu     sync.RWMutex
	sugar  *zap.SugaredLogger
	atom   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	inited sync.Once
)

// initLogger installs a JSON production logger on stderr unless Setup or
// SetLogger already ran.
func initLogger() {
	inited.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if sugar != nil {
			return
		}
		l, err := build("json")
		if err != nil {
			l = zap.NewNop()
		}
		sugar = l.Sugar()
	})
}

func build(format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = atom
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	switch format {
	case "", "json":
		cfg.Encoding = "json"
	case "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("log: unknown format %q", format)
	}
	return cfg.Build(zap.AddCallerSkip(2))
}

// Setup replaces the global logger with one using the given encoding
// ("json" or "console") and minimum level.
func Setup(format string, level Level) error {
	inited.Do(func() {})
	l, err := build(format)
	if err != nil {
		return err
	}
	SetLevel(level)
	mu.Lock()
	old := sugar
	sugar = l.Sugar()
	mu.Unlock()
	if old != nil {
		_ = old.Sync()
	}
	return nil
}

// SetLogger installs l as the global logger. Tests use it with an
// observer core.
func SetLogger(l *zap.Logger) {
	inited.Do(func() {})
	mu.Lock()
	sugar = l.WithOptions(zap.AddCallerSkip(2)).Sugar()
	mu.Unlock()
}

func SetLevel(l Level) {
	atom.SetLevel(zapLevel(l))
}

// ParseLevel accepts the level names case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug, nil
	case LevelInfo, "":
		return LevelInfo, nil
	case LevelWarn, "WARNING":
		return LevelWarn, nil
	case LevelError:
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("log: unknown level %q", s)
}

// Sync flushes buffered entries.
func Sync() {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	if s != nil {
		_ = s.Sync()
	}
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(LevelWarn, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

// Fatal logs at error level and exits the process.
func Fatal(msg string, err error, kv ...any) {
	initLogger()
	mu.RLock()
	s := sugar
	mu.RUnlock()
	s.Fatalw(msg, append([]any{"err", err}, trimKVs(kv)...)...)
}

func logWithLevel(level Level, msg string, kv ...any) {
	initLogger()
	mu.RLock()
	s := sugar
	mu.RUnlock()

	kv = trimKVs(kv)
	switch level {
	case LevelDebug:
		s.Debugw(msg, kv...)
	case LevelInfo:
		s.Infow(msg, kv...)
	case LevelWarn:
		s.Warnw(msg, kv...)
	default:
		s.Errorw(msg, kv...)
	}
}

// trimKVs drops a dangling key and pairs whose key is not a string so zap
// does not report them as malformed.
func trimKVs(kv []any) []any {
	if len(kv)%2 == 0 {
		ok := true
		for i := 0; i < len(kv); i += 2 {
			if _, isStr := kv[i].(string); !isStr {
				ok = false
				break
			}
		}
		if ok {
			return kv
		}
	}
	out := make([]any, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		if _, isStr := kv[i].(string); !isStr {
			continue
		}
		out = append(out, kv[i], kv[i+1])
	}
	return out
}

func zapLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
