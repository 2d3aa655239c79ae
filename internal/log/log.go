package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	mu       sync.RWMutex
	logger   zerolog.Logger
	initOnce sync.Once
)

// initLogger installs the default console logger on stderr.
func initLogger() {
	initOnce.Do(func() {
		zerolog.TimeFieldFormat = consoleTimeFormat
		zerolog.ErrorFieldName = "err"
		mu.Lock()
		logger = newLogger(os.Stderr, "console").Level(zerolog.InfoLevel)
		mu.Unlock()
	})
}

func newLogger(w io.Writer, format string) zerolog.Logger {
	if strings.EqualFold(format, "json") {
		return zerolog.New(w).With().Timestamp().Logger()
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	return zerolog.New(cw).With().Timestamp().Logger()
}

// SetOutput redirects log output. format is "console" (default) or "json".
// The current level is kept.
func SetOutput(w io.Writer, format string) {
	initLogger()
	mu.Lock()
	lvl := logger.GetLevel()
	logger = newLogger(w, format).Level(lvl)
	mu.Unlock()
}

func SetLevel(l Level) {
	initLogger()
	mu.Lock()
	logger = logger.Level(toZerolog(l))
	mu.Unlock()
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG", "TRACE":
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
	logWithLevel(zerolog.DebugLevel, msg, nil, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(zerolog.InfoLevel, msg, nil, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(zerolog.WarnLevel, msg, nil, kv...)
}

func Error(msg string, err error, kv ...any) {
	logWithLevel(zerolog.ErrorLevel, msg, err, kv...)
}

func logWithLevel(level zerolog.Level, msg string, err error, kv ...any) {
	initLogger()
	mu.RLock()
	zl := logger
	mu.RUnlock()

	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	if err != nil {
		e = e.Err(err)
	}
	// Expect kv as pairs: key, value, key, value, ...
	// If odd number of args, last one is ignored.
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
