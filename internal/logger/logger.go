// Package logger wraps zerolog with the component-scoped, structured
// logging idiom used throughout the engine: every call site logs through
// a sub-logger carrying a "component" field, so alerting can correlate a
// trade's full lifecycle across packages.
package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base zerolog.Logger
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	base = zerolog.New(defaultWriter()).With().Timestamp().Logger()
}

func defaultWriter() io.Writer {
	if os.Getenv("LOG_PRETTY") == "1" {
		return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}
	return os.Stdout
}

// SetLevel adjusts the global minimum log level (debug|info|warn|error).
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Logger is a component-scoped logger. Obtain one via With.
type Logger struct {
	zl zerolog.Logger
}

// With returns a Logger tagged with the given key/value pairs, always
// including "component" as the first pair by convention.
func With(kv ...string) *Logger {
	mu.RLock()
	ctx := base.With()
	mu.RUnlock()
	for i := 0; i+1 < len(kv); i += 2 {
		ctx = ctx.Str(kv[i], kv[i+1])
	}
	return &Logger{zl: ctx.Logger()}
}

func (l *Logger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.zl.Warn().Msgf(format, args...) }

func (l *Logger) Errorf(err error, format string, args ...any) {
	l.zl.Error().Err(err).Msgf(format, args...)
}

// Event starts a structured log entry at the given level for callers that want
// to attach more than a formatted message (e.g. a trade id and a reason).
func (l *Logger) Event(level zerolog.Level) *zerolog.Event {
	return l.zl.WithLevel(level)
}

// Package-level convenience logger for call sites that have not yet
// adopted a component-scoped sub-logger.
var root = With()

func Debugf(format string, args ...any)          { root.Debugf(format, args...) }
func Infof(format string, args ...any)           { root.Infof(format, args...) }
func Warnf(format string, args ...any)           { root.Warnf(format, args...) }
func Errorf(err error, format string, args ...any) { root.Errorf(err, format, args...) }
func Info(msg string)                             { root.Infof("%s", msg) }
