// Package logger wraps zerolog behind a small key/value API so the
// rest of the engine does not depend on a particular logging library.
package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger.
var Log = console()

// Logger emits structured events with variadic key/value pairs.
type Logger struct {
	z zerolog.Logger
}

func console() *Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return &Logger{z: zerolog.New(w).With().Timestamp().Logger()}
}

// Setup reconfigures the global logger. Level is one of zerolog's
// level names ("debug", "info", ...); format is "json" or "console".
func Setup(level, format string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "json" {
		Log = &Logger{z: zerolog.New(os.Stderr).With().Timestamp().Logger()}
	} else {
		Log = console()
	}
	return nil
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.emit(l.z.Debug(), msg, kv) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.emit(l.z.Info(), msg, kv) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.emit(l.z.Warn(), msg, kv) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.emit(l.z.Error(), msg, kv) }

// Package-level shorthands delegating to the global logger.
func Debug(msg string, kv ...interface{}) { Log.Debug(msg, kv...) }
func Info(msg string, kv ...interface{})  { Log.Info(msg, kv...) }
func Warn(msg string, kv ...interface{})  { Log.Warn(msg, kv...) }
func Error(msg string, kv ...interface{}) { Log.Error(msg, kv...) }

func (l *Logger) emit(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
