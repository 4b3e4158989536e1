// Package logger wraps logrus with component-tagged entries and file rotation.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields type alias for logrus.Fields.
type Fields map[string]interface{}

// Log wraps logrus.Logger.
type Log struct {
	*logrus.Logger
}

// Entry wraps logrus.Entry.
type Entry struct {
	*logrus.Entry
}

var globalLogger = New()

// New returns a JSON logger at the level named by LOG_LEVEL (default info).
func New() *Log {
	l := &Log{Logger: logrus.New()}
	l.SetReportCaller(true)
	l.SetLevel(parseLevelOr(os.Getenv("LOG_LEVEL"), logrus.InfoLevel))
	l.SetFormatter(jsonFormatter())
	l.AddHook(&callerHook{})
	return l
}

// Get returns the process-wide logger.
func Get() *Log {
	return globalLogger
}

// Discard returns a logger that writes nowhere, for tests.
func Discard() *Log {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

// Configure sets level, format ("json" | "text") and output
// ("stdout" | "stderr" | file path). File output rotates when maxAgeDays > 0.
func (l *Log) Configure(level, format, output string, maxAgeDays int) error {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level '%s'", level)
	}
	l.SetLevel(lvl)

	switch format {
	case "json", "":
		l.SetFormatter(jsonFormatter())
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		})
	default:
		return fmt.Errorf("invalid log format '%s'", format)
	}

	switch output {
	case "stdout", "":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	default:
		if maxAgeDays > 0 {
			l.SetOutput(&lumberjack.Logger{
				Filename: output,
				MaxAge:   maxAgeDays,
				MaxSize:  100,
				Compress: true,
			})
			return nil
		}
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		l.SetOutput(file)
	}

	return nil
}

// WithComponent returns an entry tagged with the component name.
func (l *Log) WithComponent(component string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", component)}
}

// WithFields returns an entry carrying fields.
func (l *Log) WithFields(fields Fields) *Entry {
	return &Entry{Entry: l.Logger.WithFields(logrus.Fields(fields))}
}

// WithComponent re-tags the entry.
func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

// WithFields adds fields to the entry.
func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(fields))}
}

// WithField adds one field to the entry.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{Entry: e.Entry.WithField(key, value)}
}

// WithError attaches err under the "error" key.
func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

func parseLevelOr(s string, def logrus.Level) logrus.Level {
	if s == "" {
		return def
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(s))
	if err != nil {
		return def
	}
	return lvl
}

func jsonFormatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
		CallerPrettyfier: callerPrettyfier,
	}
}

func callerPrettyfier(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}
