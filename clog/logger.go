package clog

import (
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Level is a logging level independent of the logrus type, so callers of
// this package don't need to import logrus just to configure one.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Config configures a logger built by New.
type Config struct {
	Level      Level
	Format     string // "json" or "text"
	Component  string
	AddCaller  bool
	TimeFormat string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     "text",
		TimeFormat: time.RFC3339,
	}
}

// New creates a configured *logrus.Logger using the package's stream-split
// output.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	case LevelFatal:
		logger.SetLevel(logrus.FatalLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: cfg.TimeFormat})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: cfg.TimeFormat, FullTimestamp: true})
	}

	logger.SetReportCaller(cfg.AddCaller)
	logger.SetOutput(streamSplitter{})

	if cfg.Component != "" {
		logger.AddHook(componentHook{component: cfg.Component})
	}

	return logger
}

type componentHook struct{ component string }

func (componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["component"]; !ok {
		e.Data["component"] = h.component
	}
	return nil
}

// Entry wraps a *logrus.Entry with a chainable field API matching the
// style used throughout this module's components.
type Entry struct {
	entry *logrus.Entry
}

// NewEntry wraps logger (or the package Logger if nil) with base fields.
func NewEntry(logger *logrus.Logger, fields map[string]interface{}) *Entry {
	if logger == nil {
		logger = Logger
	}
	return &Entry{entry: logger.WithFields(fields)}
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{entry: e.entry.WithField(key, value)}
}

func (e *Entry) WithFields(fields map[string]interface{}) *Entry {
	return &Entry{entry: e.entry.WithFields(fields)}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{entry: e.entry.WithError(err)}
}

func (e *Entry) Debug(msg string) { e.entry.Debug(msg) }
func (e *Entry) Info(msg string)  { e.entry.Info(msg) }
func (e *Entry) Warn(msg string)  { e.entry.Warn(msg) }
func (e *Entry) Error(msg string) { e.entry.Error(msg) }

// Debugf/Infof/Warnf/Errorf mirror logrus's formatted variants.
func (e *Entry) Debugf(format string, args ...interface{}) { e.entry.Debugf(format, args...) }
func (e *Entry) Infof(format string, args ...interface{})  { e.entry.Infof(format, args...) }
func (e *Entry) Warnf(format string, args ...interface{})  { e.entry.Warnf(format, args...) }
func (e *Entry) Errorf(format string, args ...interface{}) { e.entry.Errorf(format, args...) }

// WithTiming logs operation start/end with duration; the returned function
// must be deferred or called at the end of the operation.
func WithTiming(e *Entry, operation string) func(err *error) {
	start := time.Now()
	e.WithField("operation", operation).Debug("operation started")
	return func(errp *error) {
		duration := time.Since(start)
		le := e.WithFields(map[string]interface{}{
			"operation":   operation,
			"duration_ms": duration.Milliseconds(),
		})
		if errp != nil && *errp != nil {
			le.WithError(*errp).Warn("operation failed")
			return
		}
		le.Debug("operation completed")
	}
}

// RecoverAndLog recovers a panic, logging it with a stack trace, and is
// meant to be deferred at the top of a goroutine entry point.
func RecoverAndLog(e *Entry) {
	if r := recover(); r != nil {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		e.WithFields(map[string]interface{}{
			"panic": fmt.Sprintf("%v", r),
			"stack": string(buf[:n]),
		}).Error("panic recovered")
	}
}
