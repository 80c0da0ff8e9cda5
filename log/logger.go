package log

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"flowline.dev/version"
)

// Level is a logging verbosity level, kept as a distinct type from
// logrus.Level so callers outside this package never import logrus directly.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Config controls construction of the base logrus logger.
type Config struct {
	Level      Level
	Format     string // "json" or "text"
	Service    string
	AddCaller  bool
	TimeFormat string
}

func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     "text",
		TimeFormat: time.RFC3339,
	}
}

func newLogrus(cfg Config) *logrus.Logger {
	l := logrus.New()

	switch cfg.Level {
	case LevelDebug:
		l.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		l.SetLevel(logrus.WarnLevel)
	case LevelError:
		l.SetLevel(logrus.ErrorLevel)
	case LevelFatal:
		l.SetLevel(logrus.FatalLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: cfg.TimeFormat})
	} else {
		l.SetFormatter(&logrus.TextFormatter{TimestampFormat: cfg.TimeFormat, FullTimestamp: true})
	}

	l.SetReportCaller(cfg.AddCaller)
	l.SetOutput(&OutputSplitter{})
	return l
}

// Logger is a field-carrying, context-aware wrapper over logrus, the shape
// every component in this module receives through constructor injection.
// Fields accumulate immutably: each With* call returns a new Logger so a
// base logger can be safely shared and specialized per call site.
type Logger struct {
	raw    *logrus.Logger
	fields logrus.Fields
}

// New constructs a root Logger for a named service.
func New(cfg Config, service string) *Logger {
	return &Logger{
		raw:    newLogrus(cfg),
		fields: logrus.Fields{"service": service, "core_version": version.GetCoreVersion()},
	}
}

// NewFromRaw wraps an existing *logrus.Logger, used by tests that want to
// assert against a captured output buffer.
func NewFromRaw(raw *logrus.Logger, fields map[string]interface{}) *Logger {
	f := make(logrus.Fields, len(fields))
	for k, v := range fields {
		f[k] = v
	}
	return &Logger{raw: raw, fields: f}
}

func (l *Logger) clone() logrus.Fields {
	f := make(logrus.Fields, len(l.fields))
	for k, v := range l.fields {
		f[k] = v
	}
	return f
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	f := l.clone()
	f[key] = value
	return &Logger{raw: l.raw, fields: f}
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	f := l.clone()
	for k, v := range fields {
		f[k] = v
	}
	return &Logger{raw: l.raw, fields: f}
}

func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err.Error())
}

// WithContext lifts request_id / trace_id / recipient_id carried on ctx,
// following the same context.Value extraction convention used across the
// inbound webhook and flow-engine call chains.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	f := l.clone()
	for _, key := range []string{"request_id", "trace_id", "recipient_id", "run_id"} {
		if v := ctx.Value(ctxKey(key)); v != nil {
			f[key] = v
		}
	}
	return &Logger{raw: l.raw, fields: f}
}

type ctxKey string

func (l *Logger) Debug(msg string) { l.raw.WithFields(l.fields).Debug(msg) }
func (l *Logger) Info(msg string)  { l.raw.WithFields(l.fields).Info(msg) }
func (l *Logger) Warn(msg string)  { l.raw.WithFields(l.fields).Warn(msg) }
func (l *Logger) Error(msg string) { l.raw.WithFields(l.fields).Error(msg) }
func (l *Logger) Fatal(msg string) { l.raw.WithFields(l.fields).Fatal(msg) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.raw.WithFields(l.fields).Debugf(format, args...)
}
func (l *Logger) Infof(format string, args ...interface{}) {
	l.raw.WithFields(l.fields).Infof(format, args...)
}
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.raw.WithFields(l.fields).Warnf(format, args...)
}
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.raw.WithFields(l.fields).Errorf(format, args...)
}

// LogOperation runs fn, logging start/end with duration and the error if any.
func LogOperation(logger *Logger, operation string, fn func() error) error {
	start := time.Now()
	logger.WithField("operation", operation).Debug("operation started")

	err := fn()

	entry := logger.WithFields(map[string]interface{}{
		"operation":   operation,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("operation failed")
		return err
	}
	entry.Debug("operation completed")
	return nil
}

// LogPanic recovers a panic and logs it with a stack trace; intended to be
// deferred at the top of every worker goroutine so a single recipient's
// crashing executor cannot take down the process.
func LogPanic(logger *Logger) {
	if r := recover(); r != nil {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		logger.WithFields(map[string]interface{}{
			"panic":      fmt.Sprintf("%v", r),
			"stacktrace": string(buf[:n]),
		}).Error("panic recovered")
	}
}
