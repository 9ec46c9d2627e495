// Package dissectlog provides the explicit logger handle passed to the
// components of the recovery engine that log. No package here or
// downstream touches a process-global logger; a *Logger is always
// constructed by the caller (typically the CLI front end) and passed
// in, so two callers in the same process can run independent, even
// contradictory, log configurations.
package dissectlog

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger wraps a *logrus.Entry pre-populated with a "component"
// field. Components derive child Loggers with With rather than
// formatting their own field maps, keeping diagnostic records
// structurally uniform across the engine.
type Logger struct {
	entry *logrus.Entry
}

// New builds a root Logger. level follows the --log-level CLI surface
// (critical, error, warning, info, debug, off); unrecognized values
// fall back to info.
func New(level string, out io.Writer) *Logger {
	base := logrus.New()
	if out != nil {
		base.SetOutput(out)
	}
	base.SetLevel(parseLevel(level))
	return &Logger{entry: logrus.NewEntry(base)}
}

// Discard returns a Logger that drops everything; useful for tests
// and library callers that don't want engine diagnostics on stderr.
func Discard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{entry: logrus.NewEntry(base)}
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "critical":
		return logrus.FatalLevel
	case "error":
		return logrus.ErrorLevel
	case "warning":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	case "off":
		return logrus.PanicLevel + 1
	default:
		return logrus.InfoLevel
	}
}

// With returns a child Logger carrying the given component name plus
// any additional structured fields, without mutating the receiver.
func (l *Logger) With(component string, fields map[string]any) *Logger {
	e := l.entry.WithField("component", component)
	if len(fields) > 0 {
		e = e.WithFields(logrus.Fields(fields))
	}
	return &Logger{entry: e}
}

// Warn emits a page/offset-scoped diagnostic. page and offset are
// omitted from the record when negative, since not every warning is
// anchored to a specific byte.
func (l *Logger) Warn(message string, page, offset int) {
	entry := l.entry
	if page >= 0 {
		entry = entry.WithField("page", page)
	}
	if offset >= 0 {
		entry = entry.WithField("offset", offset)
	}
	entry.Warn(message)
}

// Debug logs at debug level with extra structured fields.
func (l *Logger) Debug(message string, fields map[string]any) {
	if len(fields) == 0 {
		l.entry.Debug(message)
		return
	}
	l.entry.WithFields(logrus.Fields(fields)).Debug(message)
}

// Error logs a fatal-for-this-file condition with the offending path.
func (l *Logger) Error(path string, err error) {
	l.entry.WithField("file", path).Error(err)
}
