// Package rlog provides the process-wide structured logger for the runtime.
package rlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide logger. Components should use the With*
// helpers below rather than calling Logger directly, so that structured
// fields stay consistent across the codebase.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.WarnLevel)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// SetLevel parses level (debug, info, warn, error) and applies it, falling
// back to InfoLevel on an unrecognized value.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)
}

// SetOutput redirects log output, e.g. to a --log-file destination.
func SetOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// SetJSONFormat switches the formatter to JSON, for log aggregation.
func SetJSONFormat() {
	Logger.SetFormatter(&logrus.JSONFormatter{})
}

// WithField returns a log entry with a single structured field.
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}

// WithFields returns a log entry carrying the given structured fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}

// WithDevice returns a log entry tagged with the owning device name.
func WithDevice(name string) *logrus.Entry {
	return Logger.WithField("device", name)
}

// WithConnection returns a log entry tagged with a connection id.
func WithConnection(id string) *logrus.Entry {
	return Logger.WithField("connection", id)
}

// WithToken returns a log entry tagged with a dispatched protocol token.
func WithToken(token string) *logrus.Entry {
	return Logger.WithField("token", token)
}

// Debugf logs at debug level on the process-wide logger.
func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

// Warnf logs at warn level on the process-wide logger.
func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

// Errorf logs at error level on the process-wide logger.
func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}
