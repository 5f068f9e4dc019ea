// Package core logging, backed by logrus.
package core

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger provides leveled logging for the whole application
type Logger struct {
	log *logrus.Logger
}

var (
	// DefaultLogger is the global logger instance
	DefaultLogger *Logger
	once          sync.Once
)

// InitLogger initializes the global logger
func InitLogger(debug bool) {
	once.Do(func() {
		DefaultLogger = NewLogger(debug)
	})
}

// NewLogger creates a new logger instance. Output goes to stderr so log
// lines never interleave with the terminal UI.
func NewLogger(debug bool) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &Logger{log: l}
}

// SetOutput sets the output writer
func (l *Logger) SetOutput(w io.Writer) {
	l.log.SetOutput(w)
}

// SetLevel sets the minimum level from a logrus level
func (l *Logger) SetLevel(level logrus.Level) {
	l.log.SetLevel(level)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log.Errorf(format, args...)
}

// Package-level convenience functions

// Debug logs a debug message using the default logger
func Debug(format string, args ...interface{}) {
	if DefaultLogger != nil {
		DefaultLogger.Debug(format, args...)
	}
}

// Info logs an informational message using the default logger
func Info(format string, args ...interface{}) {
	if DefaultLogger != nil {
		DefaultLogger.Info(format, args...)
	}
}

// Warn logs a warning message using the default logger
func Warn(format string, args ...interface{}) {
	if DefaultLogger != nil {
		DefaultLogger.Warn(format, args...)
	}
}

// Error logs an error message using the default logger
func Error(format string, args ...interface{}) {
	if DefaultLogger != nil {
		DefaultLogger.Error(format, args...)
	}
}
