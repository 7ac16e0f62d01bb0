// Package logging wraps logrus with the kernel's conventional fields.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a thin wrapper around logrus.Logger.
type Logger struct {
	*logrus.Logger
}

// Config controls logger construction.
type Config struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
	Output string `json:"output" yaml:"output" env:"LOG_OUTPUT"`
}

// New creates a Logger from Config.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stdout
	if strings.ToLower(cfg.Output) == "stderr" {
		out = os.Stderr
	}
	l.SetOutput(out)

	return &Logger{Logger: l}
}

// NewDefault builds a logger with info level, text format, writing to
// stdout. The component argument is not attached to the log output.
func NewDefault(component string) *Logger {
	l := New(Config{Level: "info", Format: "text", Output: "stdout"})
	return &Logger{Logger: l.Logger}
}

// WithField returns a log entry annotated with a single field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a log entry annotated with multiple fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithError returns a log entry annotated with an error field.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}
