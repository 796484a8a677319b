// Package logger wraps logrus with the handful of conventions the rest of
// this repo relies on: a named component field, a documented level/format/
// output contract, and an optional file sink alongside stdout.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Logger already carrying a "component" field.
type Logger struct {
	*logrus.Logger
	component string
}

// Config holds logging configuration, decoded from the process config
// (pkg/config) under the "logging" key.
type Config struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	Output     string `mapstructure:"output" yaml:"output"`
	FilePrefix string `mapstructure:"file_prefix" yaml:"file_prefix"`
}

// New builds a Logger for component, named cfg. Output is one of "stdout"
// (default) or "file" (stdout plus logs/<FilePrefix>.log, opened in append
// mode so it keeps growing across restarts).
func New(component string, cfg Config) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "reactive-streams"
		}
		logDir := "logs"
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			base.Errorf("failed to create log directory: %v", err)
			break
		}
		path := filepath.Join(logDir, prefix+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			base.Errorf("failed to open log file %s: %v", path, err)
			break
		}
		base.SetOutput(io.MultiWriter(os.Stdout, f))
	default:
		base.SetOutput(os.Stdout)
	}

	return &Logger{Logger: base, component: component}
}

// NewDefault returns a Logger for component at info level, text format, on
// stdout — the fallback used when no Config has been loaded yet.
func NewDefault(component string) *Logger {
	return New(component, Config{Level: "info", Format: "text", Output: "stdout"})
}

// WithField returns a log entry carrying this logger's component plus key.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField("component", l.component).WithField(key, value)
}

// WithFields returns a log entry carrying this logger's component plus fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithField("component", l.component).WithFields(fields)
}

// Named returns a new Logger for a sub-component, sharing the underlying
// logrus.Logger (and therefore its level/format/output).
func (l *Logger) Named(sub string) *Logger {
	return &Logger{Logger: l.Logger, component: l.component + "." + sub}
}
