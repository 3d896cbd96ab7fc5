package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel controls logger verbosity.
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelSilent:
		return "SILENT"
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Logger is a leveled, component-tagged logger writing to the console and,
// optionally, an append-only log file.
type Logger struct {
	mu      sync.Mutex
	level   LogLevel
	console io.Writer
	file    *os.File
}

// NewLogger creates a logger writing to stderr at the given level.
func NewLogger(level LogLevel) *Logger {
	return &Logger{level: level, console: os.Stderr}
}

// SetFileOutput additionally appends log lines to the given file.
func (l *Logger) SetFileOutput(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	l.file = file
	return nil
}

// Close releases the log file, if any.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func (l *Logger) logf(level LogLevel, component, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level > l.level {
		return
	}

	line := fmt.Sprintf("[%s] %-5s %s: %s\n",
		time.Now().Format("2006-01-02 15:04:05"),
		level, component, fmt.Sprintf(format, args...))

	fmt.Fprint(l.console, line)
	if l.file != nil {
		fmt.Fprint(l.file, line)
	}
}

// Errorf logs an error message for a component.
func (l *Logger) Errorf(component, format string, args ...interface{}) {
	l.logf(LogLevelError, component, format, args...)
}

// Warnf logs a warning message for a component.
func (l *Logger) Warnf(component, format string, args ...interface{}) {
	l.logf(LogLevelWarn, component, format, args...)
}

// Infof logs an info message for a component.
func (l *Logger) Infof(component, format string, args ...interface{}) {
	l.logf(LogLevelInfo, component, format, args...)
}

// Debugf logs a debug message for a component.
func (l *Logger) Debugf(component, format string, args ...interface{}) {
	l.logf(LogLevelDebug, component, format, args...)
}

// componentLogger binds a Logger to one component name so it satisfies the
// chat package's Logger interface.
type componentLogger struct {
	logger    *Logger
	component string
}

// Component returns a chat-compatible logger tagged with the component name.
func (l *Logger) Component(name string) *componentLogger {
	return &componentLogger{logger: l, component: name}
}

func (c *componentLogger) Debugf(format string, args ...interface{}) {
	c.logger.Debugf(c.component, format, args...)
}

func (c *componentLogger) Infof(format string, args ...interface{}) {
	c.logger.Infof(c.component, format, args...)
}

func (c *componentLogger) Warnf(format string, args ...interface{}) {
	c.logger.Warnf(c.component, format, args...)
}

func (c *componentLogger) Errorf(format string, args ...interface{}) {
	c.logger.Errorf(c.component, format, args...)
}
