package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger couples a Status line with a transcript file. The root logger owns
// the file; children share it and indent beneath the parent's line.
type Logger struct {
	status     *Status
	file       *os.File
	mu         sync.Mutex
	timeFormat string
	closed     bool
	parent     *Logger
}

type LoggerConfig struct {
	LogDir     string
	TimeFormat string
}

var DefaultConfig = LoggerConfig{
	LogDir:     "logs",
	TimeFormat: "2006-01-02 15:04:05",
}

func NewLogger(message string, parent *Logger) *Logger {
	logger := &Logger{
		timeFormat: DefaultConfig.TimeFormat,
		parent:     parent,
	}

	if parent == nil {
		fmt.Print("\n")
		ResetScreen()

		if err := os.MkdirAll(DefaultConfig.LogDir, 0755); err != nil {
			logger.handleError("Failed to create log directory", err)
			return logger
		}

		timestamp := time.Now().Format("2006-01-02_15-04-05")
		logPath := filepath.Join(DefaultConfig.LogDir, fmt.Sprintf("run_%s.log", timestamp))
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			logger.handleError("Failed to create log file", err)
			return logger
		}
		logger.file = file
	} else {
		logger.file = parent.file
	}

	var parentStatus *Status
	if parent != nil {
		parentStatus = parent.status
	}
	logger.status = Start(message, parentStatus)

	logger.writeToFile(fmt.Sprintf("Started: %s", message))
	return logger
}

// Log starts a child step beneath this logger.
func (l *Logger) Log(message string) *Logger {
	return NewLogger(message, l)
}

// Success finishes the step and releases it.
func (l *Logger) Success(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status != nil && !l.closed {
		l.status.Success(message)
		l.writeToFile(fmt.Sprintf("Success: %s", message))
		l.close()
	}
}

// Warn finishes the step with a warning mark without treating it as fatal.
func (l *Logger) Warn(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status != nil && !l.closed {
		l.status.Warn(message)
		l.writeToFile(fmt.Sprintf("Warning: %s", message))
		l.close()
	}
}

// Fail finishes the step as failed, cascades the failure to every ancestor
// and returns an error carrying the step message. A nil err is a no-op so
// call sites can write `return l.Fail("...", err)` unconditionally.
func (l *Logger) Fail(message string, err error) error {
	if err == nil {
		return nil
	}

	failure := fmt.Errorf("%s: %w", message, err)

	l.mu.Lock()
	if l.status != nil && !l.closed {
		l.status.Fail(failure.Error())
		l.writeToFile(fmt.Sprintf("Failed: %s", failure))
		l.close()
	}
	parent := l.parent
	l.mu.Unlock()

	for parent != nil {
		parent.mu.Lock()
		if parent.status != nil && !parent.closed {
			parent.status.Fail(parent.status.message)
			parent.writeToFile(fmt.Sprintf("Failed: %s", failure))
			parent.close()
		}
		next := parent.parent
		parent.mu.Unlock()
		parent = next
	}

	return failure
}

func (l *Logger) handleError(message string, err error) {
	errorMsg := fmt.Sprintf("%s: %v", message, err)
	if l.status != nil {
		l.status.Fail(errorMsg)
	} else {
		fmt.Fprintf(os.Stderr, "Logger error: %s\n", errorMsg)
	}
}

func (l *Logger) writeToFile(message string) {
	if l.file == nil {
		return
	}

	timestamp := time.Now().Format(l.timeFormat)
	indent := ""
	if l.status != nil {
		indent = strings.Repeat("  ", l.status.indentLevel)
	}

	if _, err := l.file.WriteString(fmt.Sprintf("[%s] %s%s\n", timestamp, indent, message)); err != nil {
		l.handleError("Write error", err)
	}
}

func (l *Logger) close() {
	if !l.closed {
		l.closed = true
		// Only the root logger owns the file handle.
		if l.parent == nil && l.file != nil {
			if err := l.file.Close(); err != nil {
				l.handleError("Close error", err)
			}
			l.file = nil
		}
	}
}

func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.close()
}
