package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// LogLevel represents the severity of log messages
type LogLevel int

// Log levels in increasing order of severity
const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
)

// Logger writes every message to a timestamped log file and mirrors
// messages at or above the current level to the console, styled per level.
type Logger struct {
	mu           sync.Mutex
	currentLevel LogLevel
	logFile      *os.File
}

// Styles per log level
var (
	PrimaryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// Singleton logger instance
var (
	defaultLogger *Logger
	initOnce      sync.Once
	globalMutex   sync.Mutex
)

// DefaultLogLevel is used when no level is given to EnsureLogger
var DefaultLogLevel = INFO

// ParseLevel maps a level name from configuration to a LogLevel.
// Unknown names fall back to DefaultLogLevel.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warning", "warn":
		return WARNING
	case "error":
		return ERROR
	default:
		return DefaultLogLevel
	}
}

// Init creates a Logger that records to logs/faultline_<timestamp>.log and
// filters console output by the given level. The logs directory is created
// when missing.
func Init(level LogLevel) (*Logger, error) {
	logsDir := "logs"
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %v", err)
	}

	filename := filepath.Join(logsDir, fmt.Sprintf("faultline_%s.log", time.Now().Format("2006-01-02_15-04-05")))
	logFile, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %v", err)
	}

	return &Logger{
		currentLevel: level,
		logFile:      logFile,
	}, nil
}

// Close closes the underlying log file
func (l *Logger) Close() error {
	return l.logFile.Close()
}

// SetLevel changes the console filtering level at runtime
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentLevel = level
}

// log writes one entry: plain text to the file unconditionally, styled text
// to the console when the level passes the filter.
func (l *Logger) log(level LogLevel, style lipgloss.Style, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")

	if l.logFile != nil {
		entry := fmt.Sprintf("%s %s %s\n", timestamp, levelPrefix(level), message)
		l.logFile.WriteString(entry)
		l.logFile.Sync()
	}

	if level >= l.currentLevel {
		fmt.Printf("%s %s %s\n",
			timestamp,
			PrimaryStyle.Render(levelPrefix(level)),
			style.Render(message),
		)
	}
}

func levelPrefix(level LogLevel) string {
	switch level {
	case DEBUG:
		return "[DEBUG]"
	case INFO:
		return "[INFO]"
	case WARNING:
		return "[WARNING]"
	case ERROR:
		return "[ERROR]"
	default:
		return "[UNKNOWN]"
	}
}

// Debug logs a debug-level message
func (l *Logger) Debug(message string) {
	l.log(DEBUG, PrimaryStyle, message)
}

// Info logs an info-level message
func (l *Logger) Info(message string) {
	l.log(INFO, PrimaryStyle, message)
}

// Warning logs a warning-level message
func (l *Logger) Warning(message string) {
	l.log(WARNING, WarningStyle, message)
}

// Error logs an error-level message
func (l *Logger) Error(message string) {
	l.log(ERROR, ErrorStyle, message)
}

// EnsureLogger initializes the global logger once; later calls are no-ops.
// The optional level overrides DefaultLogLevel on the first call.
func EnsureLogger(level ...LogLevel) error {
	var err error
	initOnce.Do(func() {
		logLevel := DefaultLogLevel
		if len(level) > 0 {
			logLevel = level[0]
		}
		defaultLogger, err = Init(logLevel)
	})
	return err
}

// GetLogger returns the global logger, initializing it on first use
func GetLogger() (*Logger, error) {
	globalMutex.Lock()
	defer globalMutex.Unlock()

	if defaultLogger == nil {
		if err := EnsureLogger(); err != nil {
			return nil, fmt.Errorf("failed to initialize default logger: %v", err)
		}
	}
	return defaultLogger, nil
}

// Global logging convenience functions

// Debug logs a debug-level message using the global logger
func Debug(message string) {
	logger, err := GetLogger()
	if err != nil {
		fmt.Printf("Failed to get logger: %v\n", err)
		return
	}
	logger.Debug(message)
}

// Info logs an info-level message using the global logger
func Info(message string) {
	logger, err := GetLogger()
	if err != nil {
		fmt.Printf("Failed to get logger: %v\n", err)
		return
	}
	logger.Info(message)
}

// Warning logs a warning-level message using the global logger
func Warning(message string) {
	logger, err := GetLogger()
	if err != nil {
		fmt.Printf("Failed to get logger: %v\n", err)
		return
	}
	logger.Warning(message)
}

// Error logs an error-level message using the global logger
func Error(message string) {
	logger, err := GetLogger()
	if err != nil {
		fmt.Printf("Failed to get logger: %v\n", err)
		return
	}
	logger.Error(message)
}

// Close releases the global logger's file handle
func Close() error {
	globalMutex.Lock()
	defer globalMutex.Unlock()

	if defaultLogger != nil {
		return defaultLogger.Close()
	}
	return nil
}

// SetLevel changes the console level of the global logger
func SetLevel(level LogLevel) error {
	logger, err := GetLogger()
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	return nil
}
