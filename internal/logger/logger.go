package logger

import (
	"fmt"
	"io"
	"livedetect/internal/config"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Level is the minimum severity a Logger writes.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// ParseLevel maps LOG_LEVEL values onto a Level; unknown values fall back to info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
}

// Logger provides leveled logging (debug/info/warning/error) to files and stdout/stderr.
type Logger struct {
	debugLog   *log.Logger
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	level      Level
	logDir     string
	files      []*os.File
	mu         sync.Mutex
}

// NewLogger creates a Logger. When LogDirectory is set, every level is also
// appended to its own file there.
func NewLogger(config *config.Config) *Logger {
	level, err := ParseLevel(config.LogLevel)
	if err != nil {
		log.Printf("%v, using info", err)
	}

	logger := &Logger{
		logDir: config.LogDirectory,
		level:  level,
	}

	if logger.logDir != "" {
		if err := os.MkdirAll(logger.logDir, 0755); err != nil {
			log.Fatalf("Failed to create log directory: %v", err)
		}
	}

	logger.setupLoggers(os.Stdout, os.Stderr)
	return logger
}

// NewWriterLogger creates a Logger without log files, writing to out (debug,
// info, warning) and errOut (error). Used by tools and tests.
func NewWriterLogger(out, errOut io.Writer, level Level) *Logger {
	logger := &Logger{level: level}
	logger.setupLoggers(out, errOut)
	return logger
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return NewWriterLogger(io.Discard, io.Discard, LevelError+1)
}

// setupLoggers initializes writers and per-level loggers.
func (l *Logger) setupLoggers(out, errOut io.Writer) {
	debugWriter := out
	infoWriter := out
	warningWriter := out
	errorWriter := errOut

	if l.logDir != "" {
		debugWriter = io.MultiWriter(out, l.openLogFile(filepath.Join(l.logDir, "debug.log")))
		infoWriter = io.MultiWriter(out, l.openLogFile(filepath.Join(l.logDir, "info.log")))
		warningWriter = io.MultiWriter(out, l.openLogFile(filepath.Join(l.logDir, "warning.log")))
		errorWriter = io.MultiWriter(errOut, l.openLogFile(filepath.Join(l.logDir, "error.log")))
	}

	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	l.debugLog = log.New(debugWriter, "🔍 DEBUG   ", flags)
	l.infoLog = log.New(infoWriter, "ℹ️  INFO    ", flags)
	l.warningLog = log.New(warningWriter, "⚠️  WARNING ", flags)
	l.errorLog = log.New(errorWriter, "❌ ERROR   ", flags)
}

// openLogFile opens or creates a log file for appending.
func (l *Logger) openLogFile(filename string) *os.File {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file %s: %v", filename, err)
	}
	l.files = append(l.files, file)
	return file
}

func (l *Logger) write(level Level, target *log.Logger, format string, v ...interface{}) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	target.Printf(format, v...)
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.write(LevelDebug, l.debugLog, format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.write(LevelInfo, l.infoLog, format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.write(LevelWarning, l.warningLog, format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.write(LevelError, l.errorLog, format, v...)
}

// LogDirectory returns the directory log files are written to, or "".
func (l *Logger) LogDirectory() string {
	return l.logDir
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	if l.logDir == "" {
		return fmt.Errorf("file logging disabled")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	filePath := filepath.Join(l.logDir, filepath.Base(fileName))
	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to truncate %s: %w", fileName, err)
	}
	return file.Close()
}

// Close releases the log files.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.files {
		f.Close()
	}
	l.files = nil
}
