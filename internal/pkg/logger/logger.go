package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// Logger is the leveled, structured logging contract handed to services.
// Fields are alternating key-value pairs.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// JSONLogger writes one JSON object per entry with optional PII redaction.
// Customer addresses and message bodies flow through the conversation core,
// so redaction defaults to on.
type JSONLogger struct {
	level     Level
	mu        sync.Mutex
	out       io.Writer
	redactPII bool
}

// New creates a JSONLogger writing to stderr.
func New(level Level) *JSONLogger {
	return &JSONLogger{level: level, out: os.Stderr, redactPII: true}
}

// NewWithWriter creates a JSONLogger writing to out (used by tests).
func NewWithWriter(level Level, out io.Writer) *JSONLogger {
	return &JSONLogger{level: level, out: out, redactPII: true}
}

var defaultLogger = New(INFO)

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level = l }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) { defaultLogger.redactPII = r }

// Default returns the process-wide logger.
func Default() *JSONLogger { return defaultLogger }

// Debug emits a DEBUG-level structured log entry on the default logger.
func Debug(msg string, fields ...interface{}) { defaultLogger.Debug(msg, fields...) }

// Info emits an INFO-level structured log entry on the default logger.
func Info(msg string, fields ...interface{}) { defaultLogger.Info(msg, fields...) }

// Warn emits a WARN-level structured log entry on the default logger.
func Warn(msg string, fields ...interface{}) { defaultLogger.Warn(msg, fields...) }

// Error emits an ERROR-level structured log entry on the default logger.
func Error(msg string, fields ...interface{}) { defaultLogger.Error(msg, fields...) }

// Debug implements Logger.
func (l *JSONLogger) Debug(msg string, fields ...interface{}) { l.log(DEBUG, msg, fields...) }

// Info implements Logger.
func (l *JSONLogger) Info(msg string, fields ...interface{}) { l.log(INFO, msg, fields...) }

// Warn implements Logger.
func (l *JSONLogger) Warn(msg string, fields ...interface{}) { l.log(WARN, msg, fields...) }

// Error implements Logger.
func (l *JSONLogger) Error(msg string, fields ...interface{}) { l.log(ERROR, msg, fields...) }

func (l *JSONLogger) log(level Level, msg string, fields ...interface{}) {
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}

	// Parse key-value pairs from fields
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redactPII {
			val = redactPIIValue(key, val)
		}
		entry[key] = val
	}

	// JSON output
	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}
