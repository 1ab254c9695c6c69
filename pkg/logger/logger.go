package logger

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level represents log level
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Config holds logger configuration
type Config struct {
	Level  string
	Output io.Writer
}

// Logger is a leveled logger with structured fields
type Logger struct {
	level  Level
	logger *log.Logger
}

// Field is a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// New creates a new logger
func New(cfg Config) *Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	return &Logger{
		level:  parseLevel(cfg.Level),
		logger: log.New(output, "", log.LstdFlags),
	}
}

// WithComponent creates a child logger with a component prefix
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		level:  l.level,
		logger: log.New(l.logger.Writer(), fmt.Sprintf("[%s] ", component), log.LstdFlags),
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...Field) {
	if l.level <= DebugLevel {
		l.log("DEBUG", msg, fields...)
	}
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...Field) {
	if l.level <= InfoLevel {
		l.log("INFO", msg, fields...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...Field) {
	if l.level <= WarnLevel {
		l.log("WARN", msg, fields...)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...Field) {
	if l.level <= ErrorLevel {
		l.log("ERROR", msg, fields...)
	}
}

func (l *Logger) log(level, msg string, fields ...Field) {
	if len(fields) == 0 {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}

	var fieldStrs []string
	for _, f := range fields {
		fieldStrs = append(fieldStrs, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}

	l.logger.Printf("[%s] %s %s", level, msg, strings.Join(fieldStrs, " "))
}

func parseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Field constructors

// String creates a string field
func String(key, val string) Field {
	return Field{Key: key, Value: val}
}

// Int creates an int field
func Int(key string, val int) Field {
	return Field{Key: key, Value: val}
}

// Uint16 creates a uint16 field, rendered as hex (addresses, opcodes,
// transaction ids)
func Uint16(key string, val uint16) Field {
	return Field{Key: key, Value: fmt.Sprintf("0x%04X", val)}
}

// Byte creates a byte field rendered as hex
func Byte(key string, val byte) Field {
	return Field{Key: key, Value: fmt.Sprintf("0x%02X", val)}
}

// Hex creates a field holding a hex dump of raw bytes
func Hex(key string, val []byte) Field {
	return Field{Key: key, Value: hex.EncodeToString(val)}
}

// Bool creates a bool field
func Bool(key string, val bool) Field {
	return Field{Key: key, Value: val}
}

// Error creates an error field
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "nil"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Any creates a field with any value
func Any(key string, val interface{}) Field {
	return Field{Key: key, Value: val}
}
