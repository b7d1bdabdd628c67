// Package logger provides leveled logging with a text and a JSON-lines
// output format.
package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	}
	return "fatal"
}

// Logger writes leveled records to stderr.
type Logger struct {
	level  Level
	json   bool
	logger *log.Logger
}

var defaultLogger *Logger

// ParseLevel maps a config string to a level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Init initializes the default logger with the specified level and format.
func Init(level string, format string) {
	asJSON := strings.ToLower(format) == "json"
	flags := log.LstdFlags | log.Lmicroseconds
	if asJSON {
		// Timestamps live inside the JSON record.
		flags = 0
	}
	defaultLogger = &Logger{
		level:  ParseLevel(level),
		json:   asJSON,
		logger: log.New(os.Stderr, "", flags),
	}
}

type record struct {
	Time  string `json:"time"`
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

func output(level Level, format string, args ...interface{}) {
	if defaultLogger == nil || defaultLogger.level > level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if defaultLogger.json {
		line, err := json.Marshal(record{
			Time:  time.Now().Format(time.RFC3339Nano),
			Level: level.String(),
			Msg:   msg,
		})
		if err == nil {
			_ = defaultLogger.logger.Output(3, string(line))
		}
		return
	}
	_ = defaultLogger.logger.Output(3, fmt.Sprintf("[%s] %s", strings.ToUpper(level.String()), msg))
}

func Debug(format string, args ...interface{}) {
	output(DebugLevel, format, args...)
}

func Info(format string, args ...interface{}) {
	output(InfoLevel, format, args...)
}

func Warn(format string, args ...interface{}) {
	output(WarnLevel, format, args...)
}

func Error(format string, args ...interface{}) {
	output(ErrorLevel, format, args...)
}

func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		msg := fmt.Sprintf("[FATAL] "+format, args...)
		_ = defaultLogger.logger.Output(2, msg)
	}
	os.Exit(1)
}
