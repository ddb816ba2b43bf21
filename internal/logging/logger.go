// Package logging provides the structured logging façade every core
// component reports through. It generalizes the original C++
// reporter.h's spdlog::logger-over-a-dist_sink pattern: a Logger wraps
// a primary stdlib writer but can additionally fan out to any number
// of Sinks (e.g. the zap-backed adapter in sink_zap.go), the way
// Reporter::CreateZmqSink attaches an extra sink without replacing the
// stderr/file ones.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Logger wraps stdlib log with level support and an optional fan-out
// to additional Sinks.
type Logger struct {
	logger *log.Logger
	level  LogLevel
	sinks  []Sink
	mu     sync.Mutex
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels. Critical mirrors the
// acquisition pipeline's "structured logger line at critical" error
// propagation requirement (spec §7) — it is the level a thread's
// top-level wrapper logs at before reporting itself crashed.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Sink receives every log record at or above the logger's configured
// level, in addition to the primary stdlib writer. Used to bridge into
// a structured-field backend (zap) or a reporter topic (§6.6) without
// making either a hard dependency of the core.
type Sink interface {
	Write(level LogLevel, msg string, fields []any)
}

// Config holds logging configuration.
type Config struct {
	Level  LogLevel
	Output io.Writer
	Sinks  []Sink
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// NewLogger creates a new logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	return &Logger{
		logger: log.New(output, "", log.LstdFlags),
		level:  config.Level,
		sinks:  config.Sinks,
	}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// AddSink attaches an additional sink to the logger, matching the
// "attach without replacing" idiom of Reporter::CreateZmqSink.
func (l *Logger) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var result string
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if result != "" {
				result += " "
			}
			result += fmt.Sprintf("%v=%v", args[i], args[i+1])
		}
	}
	if result != "" {
		return " " + result
	}
	return ""
}

func (l *Logger) log(level LogLevel, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	sinks := l.sinks
	l.logger.Printf("%s %s%s", prefix, msg, formatArgs(args))
	l.mu.Unlock()

	for _, s := range sinks {
		s.Write(level, msg, args)
	}
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, "[INFO]", msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, "[WARN]", msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, "[ERROR]", msg, args...)
}

// Critical logs at the level a thread's top-level wrapper uses right
// before reporting itself crashed to the ThreadMonitor.
func (l *Logger) Critical(msg string, args ...any) {
	l.log(LevelCritical, "[CRITICAL]", msg, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, "[INFO]", fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, "[WARN]", fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, "[ERROR]", fmt.Sprintf(format, args...))
}

// Printf for compatibility with code expecting a *log.Logger-shaped interface.
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

func Debug(msg string, args ...any)    { Default().Debug(msg, args...) }
func Info(msg string, args ...any)     { Default().Info(msg, args...) }
func Warn(msg string, args ...any)     { Default().Warn(msg, args...) }
func Error(msg string, args ...any)    { Default().Error(msg, args...) }
func Critical(msg string, args ...any) { Default().Critical(msg, args...) }
