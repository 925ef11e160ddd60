package logs

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Logger logger interface
type Logger interface {
	Debug(ctx context.Context, msg string, args ...interface{})
	Info(ctx context.Context, msg string, args ...interface{})
	Warn(ctx context.Context, msg string, args ...interface{})
	Error(ctx context.Context, msg string, args ...interface{})
}

// LogLevel log level
type LogLevel int

const (
	//Debug enable debug or above log output
	Debug LogLevel = 0
	//Info enable info or above log output
	Info LogLevel = 1
	//Warn enable warn or above log output
	Warn LogLevel = 2
	//Error enable error or above log output
	Error LogLevel = 3
)

func (ll LogLevel) String() string {
	switch ll {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	}
	return ""
}

// ParseLevel converts a level name such as "debug" or "WARN" into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return Debug, nil
	case "", "INFO":
		return Info, nil
	case "WARN", "WARNING":
		return Warn, nil
	case "ERROR":
		return Error, nil
	}
	return Info, fmt.Errorf("unknown log level: %q", s)
}

type prefixKey struct{}

// WithPrefix returns a context whose log lines are prefixed with prefix, e.g. "lane:0003".
func WithPrefix(ctx context.Context, prefix string) context.Context {
	if old, ok := ctx.Value(prefixKey{}).(string); ok && old != "" {
		prefix = old + " " + prefix
	}
	return context.WithValue(ctx, prefixKey{}, prefix)
}

func prefixOf(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if p, ok := ctx.Value(prefixKey{}).(string); ok && p != "" {
		return "[" + p + "] "
	}
	return ""
}

type defaultLogger struct {
	mu       sync.Mutex
	writer   io.StringWriter
	logLevel LogLevel
}

// NewLogger init Logger instance
func NewLogger(writer io.StringWriter, logLevel LogLevel) *defaultLogger {
	return &defaultLogger{writer: writer, logLevel: logLevel}
}

func (l *defaultLogger) Debug(ctx context.Context, msg string, args ...interface{}) {
	l.log(ctx, Debug, msg, args...)
}

func (l *defaultLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.log(ctx, Info, msg, args...)
}

func (l *defaultLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	l.log(ctx, Warn, msg, args...)
}

func (l *defaultLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.log(ctx, Error, msg, args...)
}

func (l *defaultLogger) log(ctx context.Context, level LogLevel, msg string, args ...interface{}) {
	if level < l.logLevel {
		return
	}
	line := logBase(level) + prefixOf(ctx) + fmt.Sprintf(msg, args...) + "\n"
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.WriteString(line)
}

// Nop discards everything.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, args ...interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, args ...interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, args ...interface{})  {}
func (nopLogger) Error(ctx context.Context, msg string, args ...interface{}) {}

var seperatorReg = regexp.MustCompile("[/\\\\]")

func fileLine() string {
	_, file, line, ok := runtime.Caller(4)
	if ok {
		idx := seperatorReg.FindAllStringIndex(file, -1)
		if len(idx) > 0 {
			file = file[idx[len(idx)-1][1]:]
		}
		return fmt.Sprintf("%s:%d", file, line)
	}
	return ""
}

func logBase(level LogLevel) string {
	return fmt.Sprintf("%v [%s] %s ", time.Now().Format("2006-01-02 15:04:05.000000"), level, fileLine())
}
