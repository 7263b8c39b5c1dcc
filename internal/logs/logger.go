package logs

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
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

var levelNames = map[LogLevel]string{Debug: "DEBUG", Info: "INFO", Warn: "WARN", Error: "ERROR"}

func (ll LogLevel) String() string {
	return levelNames[ll]
}

// ParseLevel level by case-insensitive name, Info if unknown
func ParseLevel(name string) LogLevel {
	for l, n := range levelNames {
		if strings.EqualFold(n, name) {
			return l
		}
	}
	return Info
}

type defaultLogger struct {
	mu       sync.Mutex
	writer   io.Writer
	logLevel LogLevel
}

//NewLogger init Logger instance writing one line per entry
func NewLogger(writer io.Writer, logLevel LogLevel) Logger {
	return &defaultLogger{writer: writer, logLevel: logLevel}
}

func (l *defaultLogger) Debug(ctx context.Context, msg string, args ...interface{}) {
	l.log(Debug, msg, args)
}

func (l *defaultLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.log(Info, msg, args)
}

func (l *defaultLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	l.log(Warn, msg, args)
}

func (l *defaultLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.log(Error, msg, args)
}

func (l *defaultLogger) log(level LogLevel, msg string, args []interface{}) {
	if level < l.logLevel {
		return
	}
	line := fmt.Sprintf("%v [%s] %s %s\n", time.Now().Format("2006-01-02 15:04:05.000000"), level, fileLine(), fmt.Sprintf(msg, args...))
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.writer, line)
}

// caller of Logger.Xxx: log <- Xxx <- caller
func fileLine() string {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

type nopLogger struct{}

// NewNopLogger logger discarding everything
func NewNopLogger() Logger {
	return nopLogger{}
}

func (nopLogger) Debug(ctx context.Context, msg string, args ...interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, args ...interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, args ...interface{})  {}
func (nopLogger) Error(ctx context.Context, msg string, args ...interface{}) {}
