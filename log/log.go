package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger is the leveled logger used across the debugger packages.
type Logger interface {
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Info(args ...interface{})
	Debug(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
}

type writerLogger struct {
	mu     sync.Mutex
	writer io.Writer
}

var _ Logger = &writerLogger{}

// New returns a Logger writing timestamped lines to w.
func New(w io.Writer) Logger {
	return &writerLogger{writer: w}
}

// Default returns a Logger writing to stderr.
func Default() Logger {
	return New(os.Stderr)
}

func (l *writerLogger) Infof(format string, args ...interface{}) {
	l.writeLog("INFO", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Debugf(format string, args ...interface{}) {
	l.writeLog("DEBUG", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Warnf(format string, args ...interface{}) {
	l.writeLog("WARN", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Errorf(format string, args ...interface{}) {
	l.writeLog("ERROR", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Info(args ...interface{}) {
	l.writeLog("INFO", fmt.Sprint(args...))
}

func (l *writerLogger) Debug(args ...interface{}) {
	l.writeLog("DEBUG", fmt.Sprint(args...))
}

func (l *writerLogger) Warn(args ...interface{}) {
	l.writeLog("WARN", fmt.Sprint(args...))
}

func (l *writerLogger) Error(args ...interface{}) {
	l.writeLog("ERROR", fmt.Sprint(args...))
}

// writeLog emits one line per call; the mutex keeps lines from
// concurrent goroutines from interleaving.
func (l *writerLogger) writeLog(level string, msg string) {
	now := time.Now().Format("2006-01-02 15:04:05")
	line := now + " " + level + " " + msg + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Write([]byte(line))
}

type nopLogger struct{}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Info(...interface{})           {}
func (nopLogger) Debug(...interface{})          {}
func (nopLogger) Warn(...interface{})           {}
func (nopLogger) Error(...interface{})          {}
