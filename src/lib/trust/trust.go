package trust

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	hclog "github.com/hashicorp/go-hclog"

	"lake/src/lib/semihosting"
)

type MaskLevel int

const (
	Nothing   MaskLevel = 0x0
	ErrorMask MaskLevel = 0x1
	WarnMask  MaskLevel = 0x2
	InfoMask  MaskLevel = 0x4
	DebugMask MaskLevel = 0x8
	StatsMask MaskLevel = 0x10
	fatalMask MaskLevel = 0x80
)

var (
	mu     sync.Mutex
	level  = fatalMask | StatsMask | ErrorMask | WarnMask | InfoMask
	output io.Writer = os.Stderr
	root   = newRoot(output)
)

func newRoot(w io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "lake",
		Level:  hclog.Trace, //filtering is done with the mask
		Output: w,
	})
}

// SetOutput sends all log lines to w.  Loggers created before the call keep
// their old destination.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	root = newRoot(w)
}

// SetLevel sets the mask directly. You can pass in something like
// ErrorMask | DebugMask to control exactly what gets printed.  It returns the
// previous mask.
func SetLevel(mask MaskLevel) MaskLevel {
	mu.Lock()
	defer mu.Unlock()
	r := level & 0x1f
	level = (mask & 0x1f) | fatalMask
	return r
}

func Level() MaskLevel {
	mu.Lock()
	defer mu.Unlock()
	return level
}

// ParseLevel turns a verbosity name into a mask that includes everything
// more severe.  Unknown names give info.
func ParseLevel(s string) MaskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off":
		return Nothing
	case "error":
		return ErrorMask
	case "warn":
		return ErrorMask | WarnMask
	case "debug":
		return ErrorMask | WarnMask | InfoMask | DebugMask | StatsMask
	}
	return ErrorMask | WarnMask | InfoMask | StatsMask
}

func LevelToString() string {
	l := Level()
	var parts []string
	for _, p := range []struct {
		m MaskLevel
		s string
	}{{ErrorMask, "error"}, {WarnMask, "warn"}, {InfoMask, "info"}, {DebugMask, "debug"}, {StatsMask, "stats"}} {
		if l&p.m != 0 {
			parts = append(parts, p.s)
		}
	}
	return strings.Join(parts, " ")
}

//
// Logger is a named channel of log messages, one per subsystem.
//
type Logger struct {
	name string
	h    hclog.Logger
}

// Named returns a logger whose lines carry the subsystem name.
func Named(name string) *Logger {
	mu.Lock()
	defer mu.Unlock()
	return &Logger{name: name, h: root.Named(name)}
}

// With returns a logger that adds key/value pairs to every line.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{name: l.name, h: l.h.With(args...)}
}

func (l *Logger) logf(m MaskLevel, format string, params ...interface{}) {
	if Level()&m == 0 {
		return
	}
	msg := strings.TrimSuffix(fmt.Sprintf(format, params...), "\n")
	switch {
	case m&(ErrorMask|fatalMask) > 0:
		l.h.Error(msg)
	case m&WarnMask > 0:
		l.h.Warn(msg)
	case m&InfoMask > 0:
		l.h.Info(msg)
	case m&DebugMask > 0:
		l.h.Debug(msg)
	}
}

func (l *Logger) Errorf(format string, params ...interface{}) {
	l.logf(ErrorMask, format, params...)
}

func (l *Logger) Warnf(format string, params ...interface{}) {
	l.logf(WarnMask, format, params...)
}

func (l *Logger) Infof(format string, params ...interface{}) {
	l.logf(InfoMask, format, params...)
}

func (l *Logger) Debugf(format string, params ...interface{}) {
	l.logf(DebugMask, format, params...)
}

// Statsf logs at the stats level with the category as a field.
func (l *Logger) Statsf(category string, format string, params ...interface{}) {
	if Level()&StatsMask == 0 {
		return
	}
	l.h.Info(fmt.Sprintf(format, params...), "stats", category)
}

// Fatalf logs and then exits with exitCode.  It is not maskable.
func (l *Logger) Fatalf(exitCode int, format string, params ...interface{}) {
	l.logf(fatalMask, format, params...)
	semihosting.Exit(uint64(exitCode))
}

func std() *Logger {
	mu.Lock()
	defer mu.Unlock()
	return &Logger{h: root}
}

//Fatalf prints the given log message (format + params) and then
//exits with the exitCode provided.  Fatalf is not maskable.
func Fatalf(exitCode int, format string, params ...interface{}) {
	std().Fatalf(exitCode, format, params...)
}

//Errorf prints the given log message (format + params) using the ErrorMask level.
func Errorf(format string, params ...interface{}) {
	std().Errorf(format, params...)
}

//Warnf prints the given log message (format + params) using the WarnMask level.
func Warnf(format string, params ...interface{}) {
	std().Warnf(format, params...)
}

//Infof prints the given log message (format + params) using the InfoMask level.
func Infof(format string, params ...interface{}) {
	std().Infof(format, params...)
}

//Debugf prints the given log message (format + params) using the DebugMask level.
func Debugf(format string, params ...interface{}) {
	std().Debugf(format, params...)
}

//Statsf prints the given log message (format + params) using the StatsMask level and
//takes an extra parameter that will be visible in the log message as the category
//of stats that is reported.
func Statsf(category string, format string, params ...interface{}) {
	std().Statsf(category, format, params...)
}
