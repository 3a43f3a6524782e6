// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

var (
	// DefaultLogger is the default logger and is used by the engine and every request.
	DefaultLogger Logger = &logger{level: LevelInfo, out: log.New(os.Stderr, "", log.LstdFlags)}
)

const (
	// LevelAll enables all logs.
	LevelAll = iota
	// LevelDebug logs are usually disabled in production.
	LevelDebug
	// LevelInfo is the default logging priority.
	LevelInfo
	// LevelWarn .
	LevelWarn
	// LevelError .
	LevelError
	// LevelNone disables all logs.
	LevelNone
)

var levelNames = map[string]int{
	"all":   LevelAll,
	"debug": LevelDebug,
	"info":  LevelInfo,
	"warn":  LevelWarn,
	"error": LevelError,
	"none":  LevelNone,
}

// Logger defines log interface.
type Logger interface {
	SetLevel(lvl int)
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
}

// SetLogger sets default logger.
func SetLogger(l Logger) {
	DefaultLogger = l
}

// SetLevel sets default logger's priority.
func SetLevel(lvl int) {
	switch lvl {
	case LevelAll, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelNone:
		DefaultLogger.SetLevel(lvl)
	default:
		log.Printf("invalid log level: %v", lvl)
	}
}

// ParseLevel maps a level name such as "debug" or "warn" to its value.
func ParseLevel(name string) (int, error) {
	lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return LevelInfo, fmt.Errorf("invalid log level %q", name)
	}
	return lvl, nil
}

// New creates a Logger writing to w, every line is tagged with name.
func New(name string, w io.Writer, lvl int) Logger {
	prefix := ""
	if name != "" {
		prefix = "[" + name + "] "
	}
	return &logger{level: lvl, out: log.New(w, prefix, log.LstdFlags)}
}

// logger implements Logger and is used by default.
type logger struct {
	level int
	out   *log.Logger
}

// SetLevel sets logs priority.
func (l *logger) SetLevel(lvl int) {
	switch lvl {
	case LevelAll, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelNone:
		l.level = lvl
	default:
		log.Printf("invalid log level: %v", lvl)
	}
}

// Debug logs a message at LevelDebug.
func (l *logger) Debug(format string, v ...interface{}) {
	if LevelDebug >= l.level {
		l.out.Printf("[DBG] "+format+"\n", v...)
	}
}

// Info logs a message at LevelInfo.
func (l *logger) Info(format string, v ...interface{}) {
	if LevelInfo >= l.level {
		l.out.Printf("[INF] "+format+"\n", v...)
	}
}

// Warn logs a message at LevelWarn.
func (l *logger) Warn(format string, v ...interface{}) {
	if LevelWarn >= l.level {
		l.out.Printf("[WRN] "+format+"\n", v...)
	}
}

// Error logs a message at LevelError.
func (l *logger) Error(format string, v ...interface{}) {
	if LevelError >= l.level {
		l.out.Printf("[ERR] "+format+"\n", v...)
	}
}

// Prefixed decorates every message sent to Logger with a fixed prefix,
// requests use it to tag their lines with the exchange id.
type Prefixed struct {
	Logger Logger
	Prefix string
}

// SetLevel forwards to the wrapped logger.
func (p *Prefixed) SetLevel(lvl int) {
	p.logger().SetLevel(lvl)
}

// Debug .
func (p *Prefixed) Debug(format string, v ...interface{}) {
	p.logger().Debug(p.Prefix+format, v...)
}

// Info .
func (p *Prefixed) Info(format string, v ...interface{}) {
	p.logger().Info(p.Prefix+format, v...)
}

// Warn .
func (p *Prefixed) Warn(format string, v ...interface{}) {
	p.logger().Warn(p.Prefix+format, v...)
}

// Error .
func (p *Prefixed) Error(format string, v ...interface{}) {
	p.logger().Error(p.Prefix+format, v...)
}

func (p *Prefixed) logger() Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return DefaultLogger
}

// Debug uses DefaultLogger to log a message at LevelDebug.
func Debug(format string, v ...interface{}) {
	if DefaultLogger != nil {
		DefaultLogger.Debug(format, v...)
	}
}

// Info uses DefaultLogger to log a message at LevelInfo.
func Info(format string, v ...interface{}) {
	if DefaultLogger != nil {
		DefaultLogger.Info(format, v...)
	}
}

// Warn uses DefaultLogger to log a message at LevelWarn.
func Warn(format string, v ...interface{}) {
	if DefaultLogger != nil {
		DefaultLogger.Warn(format, v...)
	}
}

// Error uses DefaultLogger to log a message at LevelError.
func Error(format string, v ...interface{}) {
	if DefaultLogger != nil {
		DefaultLogger.Error(format, v...)
	}
}
