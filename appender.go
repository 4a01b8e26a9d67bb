// appender.go: Stdout and reopen-aware file sinks for rendered log records
//
// Copyright (c) 2025 kestrellog
// Series: a kestrel library
// SPDX-License-Identifier: MPL-2.0

package kestrel

import (
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Appender is a log sink. Per the original implementation's
// StdoutLogAppender/FileLogAppender contract, every Appender accepts a
// record through two independent entry points:
//
//   - Write takes the logger's level and a fully rendered byte span —
//     the path the accelerated drain loop uses, since by the time a
//     record reaches the drain loop it is already text.
//   - WriteEvent takes a LogEvent and renders it with the appender's own
//     (or inherited) Formatter — the path a Logger running in sync mode
//     uses, and the only path where a per-appender Formatter matters.
//
// Both entry points must be safe to call concurrently from any goroutine.
type Appender interface {
	Write(level Level, record []byte) error
	WriteEvent(level Level, ev *LogEvent) error
	Close() error
}

// appenderLevel is the per-appender threshold every Appender in this
// package embeds. The zero value is Unknown, the lowest level, so a
// freshly constructed appender accepts everything until SetLevel raises
// its threshold.
type appenderLevel struct {
	v int32
}

func (l *appenderLevel) Level() Level { return Level(atomic.LoadInt32(&l.v)) }

func (l *appenderLevel) SetLevel(level Level) { atomic.StoreInt32(&l.v, int32(level)) }

func (l *appenderLevel) enabled(level Level) bool { return level >= l.Level() }

// appenderFormatter holds the Formatter an Appender renders LogEvents
// with on its WriteEvent path. A Formatter set directly on the appender
// (via SetFormatter) is "owned" and never overwritten; one that arrives
// through inheritFormatter — called by a Logger's SetFormatter whenever
// the Logger's own pattern changes — is shared by reference and is
// replaced every time the Logger installs a new one, exactly as long as
// this appender has never been given a Formatter of its own.
type appenderFormatter struct {
	mu    sync.RWMutex
	f     *Formatter
	owned bool
}

// Formatter returns the appender's current Formatter, or nil if none has
// ever been set or inherited.
func (a *appenderFormatter) Formatter() *Formatter {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.f
}

// SetFormatter installs f as this appender's own Formatter. From this
// point on, inheritFormatter calls from the owning Logger are ignored.
func (a *appenderFormatter) SetFormatter(f *Formatter) {
	a.mu.Lock()
	a.f = f
	a.owned = true
	a.mu.Unlock()
}

func (a *appenderFormatter) inheritFormatter(f *Formatter) {
	a.mu.Lock()
	if !a.owned {
		a.f = f
	}
	a.mu.Unlock()
}

// render formats ev with the current Formatter, falling back to the raw
// message body if no Formatter has ever been set or inherited.
func (a *appenderFormatter) render(ev *LogEvent) []byte {
	f := a.Formatter()
	if f == nil {
		return []byte(ev.Message)
	}
	return f.Render(nil, ev)
}

// formatterInheritor is implemented by every Appender in this package;
// Logger.SetFormatter type-asserts to it so third-party Appenders that
// don't want formatter inheritance (they only ever see Write, never
// WriteEvent) aren't forced to implement it.
type formatterInheritor interface {
	inheritFormatter(f *Formatter)
}

// StdoutAppender writes to an *os.File (typically os.Stdout or
// os.Stderr), serialized by a mutex since multiple Loggers' drain loops
// may share it.
type StdoutAppender struct {
	appenderLevel
	appenderFormatter
	mu sync.Mutex
	w  *os.File
}

func NewStdoutAppender() *StdoutAppender { return &StdoutAppender{w: os.Stdout} }
func NewStderrAppender() *StdoutAppender { return &StdoutAppender{w: os.Stderr} }

func (a *StdoutAppender) Write(level Level, record []byte) error {
	if !a.enabled(level) {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.w.Write(record)
	return err
}

func (a *StdoutAppender) WriteEvent(level Level, ev *LogEvent) error {
	if !a.enabled(level) {
		return nil
	}
	return a.Write(level, a.render(ev))
}

func (a *StdoutAppender) Close() error { return nil }

// reopenInterval is the original implementation's fixed reopen threshold:
// a FileAppender reopens its target path if at least this long has
// elapsed since it last opened it, so an external rotation (the path
// being renamed out from under the open file descriptor and a new file
// created in its place) is picked up without the appender needing to
// watch the filesystem.
const reopenInterval = 3 * time.Second

// FileAppender writes records to a path, reopening it periodically so
// that log rotation performed by an external tool (rename + recreate) is
// picked up.
type FileAppender struct {
	appenderLevel
	appenderFormatter
	mu       sync.Mutex
	path     string
	file     *os.File
	lastOpen time.Time
}

// NewFileAppender opens path for appending, creating it if necessary.
func NewFileAppender(path string) (*FileAppender, error) {
	f := &FileAppender{path: path}
	if err := f.reopen(); err != nil {
		return nil, wrapError(err, ErrCodeAppenderOpen, "opening file appender target")
	}
	return f, nil
}

func (f *FileAppender) reopen() error {
	if f.file != nil {
		_ = f.file.Close()
	}
	// #nosec G304 -- path is supplied by the application, not external input.
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	f.file = file
	f.lastOpen = time.Now()
	return nil
}

func (f *FileAppender) Write(level Level, record []byte) error {
	if !f.enabled(level) {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if time.Since(f.lastOpen) >= reopenInterval {
		if err := f.reopen(); err != nil {
			return wrapError(err, ErrCodeAppenderWrite, "reopening file appender target")
		}
	}

	_, err := f.file.Write(record)
	if err != nil {
		return wrapError(err, ErrCodeAppenderWrite, "writing file appender record")
	}
	return nil
}

func (f *FileAppender) WriteEvent(level Level, ev *LogEvent) error {
	if !f.enabled(level) {
		return nil
	}
	return f.Write(level, f.render(ev))
}

func (f *FileAppender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}
