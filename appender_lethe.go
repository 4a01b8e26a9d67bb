// appender_lethe.go: Rotation-capable file sink backed by lethe
//
// Copyright (c) 2025 kestrellog
// Series: a kestrel library
// SPDX-License-Identifier: MPL-2.0

package kestrel

import (
	"sync"

	"github.com/agilira/lethe"
)

// LetheAppender is an opt-in file Appender backed by
// github.com/agilira/lethe, for deployments that want size/age-based
// rotation and compression on top of kestrel's mandatory reopen-on-move
// policy. It's a thin adapter: lethe.Logger already satisfies
// io.WriteCloser, so this just serializes calls and folds write failures
// into kestrel's error type.
type LetheAppender struct {
	appenderLevel
	appenderFormatter
	mu  sync.Mutex
	log *lethe.Logger
}

// LetheOptions configures the rotation policy; zero values fall back to
// lethe's own defaults.
type LetheOptions struct {
	Filename   string
	MaxSizeStr string // e.g. "100MB"
	MaxBackups int
	MaxAgeStr  string // e.g. "168h"
	Compress   bool
	LocalTime  bool
}

// NewLetheAppender builds an appender for the rotating target described
// by opts. It does not open the file itself, and its error result is
// always nil.
func NewLetheAppender(opts LetheOptions) (*LetheAppender, error) {
	l := &lethe.Logger{
		Filename:   opts.Filename,
		MaxSizeStr: opts.MaxSizeStr,
		MaxBackups: opts.MaxBackups,
		MaxAgeStr:  opts.MaxAgeStr,
		Compress:   opts.Compress,
		LocalTime:  opts.LocalTime,
	}
	return &LetheAppender{log: l}, nil
}

func (a *LetheAppender) Write(level Level, record []byte) error {
	if !a.enabled(level) {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.log.Write(record)
	if err != nil {
		return wrapError(err, ErrCodeAppenderWrite, "writing lethe-backed appender record")
	}
	return nil
}

func (a *LetheAppender) WriteEvent(level Level, ev *LogEvent) error {
	if !a.enabled(level) {
		return nil
	}
	return a.Write(level, a.render(ev))
}

func (a *LetheAppender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.log.Close()
}
