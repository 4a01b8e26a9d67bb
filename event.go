// event.go: Log record value object for the kestrel logging library
//
// Copyright (c) 2025 kestrellog
// Series: a kestrel library
// SPDX-License-Identifier: MPL-2.0

package kestrel

import "time"

// LogEvent carries everything a PatternFormatter needs to render one log
// record. It is built on the producer goroutine, rendered to text
// immediately, and never itself crosses into the ring buffer — only the
// rendered bytes do.
type LogEvent struct {
	Level      Level
	Message    string
	Time       time.Time
	ElapsedMs  int64
	ThreadID   uint64
	FiberID    uint64
	ThreadName string
	File       string
	Line       int
	LoggerName string
}
