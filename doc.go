// doc.go: Package overview for the kestrel logging library
//
// Copyright (c) 2025 kestrellog
// Series: a kestrel library
// SPDX-License-Identifier: MPL-2.0

// Package kestrel is an in-process, asynchronous logging library for
// multi-threaded Go applications.
//
// Each goroutine that logs through a Logger gets its own lock-free ring
// buffer; a single drain goroutine per Logger pulls rendered records out
// of every buffer in turn and hands them to the configured Appenders. A
// pattern-string formatter, compatible with the log4cplus/spdlog style of
// "%"-specifiers, turns a LogEvent into the text that actually reaches an
// Appender.
package kestrel
