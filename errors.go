// errors.go: Error handling integration for the kestrel logging library
//
// Copyright (c) 2025 kestrellog
// Series: a kestrel library
// SPDX-License-Identifier: MPL-2.0

package kestrel

import (
	"fmt"
	"os"
	"runtime"

	"github.com/agilira/go-errors"
)

// Error codes returned by kestrel's constructors. Formatter parse errors
// are deliberately not included here: a pattern with unknown specifiers is
// still installed and still usable, so it is reported as data (an
// <<error_format %X>> marker in the rendered output), not as a Go error.
const (
	ErrCodeInvalidCapacity errors.ErrorCode = "KESTREL_INVALID_CAPACITY"
	ErrCodeInvalidStaging  errors.ErrorCode = "KESTREL_INVALID_STAGING"
	ErrCodeAppenderOpen    errors.ErrorCode = "KESTREL_APPENDER_OPEN"
	ErrCodeAppenderWrite   errors.ErrorCode = "KESTREL_APPENDER_WRITE"
	ErrCodeRingClosed      errors.ErrorCode = "KESTREL_RING_CLOSED"
	ErrCodeLoggerClosed    errors.ErrorCode = "KESTREL_LOGGER_CLOSED"
)

// ErrorHandler reports errors a Logger cannot return to its caller, such
// as an Appender write failing on the drain goroutine.
type ErrorHandler func(err *errors.Error)

var currentErrorHandler ErrorHandler = defaultErrorHandler

// defaultErrorHandler writes to stdout rather than stderr: these
// diagnostics (appender I/O failures with no caller left to return an
// error to) are process output describing what the logger itself did,
// not a fatal condition for whatever else the process is doing.
func defaultErrorHandler(err *errors.Error) {
	fmt.Fprintf(os.Stdout, "[kestrel] %s: %s\n", err.Code, err.Message)
	if err.Cause != nil {
		fmt.Fprintf(os.Stdout, "[kestrel] caused by: %v\n", err.Cause)
	}
}

// SetErrorHandler overrides the process-wide error handler used for
// diagnostics that have no other way to reach the caller.
func SetErrorHandler(h ErrorHandler) {
	if h == nil {
		currentErrorHandler = defaultErrorHandler
		return
	}
	currentErrorHandler = h
}

func newError(code errors.ErrorCode, message string) *errors.Error {
	err := errors.New(code, message).WithContext("component", "kestrel")
	if pc, file, line, ok := runtime.Caller(2); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			_ = err.WithContext("caller_func", fn.Name())
		}
		_ = err.WithContext("caller_file", file)
		_ = err.WithContext("caller_line", line)
	}
	return err
}

func wrapError(cause error, code errors.ErrorCode, message string) *errors.Error {
	return errors.Wrap(cause, code, message).WithContext("component", "kestrel")
}

func reportError(err *errors.Error) {
	if err == nil {
		return
	}
	currentErrorHandler(err)
}
