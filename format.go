// format.go: Brace-style message formatting
//
// Copyright (c) 2025 kestrellog
// Series: a kestrel library
// SPDX-License-Identifier: MPL-2.0

package kestrel

import (
	"fmt"
	"strings"
)

// Debugw, Infow, Warnw, Errorw and Fatalw build the message body from a
// brace-style format string: each "{}" is replaced by the next argument,
// with "{{" and "}}" escaping literal braces. This is the second of the
// original's two format-string families — it exposed both a
// vsnprintf-style path (the Debugf family here) and an fmt::format-style
// path, and this is the latter's Go analogue. Formatting only happens if
// the level is enabled.
func (l *Logger) Debugw(format string, args ...any) { l.logw(Debug, format, args, 3) }
func (l *Logger) Infow(format string, args ...any)  { l.logw(Info, format, args, 3) }
func (l *Logger) Warnw(format string, args ...any)  { l.logw(Warn, format, args, 3) }
func (l *Logger) Errorw(format string, args ...any) { l.logw(Error, format, args, 3) }
func (l *Logger) Fatalw(format string, args ...any) { l.logw(Fatal, format, args, 3) }

func (l *Logger) logw(level Level, format string, args []any, skip int) {
	if !l.level.Enabled(level) {
		return
	}
	l.log(level, braceFormat(format, args), skip+1)
}

// braceFormat substitutes "{}" placeholders left to right. Divergences
// from a strict formatter are deliberate for a logging hot path: a
// placeholder with no argument left is emitted literally, and surplus
// arguments are ignored, so a mismatched call mangles one message instead
// of panicking or erroring out of a fire-and-forget API.
func braceFormat(format string, args []any) string {
	if len(args) == 0 && !strings.ContainsAny(format, "{}") {
		return format
	}
	buf := make([]byte, 0, len(format)+16*len(args))
	next := 0
	for i := 0; i < len(format); {
		c := format[i]
		switch {
		case c == '{' && i+1 < len(format) && format[i+1] == '{':
			buf = append(buf, '{')
			i += 2
		case c == '}' && i+1 < len(format) && format[i+1] == '}':
			buf = append(buf, '}')
			i += 2
		case c == '{' && i+1 < len(format) && format[i+1] == '}' && next < len(args):
			buf = fmt.Append(buf, args[next])
			next++
			i += 2
		default:
			buf = append(buf, c)
			i++
		}
	}
	return string(buf)
}
