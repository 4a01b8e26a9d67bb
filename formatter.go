// formatter.go: Pattern compilation and event rendering
//
// Copyright (c) 2025 kestrellog
// Series: a kestrel library
// SPDX-License-Identifier: MPL-2.0

package kestrel

import (
	"io"
	"strconv"
	"strings"
)

// emitter renders one piece of a compiled pattern — either a literal run
// of text or one %-specifier — into buf, returning the extended slice.
type emitter interface {
	emit(buf []byte, ev *LogEvent) []byte
}

// Formatter compiles a pattern string once and reuses the compiled
// emitter chain for every subsequent Render call, so the hot path never
// re-parses the pattern.
//
// A pattern with unknown %-specifiers still compiles successfully: per
// the specifier contract below, an unrecognized specifier becomes a
// literal "<<error_format %X>>" marker in the output instead of making
// the formatter unusable. HasErrors reports whether that happened, for
// callers that want to surface a misconfigured pattern without losing the
// ability to log.
type Formatter struct {
	pattern  string
	emitters []emitter
	hasError bool
}

// DefaultPattern matches the layout the original implementation shipped:
// timestamp, thread id, thread name, fiber id, level, file:line, message.
const DefaultPattern = "%d{%Y-%m-%d %H:%M:%S}%T%t%T%N%T%F%T[%p]%T%f:%l%T%m%n"

// NewFormatter compiles pattern into a Formatter. Compilation never fails:
// see HasErrors for how unknown specifiers are reported.
func NewFormatter(pattern string) *Formatter {
	f := &Formatter{pattern: pattern}
	f.emitters, f.hasError = compilePattern(pattern)
	return f
}

// Pattern returns the original pattern string the Formatter was compiled
// from, independent of the compiled emitter chain, so round-tripping a
// pattern through Formatter never depends on being able to regenerate it
// from emitters.
func (f *Formatter) Pattern() string { return f.pattern }

// HasErrors reports whether compilation encountered unrecognized
// specifiers.
func (f *Formatter) HasErrors() bool { return f.hasError }

// Render appends the formatted text for ev to buf and returns the
// extended slice.
func (f *Formatter) Render(buf []byte, ev *LogEvent) []byte {
	for _, e := range f.emitters {
		buf = e.emit(buf, ev)
	}
	return buf
}

// RenderString returns the formatted event as a freshly allocated
// string.
func (f *Formatter) RenderString(ev *LogEvent) string {
	return string(f.Render(nil, ev))
}

// RenderTo writes the formatted event through w.
func (f *Formatter) RenderTo(w io.Writer, ev *LogEvent) error {
	_, err := w.Write(f.Render(nil, ev))
	return err
}

func compilePattern(pattern string) ([]emitter, bool) {
	var emitters []emitter
	var hasError bool
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			emitters = append(emitters, literalEmitter(lit.String()))
			lit.Reset()
		}
	}

	i := 0
	n := len(pattern)
	for i < n {
		c := pattern[i]
		if c != '%' {
			lit.WriteByte(c)
			i++
			continue
		}

		// '%' is the last character: treat as literal.
		if i+1 >= n {
			lit.WriteByte('%')
			i++
			continue
		}

		spec := pattern[i+1]
		if spec == '%' {
			lit.WriteByte('%')
			i += 2
			continue
		}

		sub := ""
		next := i + 2
		unterminated := false
		if next < n && pattern[next] == '{' {
			end := strings.IndexByte(pattern[next:], '}')
			if end >= 0 {
				sub = pattern[next+1 : next+end]
				next = next + end + 1
			} else {
				unterminated = true
			}
		}

		var e emitter
		if unterminated {
			// No closing brace anywhere in the rest of the pattern: there is
			// no sensible position to resume compiling from, so the error
			// marker swallows the rest of the pattern instead of leaking
			// the unclosed '{...}' text as a literal.
			hasError = true
			e = literalEmitter("<<error_format %" + string(spec) + ">>")
			next = n
		} else {
			var ok bool
			e, ok = newSpecifierEmitter(spec, sub)
			if !ok {
				hasError = true
				e = literalEmitter("<<error_format %" + string(spec) + ">>")
			}
		}
		flush()
		emitters = append(emitters, e)
		i = next
	}
	flush()

	return emitters, hasError
}

func newSpecifierEmitter(spec byte, sub string) (emitter, bool) {
	switch spec {
	case 'm':
		return messageEmitter{}, true
	case 'p':
		return levelEmitter{}, true
	case 'r':
		return elapsedEmitter{}, true
	case 't':
		return threadIDEmitter{}, true
	case 'F':
		return fiberIDEmitter{}, true
	case 'N':
		return threadNameEmitter{}, true
	case 'f':
		return filenameEmitter{}, true
	case 'l':
		return lineEmitter{}, true
	case 'n':
		return newlineEmitter{}, true
	case 'T':
		return tabEmitter{}, true
	case 'd':
		return newDateTimeEmitter(sub), true
	default:
		return nil, false
	}
}

type literalEmitter string

func (s literalEmitter) emit(buf []byte, _ *LogEvent) []byte {
	return append(buf, s...)
}

type messageEmitter struct{}

func (messageEmitter) emit(buf []byte, ev *LogEvent) []byte {
	return append(buf, ev.Message...)
}

type levelEmitter struct{}

func (levelEmitter) emit(buf []byte, ev *LogEvent) []byte {
	return append(buf, ev.Level.String()...)
}

type elapsedEmitter struct{}

func (elapsedEmitter) emit(buf []byte, ev *LogEvent) []byte {
	return strconv.AppendInt(buf, ev.ElapsedMs, 10)
}

type threadIDEmitter struct{}

func (threadIDEmitter) emit(buf []byte, ev *LogEvent) []byte {
	return strconv.AppendUint(buf, ev.ThreadID, 10)
}

type fiberIDEmitter struct{}

func (fiberIDEmitter) emit(buf []byte, ev *LogEvent) []byte {
	return strconv.AppendUint(buf, ev.FiberID, 10)
}

type threadNameEmitter struct{}

func (threadNameEmitter) emit(buf []byte, ev *LogEvent) []byte {
	return append(buf, ev.ThreadName...)
}

type filenameEmitter struct{}

func (filenameEmitter) emit(buf []byte, ev *LogEvent) []byte {
	return append(buf, ev.File...)
}

type lineEmitter struct{}

func (lineEmitter) emit(buf []byte, ev *LogEvent) []byte {
	return strconv.AppendInt(buf, int64(ev.Line), 10)
}

type newlineEmitter struct{}

func (newlineEmitter) emit(buf []byte, _ *LogEvent) []byte {
	return append(buf, '\n')
}

// tabEmitter renders as two spaces, matching the original
// implementation's TabFormatItem exactly (it is not a literal tab byte).
type tabEmitter struct{}

func (tabEmitter) emit(buf []byte, _ *LogEvent) []byte {
	return append(buf, ' ', ' ')
}

type dateTimeEmitter struct {
	layout string
	cache  *formatCache
}

const defaultStrftimeSub = "%Y-%m-%d %H:%M:%S"

func newDateTimeEmitter(sub string) *dateTimeEmitter {
	if sub == "" {
		sub = defaultStrftimeSub
	}
	return &dateTimeEmitter{
		layout: strftimeToGoLayout(sub),
		cache:  newFormatCache(),
	}
}

func (d *dateTimeEmitter) emit(buf []byte, ev *LogEvent) []byte {
	return append(buf, d.cache.render(ev.Time, d.layout)...)
}

var strftimeReplacer = strings.NewReplacer(
	"%Y", "2006",
	"%m", "01",
	"%d", "02",
	"%H", "15",
	"%M", "04",
	"%S", "05",
	"%y", "06",
	"%p", "PM",
)

// strftimeToGoLayout translates the handful of strftime verbs the
// original's %d{...} sub-pattern actually uses into Go's reference-time
// layout. Unknown verbs pass through unchanged, matching strftime's own
// permissive handling of verbs it doesn't recognize.
func strftimeToGoLayout(sub string) string {
	return strftimeReplacer.Replace(sub)
}
