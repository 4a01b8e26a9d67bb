// logger.go: Core logger with per-goroutine ring buffers and drain loop
//
// Copyright (c) 2025 kestrellog
// Series: a kestrel library
// SPDX-License-Identifier: MPL-2.0

package kestrel

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrellog/kestrel/internal/bufferpool"
	"github.com/kestrellog/kestrel/internal/gid"
	"github.com/kestrellog/kestrel/internal/ringutil"
)

// Mode selects how a Logger hands a rendered record off to its
// Appenders. Accelerated is the default and the reason this package
// exists; Sync exists for callers (tests, CLI tools, anything not on the
// hot path) that would rather pay the I/O cost on the calling goroutine
// than stand up a drain goroutine and per-goroutine ring buffers.
type Mode int

const (
	// Accelerated renders on the producer goroutine and hands the bytes
	// to a per-goroutine ring buffer; a background drain goroutine fans
	// them out to Appenders.
	Accelerated Mode = iota
	// Sync renders and dispatches to every Appender's WriteEvent entry
	// point directly on the calling goroutine, walking a copy of the
	// appender list taken under the appender-list lock. No ring buffers or
	// drain goroutine are created.
	Sync
)

// processStart anchors %r (elapsed milliseconds): the original computes
// elapse against process start, and in this implementation that instant
// is captured once, at package init, rather than redone per Logger.
var processStart = time.Now()

// Logger is the producer-facing API: one Logger owns one ring buffer per
// goroutine that has logged through it, one drain goroutine that fans
// every buffer's records out to its Appenders, and a single level
// threshold shared by every caller and every Appender.
type Logger struct {
	name string
	mode Mode

	level     *AtomicLevel
	fmtMu     sync.RWMutex
	formatter *Formatter

	apMu      sync.RWMutex
	appenders []Appender

	// parent is consulted when appenders is empty, the same delegation
	// the original LoggerManager's root fallback performs: a logger with
	// nothing attached inherits its parent's appenders instead of
	// silently dropping records.
	parent *Logger

	capacity    int
	stagingSize int

	buffers sync.Map // goroutine id (uint64) -> *ringSlot

	closed        int32
	syncRequested int32
	emptyCycles   int64
	drainWake     *ringutil.TimedWait
	drainDone     chan struct{}
}

// New builds a Logger and starts its drain goroutine.
func New(name string, opts ...Option) *Logger {
	o := newLoggerOptions()
	for _, fn := range opts {
		fn(&o)
	}

	l := &Logger{
		name:        name,
		mode:        o.mode,
		level:       NewAtomicLevel(o.level),
		formatter:   NewFormatter(o.pattern),
		appenders:   o.appenders,
		capacity:    o.capacity,
		stagingSize: o.stagingSize,
		drainWake:   ringutil.NewTimedWait(o.idleWait),
		drainDone:   make(chan struct{}),
	}
	for _, a := range l.appenders {
		if fi, ok := a.(formatterInheritor); ok {
			fi.inheritFormatter(l.formatter)
		}
	}
	if l.mode == Accelerated {
		go l.drainLoop()
	} else {
		close(l.drainDone)
	}
	return l
}

// Mode reports whether this Logger is accelerated (ring-buffered,
// background drain) or sync (renders and writes on the caller's
// goroutine).
func (l *Logger) Mode() Mode { return l.mode }

func (l *Logger) Name() string { return l.name }

// SetLevel changes the Logger's single threshold. Takes effect
// immediately for every goroutine logging through it.
func (l *Logger) SetLevel(level Level) { l.level.SetLevel(level) }

func (l *Logger) Level() Level { return l.level.Level() }

// SetFormatter recompiles the Logger's pattern. A pattern with unknown
// specifiers is still installed — see Formatter — so this never fails.
//
// Every attached Appender that has no Formatter of its own inherits this
// one by reference: the Appender's own-formatter flag is untouched, so a
// later SetFormatter call keeps propagating to it, while an Appender that
// was given its own Formatter via its own SetFormatter never sees this
// one.
func (l *Logger) SetFormatter(pattern string) {
	l.SetCompiledFormatter(NewFormatter(pattern))
}

// SetCompiledFormatter installs an already-compiled Formatter directly,
// for callers that built one with NewFormatter to share across Loggers or
// to inspect (HasErrors, Pattern) before installing it. Propagation to
// attached Appenders is identical to SetFormatter.
func (l *Logger) SetCompiledFormatter(f *Formatter) {
	l.fmtMu.Lock()
	l.formatter = f
	l.fmtMu.Unlock()

	l.apMu.RLock()
	for _, a := range l.appenders {
		if fi, ok := a.(formatterInheritor); ok {
			fi.inheritFormatter(f)
		}
	}
	l.apMu.RUnlock()
}

func (l *Logger) formatterSnapshot() *Formatter {
	l.fmtMu.RLock()
	defer l.fmtMu.RUnlock()
	return l.formatter
}

// AddAppender attaches an Appender. Order of attachment is the order
// records are written to appenders during a drain pass. If a has no
// Formatter of its own, it immediately inherits the Logger's current one.
func (l *Logger) AddAppender(a Appender) {
	l.apMu.Lock()
	l.appenders = append(l.appenders, a)
	l.apMu.Unlock()

	if fi, ok := a.(formatterInheritor); ok {
		fi.inheritFormatter(l.formatterSnapshot())
	}
}

// DelAppender detaches a single Appender by identity, leaving the rest
// untouched. It does not close the removed Appender.
func (l *Logger) DelAppender(a Appender) {
	l.apMu.Lock()
	defer l.apMu.Unlock()
	for i, existing := range l.appenders {
		if existing == a {
			l.appenders = append(l.appenders[:i], l.appenders[i+1:]...)
			return
		}
	}
}

// ClearAppenders detaches every Appender without closing them.
func (l *Logger) ClearAppenders() {
	l.apMu.Lock()
	l.appenders = nil
	l.apMu.Unlock()
}

// SetParent sets the logger consulted when this Logger has no appenders
// of its own.
func (l *Logger) SetParent(p *Logger) { l.parent = p }

func (l *Logger) appendersSnapshot() []Appender {
	l.apMu.RLock()
	defer l.apMu.RUnlock()
	if len(l.appenders) == 0 && l.parent != nil {
		return l.parent.appendersSnapshot()
	}
	out := make([]Appender, len(l.appenders))
	copy(out, l.appenders)
	return out
}

// Debug, Info, Warn, Error and Fatal each render a record only if level is
// enabled, so a disabled call costs one atomic load and nothing else. A
// bare msg is written as-is; msg containing %-verbs with args supplied is
// run through fmt.Sprintf first, the same "only format if you passed
// something to format" rule zap's SugaredLogger applies to its own
// Info/Infof split, collapsed here into one call per level.
func (l *Logger) Debug(msg string, args ...any) { l.logv(Debug, msg, args, 3) }
func (l *Logger) Info(msg string, args ...any)  { l.logv(Info, msg, args, 3) }
func (l *Logger) Warn(msg string, args ...any)  { l.logv(Warn, msg, args, 3) }
func (l *Logger) Error(msg string, args ...any) { l.logv(Error, msg, args, 3) }
func (l *Logger) Fatal(msg string, args ...any) { l.logv(Fatal, msg, args, 3) }

// Debugf, Infof, Warnf, Errorf and Fatalf build the message body with
// fmt.Sprintf, the Go analogue of the original's HILOG_FMT_* macros
// (which forward to fmt::format/vsnprintf). Formatting only happens if
// the level is enabled.
func (l *Logger) Debugf(format string, args ...any) { l.logf(Debug, format, args, 3) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(Info, format, args, 3) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(Warn, format, args, 3) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(Error, format, args, 3) }
func (l *Logger) Fatalf(format string, args ...any) { l.logf(Fatal, format, args, 3) }

func (l *Logger) logv(level Level, msg string, args []any, skip int) {
	if !l.level.Enabled(level) {
		return
	}
	if len(args) == 0 {
		l.log(level, msg, skip+1)
		return
	}
	l.log(level, fmt.Sprintf(msg, args...), skip+1)
}

func (l *Logger) logf(level Level, format string, args []any, skip int) {
	if !l.level.Enabled(level) {
		return
	}
	l.log(level, fmt.Sprintf(format, args...), skip+1)
}

func (l *Logger) log(level Level, msg string, skip int) {
	if !l.level.Enabled(level) {
		return
	}
	if atomic.LoadInt32(&l.closed) == 1 {
		return
	}

	file, line := callerInfo(skip)

	ev := LogEvent{
		Level:      level,
		Message:    msg,
		Time:       (clock{}).now(),
		ElapsedMs:  time.Since(processStart).Milliseconds(),
		ThreadID:   gid.Current(),
		FiberID:    0,
		ThreadName: "",
		File:       file,
		Line:       line,
		LoggerName: l.name,
	}

	l.dispatch(&ev, ev.ThreadID)
}

// Emit accepts a fully populated event, for callers that capture call-site
// metadata themselves (a wrapping facade, a test injecting a fixed
// timestamp) instead of having the level methods derive it. The event is
// dropped below the Logger's threshold, same as every other entry point.
func (l *Logger) Emit(ev LogEvent) {
	if !l.level.Enabled(ev.Level) {
		return
	}
	if atomic.LoadInt32(&l.closed) == 1 {
		return
	}
	if ev.LoggerName == "" {
		ev.LoggerName = l.name
	}
	// The ring is keyed by the goroutine actually producing, never by
	// ev.ThreadID: an Emit caller may stamp any thread id into the event,
	// but the SPSC discipline needs the real producer's identity.
	l.dispatch(&ev, gid.Current())
}

func (l *Logger) dispatch(ev *LogEvent, producerID uint64) {
	if l.mode == Sync {
		l.dispatchSync(ev.Level, ev)
		return
	}

	bufp := bufferpool.Get()
	rendered := l.formatterSnapshot().Render((*bufp)[:0], ev)

	rb := l.ringFor(producerID)
	_ = rb.Write(rendered)
	if rb.Retired() {
		// The drain loop retired this buffer while the write was in
		// flight; re-register it under a fresh slot so the bytes are not
		// orphaned. A fresh slot, not the old one: the drain deregisters
		// with a compare-and-delete against the slot it walked, which
		// must fail once this registration has happened.
		l.buffers.Store(producerID, &ringSlot{rb: rb})
		rb.Unretire()
	}

	*bufp = rendered[:0]
	bufferpool.Put(bufp)
}

// dispatchSync is the Sync-mode counterpart of the accelerated path's
// ring-buffer handoff: each Appender renders and writes ev on the calling
// goroutine, through its own WriteEvent entry point, instead of receiving
// pre-rendered bytes from a drain goroutine.
func (l *Logger) dispatchSync(level Level, ev *LogEvent) {
	for _, a := range l.appendersSnapshot() {
		if err := a.WriteEvent(level, ev); err != nil {
			reportError(wrapError(err, ErrCodeAppenderWrite, "appender write failed"))
		}
	}
}

func callerInfo(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???", 0
	}
	return file, line
}

// ringSlot is the registration of one goroutine's RingBuffer in the
// buffer map. The indirection matters: re-registering a buffer after a
// racing reclamation uses a new slot, so the drain loop's
// compare-and-delete against the slot it walked cannot remove the fresh
// registration.
type ringSlot struct {
	rb *RingBuffer
}

func (l *Logger) ringFor(goroutineID uint64) *RingBuffer {
	if v, ok := l.buffers.Load(goroutineID); ok {
		return v.(*ringSlot).rb
	}
	rb, err := NewRingBuffer(l.capacity)
	if err != nil {
		// New does not validate capacity, so a non-positive WithCapacity
		// value lands here; fall back to the default size rather than panic.
		rb, _ = NewRingBuffer(DefaultRingCapacity)
	}
	actual, _ := l.buffers.LoadOrStore(goroutineID, &ringSlot{rb: rb})
	return actual.(*ringSlot).rb
}

// drainLoop is the Logger's single consumer. Each iteration walks every
// active ring buffer and concatenates whatever fits into one shared
// staging buffer (drainPass), then — if it collected anything — makes
// exactly one Write call per Appender with the whole staging span, rather
// than one call per ring buffer or per record. This is what lets an
// Appender like FileAppender treat "a write" as a batch of however many
// records accumulated since the last pass, instead of paying its own
// per-call overhead (a reopen-interval check, a mutex) once per record.
func (l *Logger) drainLoop() {
	defer close(l.drainDone)

	// idle spins-then-yields for a short run before falling back to a
	// bounded wait on drainWake: the wait returns after the idle-wait at the
	// latest, or immediately when Sync or Close wakes the loop, the same
	// two outcomes the original's proceed condition variable has.
	spinner := ringutil.NewYielding(256)
	idle := func() {
		spinner.Idle()
		if spinner.Yielded() {
			l.drainWake.Idle()
		}
	}

	stagingSize := l.stagingSize
	if stagingSize <= 0 {
		stagingSize = DefaultStagingSize
	}
	staging := make([]byte, stagingSize)

	for {
		stagingUsed, overflow := l.drainPass(staging)

		if stagingUsed > 0 {
			level := l.Level()
			for _, a := range l.appendersSnapshot() {
				if err := a.Write(level, staging[:stagingUsed]); err != nil {
					reportError(wrapError(err, ErrCodeAppenderWrite, "appender write failed"))
				}
			}
			spinner.Reset()
		}

		if overflow {
			// At least one ring buffer still has pending bytes that didn't
			// fit this round; go again immediately instead of idling, so a
			// sustained producer rate above staging capacity drains as
			// fast as appenders allow.
			continue
		}
		if stagingUsed > 0 {
			continue
		}

		if atomic.LoadInt32(&l.closed) == 1 {
			return
		}
		if atomic.LoadInt32(&l.syncRequested) == 1 {
			// A producer asked for a drain-to-empty: run one more full
			// cycle before this pass may count as empty, so anything that
			// landed while this pass was walking the list is picked up.
			atomic.StoreInt32(&l.syncRequested, 0)
			continue
		}
		atomic.AddInt64(&l.emptyCycles, 1)
		idle()
	}
}

// drainPass is one iteration of the drain loop's step 1: walk the buffer
// list, consuming each non-empty buffer's pending bytes into staging at
// offset staging_used. A buffer is reclaimed the instant it is observed
// empty — the aggressive reclamation policy this implementation uses
// instead of retaining a buffer for a goroutine's whole lifetime. If the
// next buffer's pending bytes would not fit in what's left of staging,
// the walk stops early for this pass and the overflow flag is returned
// set, leaving that buffer (and any after it) for the next pass.
func (l *Logger) drainPass(staging []byte) (stagingUsed int, overflow bool) {
	l.buffers.Range(func(key, value any) bool {
		rb := value.(*ringSlot).rb

		if rb.Empty() {
			l.tryReclaim(key, value, rb)
			return true
		}

		pending := rb.UsedSize()
		if stagingUsed+pending > len(staging) {
			overflow = true
			if stagingUsed == 0 {
				// This one buffer's pending bytes alone exceed the whole
				// staging capacity (only possible if the Logger's ring
				// capacity was configured larger than its staging size).
				// Drain as much as fits rather than stalling the pass
				// forever on a buffer that can never be consumed whole.
				stagingUsed = rb.Read(staging)
			}
			return false
		}

		n := rb.Read(staging[stagingUsed : stagingUsed+pending])
		stagingUsed += n
		if rb.Empty() {
			l.tryReclaim(key, value, rb)
		}
		return true
	})

	return stagingUsed, overflow
}

// tryReclaim deregisters a buffer observed empty, without losing a write
// that lands mid-reclamation: retire first, re-check emptiness, and only
// then compare-and-delete the slot that was walked. A producer that
// advanced its cursor concurrently either makes the re-check non-empty
// here, or sees the retire flag on its side and re-registers the buffer
// under a fresh slot this delete cannot touch.
func (l *Logger) tryReclaim(key, value any, rb *RingBuffer) {
	rb.Retire()
	if rb.Empty() {
		l.buffers.CompareAndDelete(key, value)
		return
	}
	rb.Unretire()
}

// Sync blocks until every currently buffered record has been drained to
// the attached appenders. In Sync mode there is nothing to drain — every
// call already wrote straight through — so it returns immediately.
func (l *Logger) Sync() {
	if l.mode == Sync {
		return
	}
	// Waiting for the ring buffers to look empty is not enough: the drain
	// goroutine may have consumed bytes into its staging buffer without
	// having dispatched them yet. Instead, raise the sync request and wait
	// for the drain loop to consume it (which forces one more full pass),
	// then wait for an empty cycle observed after that. An empty cycle
	// counted earlier could belong to a pass that walked the buffer list
	// before this goroutine's records landed; one counted after the
	// request was consumed cannot.
	atomic.StoreInt32(&l.syncRequested, 1)
	l.drainWake.WakeUp()
	for atomic.LoadInt32(&l.syncRequested) == 1 {
		select {
		case <-l.drainDone:
			// The drain goroutine is gone; whatever is left is Close's
			// final pass to pick up.
			return
		default:
			runtime.Gosched()
		}
	}
	start := atomic.LoadInt64(&l.emptyCycles)
	for atomic.LoadInt64(&l.emptyCycles) == start {
		select {
		case <-l.drainDone:
			return
		default:
			runtime.Gosched()
		}
	}
}

// Close performs the two-phase shutdown: first it waits for every ring
// buffer to drain (the same guarantee Sync gives), then it stops the
// drain goroutine and closes every attached Appender.
func (l *Logger) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	if l.mode == Accelerated {
		l.Sync()
		l.drainWake.WakeUp()
		<-l.drainDone
		l.drainRemainder()
	}

	// Only this Logger's own appenders: a Logger with none attached must
	// not close the parent appenders it falls back to.
	l.apMu.RLock()
	own := make([]Appender, len(l.appenders))
	copy(own, l.appenders)
	l.apMu.RUnlock()

	var firstErr error
	for _, a := range own {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// drainRemainder picks up records from producers that were already past
// the closed check when Close set it: the drain goroutine may observe
// every buffer empty and exit an instant before such a late write lands.
// By the time this runs the drain goroutine has been joined, so Close's
// goroutine is the only consumer left and the SPSC discipline holds.
func (l *Logger) drainRemainder() {
	staging := make([]byte, 64<<10)
	for {
		stagingUsed, overflow := l.drainPass(staging)
		if stagingUsed > 0 {
			level := l.Level()
			for _, a := range l.appendersSnapshot() {
				if err := a.Write(level, staging[:stagingUsed]); err != nil {
					reportError(wrapError(err, ErrCodeAppenderWrite, "appender write failed"))
				}
			}
		}
		if stagingUsed == 0 && !overflow {
			return
		}
	}
}
