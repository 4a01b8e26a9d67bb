// logger_test.go: Test suite for logger dispatch, draining and shutdown
//
// Copyright (c) 2025 kestrellog
// Series: a kestrel library
// SPDX-License-Identifier: MPL-2.0

package kestrel

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// captureAppender records every write it receives, for assertions. A
// single Write call may carry a staging buffer's worth of several
// concatenated records rather than exactly one, so most assertions here
// look at lines (newline-delimited records) and total bytes rather than
// the number of Write invocations.
type captureAppender struct {
	mu     sync.Mutex
	data   []byte
	writes int
	closed bool
}

func (c *captureAppender) Write(level Level, record []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, record...)
	c.writes++
	return nil
}

func (c *captureAppender) WriteEvent(level Level, ev *LogEvent) error {
	return c.Write(level, []byte(ev.Message+"\n"))
}

func (c *captureAppender) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// lines reports the number of newline-delimited records captured so far.
func (c *captureAppender) lines() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Count(c.data, []byte("\n"))
}

// writeCount reports how many separate Write calls the appender received.
func (c *captureAppender) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *captureAppender) snapshot() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out
}

// recordLines splits the captured data into its newline-delimited records,
// dropping the trailing empty element a terminal newline produces.
func (c *captureAppender) recordLines() []string {
	lines := strings.Split(string(c.snapshot()), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestLoggerSingleRecordReachesAppender(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("t1", WithAppenders(cap1), WithLevel(Debug))
	defer l.Close()

	l.Info("hello")

	waitFor(t, time.Second, func() bool { return cap1.lines() == 1 })
	if !strings.Contains(string(cap1.snapshot()), "hello") {
		t.Fatalf("record missing message: %q", cap1.snapshot())
	}
}

func TestLoggerLevelFiltersBelowThreshold(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("t2", WithAppenders(cap1), WithLevel(Warn))
	defer l.Close()

	l.Debug("suppressed")
	l.Info("suppressed too")
	l.Warn("visible")

	waitFor(t, time.Second, func() bool { return cap1.lines() == 1 })
	time.Sleep(20 * time.Millisecond)
	if cap1.lines() != 1 {
		t.Fatalf("expected exactly 1 record, got %d", cap1.lines())
	}
}

func TestLoggerFallsBackToParentAppenders(t *testing.T) {
	parentCap := &captureAppender{}
	parent := New("parent", WithAppenders(parentCap), WithLevel(Debug))
	defer parent.Close()

	child := New("child", WithLevel(Debug))
	child.SetParent(parent)
	defer child.Close()

	child.Info("via parent")

	waitFor(t, time.Second, func() bool { return parentCap.lines() == 1 })
}

func TestLoggerConcurrentProducers(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("concurrent", WithAppenders(cap1), WithLevel(Debug))
	defer l.Close()

	const goroutines = 8
	const perGoroutine = 200
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				l.Info(fmt.Sprintf("g%d-%d", g, i))
			}
		}(g)
	}
	wg.Wait()

	waitFor(t, 5*time.Second, func() bool {
		return cap1.lines() == goroutines*perGoroutine
	})
}

// TestLoggerDrainBatchesMultipleRecordsPerAppenderWrite confirms the drain
// loop's staging buffer actually batches: records produced faster than the
// drain loop can be scheduled arrive at the appender concatenated into far
// fewer Write calls than there are records, not one call per record.
func TestLoggerDrainBatchesMultipleRecordsPerAppenderWrite(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("batching", WithAppenders(cap1), WithLevel(Debug), WithPattern("%m\n"))
	defer l.Close()

	const n = 500
	for i := 0; i < n; i++ {
		l.Info(fmt.Sprintf("rec-%d", i))
	}

	waitFor(t, 5*time.Second, func() bool { return cap1.lines() == n })

	if got := cap1.writeCount(); got >= n {
		t.Fatalf("expected batched dispatch to use far fewer than %d Write calls, got %d", n, got)
	}

	lines := cap1.recordLines()
	if len(lines) != n {
		t.Fatalf("expected %d records, got %d", n, len(lines))
	}
	for i, line := range lines {
		want := fmt.Sprintf("rec-%d", i)
		if line != want {
			t.Fatalf("record %d: got %q, want %q (order or framing corrupted)", i, line, want)
		}
	}
}

func TestLoggerCloseDrainsBeforeStopping(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("closing", WithAppenders(cap1), WithLevel(Debug))

	for i := 0; i < 100; i++ {
		l.Info(fmt.Sprintf("rec-%d", i))
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if cap1.lines() != 100 {
		t.Fatalf("expected all 100 records drained before close returned, got %d", cap1.lines())
	}
	if !cap1.closed {
		t.Fatal("expected appender Close to be called")
	}
}

func TestLoggerSyncModeWritesOnCallingGoroutine(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("syncmode", WithAppenders(cap1), WithLevel(Debug), WithSync())
	defer l.Close()

	l.Info("immediate")

	if cap1.lines() != 1 {
		t.Fatalf("expected sync-mode write to be visible immediately, got %d", cap1.lines())
	}
}

func TestLoggerPrintfStyleFormatsMessage(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("printf", WithAppenders(cap1), WithLevel(Debug), WithPattern("%m\n"))
	defer l.Close()

	l.Infof("count=%d name=%s", 3, "kestrel")

	waitFor(t, time.Second, func() bool { return cap1.lines() == 1 })
	if !bytes.Contains(cap1.snapshot(), []byte("count=3 name=kestrel")) {
		t.Fatalf("got %q", cap1.snapshot())
	}
}

func TestLoggerEventBuilderStreamsIntoOneRecord(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("builder", WithAppenders(cap1), WithLevel(Debug), WithPattern("%m\n"))
	defer l.Close()

	l.Event(Info).Str("retries=").Int(3).Str(" ok=").Bool(true).Log()

	waitFor(t, time.Second, func() bool { return cap1.lines() == 1 })
	if !bytes.Contains(cap1.snapshot(), []byte("retries=3 ok=true")) {
		t.Fatalf("got %q", cap1.snapshot())
	}
}

func TestLoggerEventBuilderDisabledBelowThresholdIsNoop(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("builder-disabled", WithAppenders(cap1), WithLevel(Warn))
	defer l.Close()

	l.Event(Debug).Str("suppressed").Log()

	time.Sleep(20 * time.Millisecond)
	if cap1.lines() != 0 {
		t.Fatalf("expected no record, got %d", cap1.lines())
	}
}

func TestLoggerInfoFormatsWhenArgsSupplied(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("info-args", WithAppenders(cap1), WithLevel(Debug), WithPattern("%m\n"))
	defer l.Close()

	l.Info("count=%d", 7)
	l.Info("no args here")

	waitFor(t, time.Second, func() bool { return cap1.lines() == 2 })
	recs := cap1.recordLines()
	if !strings.Contains(recs[0], "count=7") {
		t.Fatalf("expected formatted message, got %q", recs[0])
	}
	if !strings.Contains(recs[1], "no args here") {
		t.Fatalf("expected literal message, got %q", recs[1])
	}
}

func TestLoggerSetCompiledFormatterPropagatesToAppenders(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("compiled-fmt", WithAppenders(cap1), WithLevel(Debug))
	defer l.Close()

	l.SetCompiledFormatter(NewFormatter("[%p] %m\n"))
	l.Info("switched")

	waitFor(t, time.Second, func() bool { return cap1.lines() == 1 })
	if !bytes.Contains(cap1.snapshot(), []byte("[INFO] switched")) {
		t.Fatalf("got %q", cap1.snapshot())
	}
}

func TestLoggerSetFormatterTakesEffect(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("fmt", WithAppenders(cap1), WithLevel(Debug), WithPattern("%m\n"))
	defer l.Close()

	l.SetFormatter("[%p] %m\n")
	l.Info("switched")

	waitFor(t, time.Second, func() bool { return cap1.lines() == 1 })
	if !bytes.Contains(cap1.snapshot(), []byte("[INFO] switched")) {
		t.Fatalf("got %q", cap1.snapshot())
	}
}

func TestLoggerEmitRendersSuppliedMetadata(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("emit", WithAppenders(cap1), WithLevel(Debug),
		WithPattern("%d{%Y-%m-%d %H:%M:%S}%T%t%T%N%T%F%T[%p]%T%f:%l%T%m%n"))
	defer l.Close()

	l.Emit(LogEvent{
		Level:    Debug,
		Message:  "hello world",
		Time:     time.Date(2021, 12, 20, 12, 53, 20, 0, time.UTC),
		ThreadID: 42,
		File:     "main.ext",
		Line:     7,
	})

	waitFor(t, time.Second, func() bool { return cap1.lines() == 1 })
	line := cap1.recordLines()[0]
	if !strings.HasPrefix(line, "2021-12-20 12:53:20.000.000") {
		t.Fatalf("timestamp prefix wrong: %q", line)
	}
	if !strings.HasSuffix(line, "  42    0  [DEBUG]  main.ext:7  hello world") {
		t.Fatalf("metadata fields wrong: %q", line)
	}
}

func TestLoggerEmitBelowThresholdIsDropped(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("emit-drop", WithAppenders(cap1), WithLevel(Warn))
	defer l.Close()

	l.Emit(LogEvent{Level: Info, Message: "suppressed", Time: time.Now()})

	time.Sleep(20 * time.Millisecond)
	if cap1.lines() != 0 {
		t.Fatalf("expected no record, got %d", cap1.lines())
	}
}

func TestLoggerSyncFlushesPendingRecords(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("sync-flush", WithAppenders(cap1), WithLevel(Debug), WithPattern("%m\n"))
	defer l.Close()

	for i := 0; i < 50; i++ {
		l.Info(fmt.Sprintf("rec-%d", i))
	}
	l.Sync()

	if got := cap1.lines(); got != 50 {
		t.Fatalf("expected all 50 records flushed after Sync, got %d", got)
	}
}

func TestLoggerBraceStyleFormatsMessage(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("brace", WithAppenders(cap1), WithLevel(Debug), WithPattern("%m\n"))
	defer l.Close()

	l.Infow("request {} took {}ms", 7, 42)

	waitFor(t, time.Second, func() bool { return cap1.lines() == 1 })
	if !bytes.Contains(cap1.snapshot(), []byte("request 7 took 42ms")) {
		t.Fatalf("got %q", cap1.snapshot())
	}
}

func TestLoggerBraceStyleDisabledBelowThreshold(t *testing.T) {
	cap1 := &captureAppender{}
	l := New("brace-disabled", WithAppenders(cap1), WithLevel(Warn))
	defer l.Close()

	l.Debugw("suppressed {}", 1)

	time.Sleep(20 * time.Millisecond)
	if cap1.lines() != 0 {
		t.Fatalf("expected no record, got %d", cap1.lines())
	}
}
