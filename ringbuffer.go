// ringbuffer.go: Lock-free SPSC byte ring buffer
//
// Copyright (c) 2025 kestrellog
// Series: a kestrel library
// SPDX-License-Identifier: MPL-2.0

package kestrel

import (
	"runtime"

	"github.com/kestrellog/kestrel/internal/ringutil"
)

// RingBuffer is a single-producer/single-consumer circular byte buffer.
// One is created per (Logger, goroutine) pair the first time that
// goroutine logs through that Logger — the Go equivalent of the
// original's per-OS-thread buffer, since Go goroutines have no usable
// thread-local storage of their own.
//
// Capacity is rounded up to the next power of two so index wrapping is a
// cheap bitmask instead of a modulo. Unlike the original's
// CircleBlockingBuffer, the produced/consumed cursors are free-running
// uint64 counters masked only at index time: this keeps the buffer's
// full capacity usable instead of silently losing one byte to the
// empty/full ambiguity a modulo-S cursor has.
type RingBuffer struct {
	buf  []byte
	mask uint64

	produced ringutil.PaddedInt64 // written by the producer goroutine only
	consumed ringutil.PaddedInt64 // written by the drain goroutine only

	closed  ringutil.PaddedInt64
	retired ringutil.PaddedInt64
}

// NewRingBuffer allocates a ring buffer of at least the requested
// capacity, rounded up to a power of two.
func NewRingBuffer(capacity int) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, newError(ErrCodeInvalidCapacity, "ring buffer capacity must be positive")
	}
	size := nextPowerOfTwo(capacity)
	return &RingBuffer{
		buf:  make([]byte, size),
		mask: uint64(size) - 1,
	}, nil
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Cap returns the usable capacity in bytes.
func (r *RingBuffer) Cap() int { return len(r.buf) }

// used returns the number of unconsumed bytes currently in the buffer.
// The load order (consumed, then produced) matches the original's
// acquire-fenced getUsedSize: reading the consumer's cursor first means
// a concurrent Write can only make `used` look smaller than it truly was,
// never larger, which is the safe direction for a consumer computing how
// much it may read.
func (r *RingBuffer) used() uint64 {
	c := uint64(r.consumed.Load())
	p := uint64(r.produced.Load())
	return p - c
}

// UsedSize is used()'s exported form, for the drain loop deciding whether
// a buffer's pending bytes fit in the remaining staging buffer capacity
// before consuming them.
func (r *RingBuffer) UsedSize() int { return int(r.used()) }

func (r *RingBuffer) unused() uint64 {
	return uint64(len(r.buf)) - r.used()
}

// UnusedSize reports the free space in bytes. Because cursors are
// free-running, UsedSize()+UnusedSize() is always the full capacity,
// with no byte sacrificed to an empty/full ambiguity.
func (r *RingBuffer) UnusedSize() int { return int(r.unused()) }

// Close marks the buffer closed. Close does not discard unread data: the
// drain loop keeps draining a closed buffer until it is empty, matching
// the two-phase shutdown contract (drain to empty, then stop).
func (r *RingBuffer) Close() {
	r.closed.Store(1)
}

func (r *RingBuffer) Closed() bool {
	return r.closed.Load() == 1
}

// Retire, Unretire and Retired form the handshake that makes buffer
// reclamation safe against an in-flight producer. The consumer sets the
// flag before deregistering a buffer it observed empty and then re-checks
// emptiness; the producer checks the flag after advancing its cursor.
// With both sides ordering their atomic operations this way, either the
// consumer's re-check sees the new bytes or the producer sees the retire
// flag — a write can never slip through unobserved by both.
func (r *RingBuffer) Retire()       { r.retired.Store(1) }
func (r *RingBuffer) Unretire()     { r.retired.Store(0) }
func (r *RingBuffer) Retired() bool { return r.retired.Load() == 1 }

// Write copies p into the buffer, blocking (with a bounded spin-then-yield
// backoff, never a hard OS-level busy loop) until enough space is free.
// It mirrors the original produce()'s wrap-split double copy.
func (r *RingBuffer) Write(p []byte) error {
	if r.Closed() {
		return newError(ErrCodeRingClosed, "write to closed ring buffer")
	}
	need := uint64(len(p))
	if need > uint64(len(r.buf)) {
		return newError(ErrCodeInvalidCapacity, "record larger than ring buffer capacity")
	}

	spins := 0
	for r.unused() < need {
		spins++
		if spins > 1000 {
			runtime.Gosched()
			spins = 0
		}
	}

	pos := uint64(r.produced.Load())
	r.copyIn(pos, p)

	// Release: make the bytes visible before advancing the cursor the
	// consumer polls on.
	r.produced.Store(int64(pos + need))
	return nil
}

func (r *RingBuffer) copyIn(pos uint64, p []byte) {
	start := pos & r.mask
	n := copy(r.buf[start:], p)
	if n < len(p) {
		copy(r.buf, p[n:])
	}
}

// Read copies up to len(dst) unconsumed bytes into dst and advances the
// consumer cursor, returning the number of bytes copied.
func (r *RingBuffer) Read(dst []byte) int {
	avail := r.used()
	if avail == 0 {
		return 0
	}
	n := uint64(len(dst))
	if n > avail {
		n = avail
	}

	pos := uint64(r.consumed.Load())
	start := pos & r.mask
	copied := copy(dst[:n], r.buf[start:])
	if uint64(copied) < n {
		copied += copy(dst[copied:n], r.buf)
	}

	r.consumed.Store(int64(pos + n))
	return int(n)
}

// Empty reports whether every byte written so far has been consumed.
func (r *RingBuffer) Empty() bool {
	return r.used() == 0
}

// Reset discards any unconsumed bytes and rewinds both cursors. Only
// legal while no producer or consumer is touching the buffer.
func (r *RingBuffer) Reset() {
	r.produced.Store(0)
	r.consumed.Store(0)
	r.closed.Store(0)
	r.retired.Store(0)
}
