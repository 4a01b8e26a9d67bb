// gid.go: Goroutine id probe
//
// Copyright (c) 2025 kestrellog
// Series: a kestrel library
// SPDX-License-Identifier: MPL-2.0

// Package gid extracts the runtime's internal goroutine id, the closest
// Go equivalent to the OS thread handle the original implementation keys
// its per-thread ring buffers on. Go exposes no public API for this, so
// the id is recovered from the header of runtime.Stack's output, a
// technique long used by goroutine-local-storage packages in the wild
// (e.g. petermattis/goid).
package gid

import (
	"runtime"
	"strconv"
	"sync"
)

var stackBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 64)
		return &buf
	},
}

// Current returns the id of the calling goroutine.
//
// The id is parsed out of the line "goroutine N [running]:" that
// runtime.Stack writes at the start of every trace. It is stable for the
// lifetime of the goroutine and unique among concurrently running
// goroutines, which is all the ring buffer registry needs: a cheap,
// collision-free key to find (or create) the buffer for "this thread".
func Current() uint64 {
	bufp := stackBufPool.Get().(*[]byte)
	defer stackBufPool.Put(bufp)
	buf := *bufp

	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, len(buf)*2)
	}
	*bufp = buf

	return parseGoroutineID(buf)
}

// parseGoroutineID reads the decimal id out of "goroutine 123 [running]:".
func parseGoroutineID(stack []byte) uint64 {
	const prefix = "goroutine "
	if len(stack) < len(prefix) || string(stack[:len(prefix)]) != prefix {
		return 0
	}
	rest := stack[len(prefix):]

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	id, err := strconv.ParseUint(string(rest[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
