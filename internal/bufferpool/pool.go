// pool.go: Render-scratch buffer recycling
//
// Copyright (c) 2025 kestrellog
// Series: a kestrel library
// SPDX-License-Identifier: MPL-2.0

// Package bufferpool recycles the scratch buffers a Logger renders a
// record into before the bytes are copied into a ring buffer.
package bufferpool

import "sync"

const (
	// initialCap sizes a fresh buffer for a typical rendered record.
	initialCap = 512

	// maxRetainedCap bounds what Put keeps: a buffer grown past this is
	// dropped so one oversized record doesn't pin its allocation in the
	// pool for the rest of the process.
	maxRetainedCap = 1 << 20
)

var pool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, initialCap)
		return &b
	},
}

// Get returns an empty buffer with at least initialCap capacity. The
// pointer-to-slice shape is what lets a caller hand capacity growth back
// to the pool: append may reallocate, so the caller stores the final
// slice (re-sliced to zero length) through the same pointer before Put.
func Get() *[]byte {
	return pool.Get().(*[]byte)
}

// Put returns p to the pool with its length reset. Buffers grown past
// maxRetainedCap are dropped instead of retained.
func Put(p *[]byte) {
	if p == nil || cap(*p) > maxRetainedCap {
		return
	}
	*p = (*p)[:0]
	pool.Put(p)
}
