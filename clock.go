// clock.go: Cached wall-clock reads and timestamp formatting
//
// Copyright (c) 2025 kestrellog
// Series: a kestrel library
// SPDX-License-Identifier: MPL-2.0

package kestrel

import (
	"strconv"
	"sync"
	"time"

	timecache "github.com/agilira/go-timecache"

	"github.com/kestrellog/kestrel/internal/gid"
)

// clock is the timestamp source every LogEvent and %d emitter reads from.
// Reading the wall clock on every log call is a real cost at the call
// rates this library targets, so the coarse "now" comes from
// go-timecache's background-refreshed cache rather than time.Now(); only
// the sub-second formatting below is specific to kestrel.
type clock struct{}

func (clock) now() time.Time { return timecache.CachedTime() }

// formatCache holds, per calling goroutine, the last second-granularity
// rendering of the clock for a given layout. A producing goroutine calls
// this far more often than the clock's value changes at second
// resolution, so re-running time.AppendFormat on every call is wasted
// work — exactly the observation the original implementation's
// thread-local datetime cache makes, translated here to a goroutine-keyed
// cache since Go has no native thread-local storage.
type formatCache struct {
	mu      sync.Mutex
	entries map[uint64]*formatCacheEntry
}

type formatCacheEntry struct {
	layout string
	second int64
	text   string
}

func newFormatCache() *formatCache {
	return &formatCache{entries: make(map[uint64]*formatCacheEntry)}
}

// render returns "<layout-formatted second>.<ms>.<us>", recomputing the
// layout-formatted portion only when the calling goroutine's cached
// second is stale or the layout changed.
func (c *formatCache) render(t time.Time, layout string) string {
	key := gid.Current()
	sec := t.Unix()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &formatCacheEntry{}
		c.entries[key] = e
	}
	if !ok || e.layout != layout || e.second != sec {
		e.layout = layout
		e.second = sec
		e.text = t.Format(layout)
	}
	text := e.text
	c.mu.Unlock()

	ms := t.Nanosecond() / 1e6
	us := (t.Nanosecond() / 1e3) % 1000

	buf := make([]byte, 0, len(text)+8)
	buf = append(buf, text...)
	buf = append(buf, '.')
	buf = appendPadded3(buf, ms)
	buf = append(buf, '.')
	buf = appendPadded3(buf, us)
	return string(buf)
}

func appendPadded3(buf []byte, v int) []byte {
	s := strconv.Itoa(v)
	for i := len(s); i < 3; i++ {
		buf = append(buf, '0')
	}
	return append(buf, s...)
}
