// Package metrics implements the rolling counter window shared by the
// sender and the receiver: accumulate named counters, flush them to the
// log on a fixed interval or on demand, then reset.
package metrics

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Window accumulates a set of named counters since its last flush.
// It is safe for concurrent use.
type Window struct {
	mu       sync.Mutex
	tag      string
	interval time.Duration
	start    time.Time
	counters map[string]int64
	now      func() time.Time
}

// New constructs a Window that logs under the given tag (e.g. "sender",
// "receiver") and flushes automatically once interval has elapsed since
// the last flush. A zero interval disables the automatic flush in Add;
// Flush then flushes whether or not force is set.
func New(tag string, interval time.Duration) *Window {
	return &Window{
		tag:      tag,
		interval: interval,
		start:    time.Now(),
		counters: make(map[string]int64),
		now:      time.Now,
	}
}

// Add increments the named counter by delta, then flushes if the interval
// has elapsed.
func (w *Window) Add(name string, delta int64) {
	w.mu.Lock()
	w.counters[name] += delta
	due := w.interval > 0 && w.now().Sub(w.start) >= w.interval
	w.mu.Unlock()

	if due {
		w.Flush(false)
	}
}

// Set overwrites the named counter with an absolute value, useful for
// gauges like queue size that don't accumulate.
func (w *Window) Set(name string, value int64) {
	w.mu.Lock()
	w.counters[name] = value
	w.mu.Unlock()
}

// Flush logs the current counters and resets the window. If force is
// false and the interval has not yet elapsed, Flush does nothing; callers
// making a final flush at shutdown should pass force=true.
func (w *Window) Flush(force bool) {
	w.mu.Lock()
	elapsed := w.now().Sub(w.start)
	if !force && w.interval > 0 && elapsed < w.interval {
		w.mu.Unlock()
		return
	}

	names := make([]string, 0, len(w.counters))
	for name := range w.counters {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strconv.FormatInt(w.counters[name], 10))
	}

	w.counters = make(map[string]int64)
	w.start = w.now()
	w.mu.Unlock()

	log.Printf("[metrics] %s window=%s %s", w.tag, elapsed.Round(time.Millisecond), b.String())
}

// Snapshot renders the current counters as the same line Flush would log,
// without resetting the window. Used by the receiver's telemetry channel,
// which reports the live window on demand rather than waiting on it to
// flush.
func (w *Window) Snapshot() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := make([]string, 0, len(w.counters))
	for name := range w.counters {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strconv.FormatInt(w.counters[name], 10))
	}

	return fmt.Sprintf("[metrics] %s window=%s %s", w.tag, w.now().Sub(w.start).Round(time.Millisecond), b.String())
}
