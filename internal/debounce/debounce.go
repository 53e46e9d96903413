// Package debounce implements the accumulate-then-fire debouncer used by
// the manager for "dependencies updated" and "settings changed" events
// (spec.md §4.10). It generalizes the inline debounce loop in please's own
// src/watch/watch.go (a fixed 50ms drain-and-discard loop) into a reusable
// type with a configurable window, a caller-supplied combiner, and an
// explicit Flush for waitForUpToDateBuildGraph().
package debounce

import (
	"sync"
	"time"
)

// A Debouncer accumulates values of type T via ScheduleCall, combining them
// with Combine, and invokes Callback at most once per Window with the
// accumulated result. Scheduling during an active window resets the timer.
type Debouncer[T any] struct {
	Window   time.Duration
	Combine  func(acc, next T) T
	Callback func(T)

	mu      sync.Mutex
	timer   *time.Timer
	pending T
	has     bool
}

// New returns a Debouncer with the given window, combiner and callback.
func New[T any](window time.Duration, combine func(acc, next T) T, callback func(T)) *Debouncer[T] {
	return &Debouncer[T]{Window: window, Combine: combine, Callback: callback}
}

// ScheduleCall merges next into the pending accumulated value and
// (re)starts the window timer. The callback fires once the window elapses
// without a further ScheduleCall.
func (d *Debouncer[T]) ScheduleCall(next T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.has {
		d.pending = d.Combine(d.pending, next)
	} else {
		d.pending = next
		d.has = true
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.Window, d.fire)
}

func (d *Debouncer[T]) fire() {
	d.mu.Lock()
	if !d.has {
		d.mu.Unlock()
		return
	}
	val := d.pending
	var zero T
	d.pending = zero
	d.has = false
	d.timer = nil
	d.mu.Unlock()
	d.Callback(val)
}

// Flush immediately invokes the callback with any pending accumulated
// value, skipping the remaining window. It is a no-op if nothing is
// pending. Used by waitForUpToDateBuildGraph() to force both debouncers to
// settle before returning (spec.md §4.1, §4.10).
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	if !d.has {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	val := d.pending
	var zero T
	d.pending = zero
	d.has = false
	d.mu.Unlock()
	d.Callback(val)
}
