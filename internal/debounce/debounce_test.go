package debounce

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerCoalesces(t *testing.T) {
	var mu sync.Mutex
	var calls int
	var last map[string]struct{}

	d := New[map[string]struct{}](20*time.Millisecond, func(acc, next map[string]struct{}) map[string]struct{} {
		out := map[string]struct{}{}
		for k := range acc {
			out[k] = struct{}{}
		}
		for k := range next {
			out[k] = struct{}{}
		}
		return out
	}, func(v map[string]struct{}) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		last = v
	})

	d.ScheduleCall(map[string]struct{}{"a": {}})
	time.Sleep(5 * time.Millisecond)
	d.ScheduleCall(map[string]struct{}{"b": {}})

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, map[string]struct{}{"a": {}, "b": {}}, last)
}

func TestDebouncerFlush(t *testing.T) {
	var calls int
	var mu sync.Mutex
	d := New[int](time.Hour, func(acc, next int) int { return acc + next }, func(v int) {
		mu.Lock()
		defer mu.Unlock()
		calls++
	})
	d.ScheduleCall(1)
	d.Flush()
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
	// Flushing again with nothing pending is a no-op.
	d.Flush()
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}
