package cmap

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetOrComputeCoalesces(t *testing.T) {
	c := New[string, int]()
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		c.GetOrCompute(context.Background(), "x", func() (int, error) {
			atomic.AddInt32(&calls, 1)
			close(started)
			<-release
			return 42, nil
		})
	}()

	<-started
	var wg sync.WaitGroup
	results := make([]int, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute(context.Background(), "x", func() (int, error) {
				atomic.AddInt32(&calls, 1)
				return -1, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, 42, r)
	}
}

func TestGetOrComputeCancellation(t *testing.T) {
	c := New[string, int]()
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		c.GetOrCompute(context.Background(), "x", func() (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(ctx, "x", func() (int, error) { return -1, nil })
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancellation did not propagate")
	}
	close(release)
}

func TestDeleteMatchingAndClear(t *testing.T) {
	c := New[string, int]()
	c.Set("a", 1)
	c.Set("ab", 2)
	c.Set("b", 3)
	c.DeleteMatching(func(k string) bool { return len(k) == 1 && k != "b" })
	assert.ElementsMatch(t, []string{"ab", "b"}, c.Keys())
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestSetOverwritesComputedValue(t *testing.T) {
	c := New[string, int]()
	v, err := c.GetOrCompute(context.Background(), "k", func() (int, error) { return 7, nil })
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
	c.Set("k", 9)
	v2, err := c.GetOrCompute(context.Background(), "k", func() (int, error) { return -1, nil })
	assert.NoError(t, err)
	assert.Equal(t, 9, v2)
}
