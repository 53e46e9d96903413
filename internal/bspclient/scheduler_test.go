package bspclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/please-build/bsmgr/internal/bsp"
)

func TestSchedulerStateReadsRunConcurrently(t *testing.T) {
	s := NewScheduler()
	var inFlight int32
	var maxInFlight int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Run(context.Background(), bsp.MethodBuildTargetSources, func(ctx context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					old := atomic.LoadInt32(&maxInFlight)
					if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Greater(t, maxInFlight, int32(1), "expected stateReads to overlap")
}

func TestSchedulerStateChangeIsExclusiveBarrier(t *testing.T) {
	s := NewScheduler()
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Run(context.Background(), bsp.MethodBuildTargetDidChange, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	readDone := make(chan struct{})
	go func() {
		_ = s.Run(context.Background(), bsp.MethodBuildTargetSources, func(ctx context.Context) error {
			close(readDone)
			return nil
		})
	}()

	select {
	case <-readDone:
		t.Fatal("stateRead ran while a stateChange was in flight")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	<-readDone
}

func TestSchedulerRespectsContextCancellation(t *testing.T) {
	s := NewScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.Run(ctx, bsp.MethodBuildTargetSources, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
}

func TestSchedulerTaskProgressSerializedIndependently(t *testing.T) {
	s := NewScheduler()
	blockChange := make(chan struct{})
	changeStarted := make(chan struct{})
	go func() {
		_ = s.Run(context.Background(), bsp.MethodBuildTargetDidChange, func(ctx context.Context) error {
			close(changeStarted)
			<-blockChange
			return nil
		})
	}()
	<-changeStarted

	taskDone := make(chan struct{})
	go func() {
		_ = s.Run(context.Background(), bsp.MethodTaskProgress, func(ctx context.Context) error {
			close(taskDone)
			return nil
		})
	}()

	select {
	case <-taskDone:
	case <-time.After(time.Second):
		t.Fatal("taskProgress should not wait on an in-flight stateChange")
	}
	close(blockChange)
}
