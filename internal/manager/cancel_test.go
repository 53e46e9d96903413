package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCancelableStopsEarlyOnCancelRequest(t *testing.T) {
	adapter := &fakeAdapter{}
	m := newTestManager(t, adapter, &fakeDelegate{})

	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.RunCancelable(context.Background(), "req-1", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	<-started
	require.True(t, m.CancelRequest("req-1"))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("RunCancelable did not return after CancelRequest")
	}
}

func TestCancelRequestUnknownIDIsNoop(t *testing.T) {
	adapter := &fakeAdapter{}
	m := newTestManager(t, adapter, &fakeDelegate{})
	assert.False(t, m.CancelRequest("never-registered"))
}

func TestCancelRequestDoesNotRaceCompletion(t *testing.T) {
	adapter := &fakeAdapter{}
	m := newTestManager(t, adapter, &fakeDelegate{})

	err := m.RunCancelable(context.Background(), "req-2", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	// The entry is removed once RunCancelable returns, so a CancelRequest
	// racing in after completion finds nothing to cancel.
	assert.False(t, m.CancelRequest("req-2"))
}
