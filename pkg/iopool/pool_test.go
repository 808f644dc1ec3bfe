package iopool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsSize(t *testing.T) {
	assert.Equal(t, DefaultSize, New(0).Size())
	assert.Equal(t, DefaultSize, New(-3).Size())
	assert.Equal(t, 2, New(2).Size())
}

func TestDoReturnsOperationError(t *testing.T) {
	pool := New(1)
	want := errors.New("disk full")

	err := pool.Do(context.Background(), "append", func() error { return want })
	assert.ErrorIs(t, err, want)

	err = pool.Do(context.Background(), "append", func() error { return nil })
	assert.NoError(t, err)
}

func TestDoRejectsNilOperation(t *testing.T) {
	err := New(1).Do(context.Background(), "read", nil)
	assert.Error(t, err)
}

func TestDoBoundsConcurrency(t *testing.T) {
	pool := New(2)

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Do(context.Background(), "read", func() error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, int32(0), atomic.LoadInt32(&running))
}

func TestDoCallerStopsWaitingButOperationCompletes(t *testing.T) {
	pool := New(1)
	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- pool.Do(ctx, "append", func() error {
			close(started)
			<-release
			close(finished)
			return nil
		})
	}()

	<-started
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}

	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("operation did not complete")
	}

	// The slot is released once the abandoned operation finishes.
	err := pool.Do(context.Background(), "read", func() error { return nil })
	require.NoError(t, err)
}

func TestDoRecoversPanics(t *testing.T) {
	pool := New(1)

	err := pool.Do(context.Background(), "read", func() error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	assert.NoError(t, pool.Do(context.Background(), "read", func() error { return nil }))
}
