package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunnerRunsAtStartAndOnTicks(t *testing.T) {
	var calls atomic.Int32
	r := NewRunner("test", 10*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunnerKeepsGoingAfterFailure(t *testing.T) {
	var calls atomic.Int32
	r := NewRunner("failing", 5*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("store unavailable")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx)

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestRunnerSkipsCancelledContext(t *testing.T) {
	var calls atomic.Int32
	r := NewRunner("cancelled", time.Hour, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Start(ctx)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRunnerStats(t *testing.T) {
	r := NewRunner("hold-sweeper", 0, func(context.Context) error { return nil })
	assert.Equal(t, map[string]interface{}{"worker": "hold-sweeper", "interval": "1m0s"}, r.Stats())
}

func TestRunnerStartReturnsAfterInFlightTask(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	r := NewRunner("slow", time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	<-started
	cancel()

	select {
	case <-done:
		assert.True(t, finished.Load(), "Start returned before its task finished")
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
