package timers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignalWaitTimesOut(t *testing.T) {
	s := NewSignal()

	start := time.Now()
	assert.False(t, s.Wait(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSignalGiveBeforeWait(t *testing.T) {
	s := NewSignal()
	s.Give()
	assert.True(t, s.Wait(time.Second))
}

func TestSignalCoalesces(t *testing.T) {
	s := NewSignal()
	for i := 0; i < 5; i++ {
		s.Give()
	}

	assert.True(t, s.Wait(time.Second))
	assert.False(t, s.Wait(10*time.Millisecond), "only one signal may be pending")
}

func TestSignalAcrossGoroutines(t *testing.T) {
	s := NewSignal()

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Give()
	}()

	assert.True(t, s.Wait(time.Second))
}

func TestSignalConcurrentGive(t *testing.T) {
	s := NewSignal()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Give()
		}()
	}
	wg.Wait()

	assert.True(t, s.Wait(time.Second))
	assert.False(t, s.Wait(10*time.Millisecond))
}

func TestSignalReset(t *testing.T) {
	s := NewSignal()
	s.Give()
	s.Reset()
	assert.False(t, s.Wait(10*time.Millisecond))

	// Reset on an empty signal is a no-op.
	s.Reset()
	s.Give()
	assert.True(t, s.Wait(time.Second))
}

func TestSleepWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	SleepWithContext(time.Minute, ctx)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResettableTimerFires(t *testing.T) {
	var count atomic.Int32
	rt := New(context.Background(), 10*time.Millisecond, false, func() {
		count.Add(1)
	})
	defer rt.Stop()

	assert.Eventually(t, func() bool { return count.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestResettableTimerStop(t *testing.T) {
	var count atomic.Int32
	rt := New(context.Background(), 10*time.Millisecond, false, func() {
		count.Add(1)
	})
	assert.Eventually(t, func() bool { return count.Load() >= 1 }, time.Second, 5*time.Millisecond)

	rt.Stop()
	stopped := count.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, count.Load())
}

func TestResettableTimerStopWaitsForCallback(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	rt := New(context.Background(), 5*time.Millisecond, false, func() {
		if finished.Load() {
			return
		}
		select {
		case <-started:
		default:
			close(started)
		}
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})
	<-started

	rt.Stop()
	assert.True(t, finished.Load())
}

func TestResettableTimerStopAfterParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	var once sync.Once
	rt := New(ctx, 5*time.Millisecond, false, func() {
		once.Do(func() { close(started) })
		<-release
	})
	<-started

	cancel()
	begin := time.Now()
	rt.Stop()
	assert.Less(t, time.Since(begin), 100*time.Millisecond, "Stop must not wait for a callback once the parent is done")
}

func TestResettableTimerReset(t *testing.T) {
	var count atomic.Int32
	rt := New(context.Background(), 200*time.Millisecond, false, func() {
		count.Add(1)
	})
	defer rt.Stop()

	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		rt.Reset()
	}
	assert.Equal(t, int32(0), count.Load())
}

func TestResettableTimerTriggerNow(t *testing.T) {
	var count atomic.Int32
	rt := New(context.Background(), time.Hour, true, func() {
		count.Add(1)
	})
	defer rt.Stop()

	assert.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestResettableTimerParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var count atomic.Int32
	rt := New(ctx, 10*time.Millisecond, false, func() {
		count.Add(1)
	})

	cancel()
	rt.Stop()
	time.Sleep(20 * time.Millisecond)
	n := count.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, count.Load())
}
