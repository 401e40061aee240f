package timers

import (
	"context"
	"sync"
	"time"
)

func SleepWithContext(d time.Duration, ctx context.Context) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Signal is a single-slot wakeup. Any number of Give calls before a Wait
// collapse into one pending signal. Give may be called from any goroutine.
type Signal struct {
	ch chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Give marks the signal pending. It never blocks.
func (s *Signal) Give() {
	select {
	case s.ch <- struct{}{}:
	default: // already pending
	}
}

// Wait blocks until the signal is given or d elapses. It reports whether
// the signal was taken.
func (s *Signal) Wait(d time.Duration) bool {
	select {
	case <-s.ch:
		return true
	default:
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ch:
		return true
	case <-t.C:
		return false
	}
}

// Reset discards a pending signal.
func (s *Signal) Reset() {
	select {
	case <-s.ch:
	default:
	}
}

// ResettableTimer runs fn every time d elapses without a Reset.
type ResettableTimer struct {
	mu       sync.Mutex
	timer    *time.Timer
	fn       func()
	dur      time.Duration
	parent   context.Context
	cancelFn context.CancelFunc
	resetCh  chan bool
	done     chan struct{}
}

// New starts a timer that calls fn after d and then again every d until
// ctx is done or Stop is called. With triggerNow fn also runs immediately.
func New(ctx context.Context, d time.Duration, triggerNow bool, fn func()) *ResettableTimer {
	rt := &ResettableTimer{
		fn:     fn,
		dur:    d,
		parent: ctx,
	}
	rt.start()

	if triggerNow {
		go fn()
	}

	return rt
}

func (rt *ResettableTimer) start() {
	ctx, cancel := context.WithCancel(rt.parent)
	rt.timer = time.NewTimer(rt.dur)
	rt.cancelFn = cancel
	rt.resetCh = make(chan bool, 1)
	rt.done = make(chan struct{})
	go rt.run(ctx, rt.timer, rt.resetCh, rt.done)
}

// Reset pushes the next tick a full period into the future.
func (rt *ResettableTimer) Reset() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	select {
	case rt.resetCh <- true:
	default: // avoid blocking if reset already pending
	}
}

// Stop ends the timer and waits for a running fn to return, unless the
// parent context is already done.
func (rt *ResettableTimer) Stop() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.stopLocked()
}

func (rt *ResettableTimer) stopLocked() {
	rt.cancelFn()
	select {
	case <-rt.done:
	case <-rt.parent.Done():
	}
}

func (rt *ResettableTimer) run(ctx context.Context, timer *time.Timer, resetCh <-chan bool, done chan<- struct{}) {
	defer close(done)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			rt.fn()
			timer.Reset(rt.dur)
		case <-resetCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(rt.dur)
		case <-ctx.Done():
			return
		}
	}
}
