package loop

import (
	"context"
	"fmt"
	"time"
)

type Next struct {
	// if not nil, breaks with error
	err error

	// if quit == true and err == nil, breaks without error
	quit bool

	// otherwise, continue loop with interval.
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}
	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// continue loop after interval.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// break loop. Pass non-nil err to break with error.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task is a step of loop.
//
// It receives the value returned at the last step (or init, for the first step)
// and returns the next value together with Continue or Break.
type Task[T any] func(context.Context, T) (T, Next)

// Start runs task repeatedly until it breaks or ctx is done.
//
// Example: count 1 to 10.
//
//	Start(ctx, 1, func(_ context.Context, value int) (int, Next) {
//		value += 1
//		if 10 <= value {
//			return value, Break(nil)
//		}
//		return value, Continue(0)
//	})
//
// # Args
//
// - ctx : When this context is done, loop breaks with ctx.Err().
//
// - init : task is called as task(ctx, init) at the first time.
//
// - task : see Task.
//
// - options : see WithTimeout and WithTimer.
//
// # Returns
//
// - T: the value task returned at last.
//
// - error: error in Break(error), or ctx.Err().
func Start[T any](ctx context.Context, init T, task Task[T], options ...LoopOption) (T, error) {
	select {
	case <-ctx.Done():
		return init, ctx.Err()
	default:
	}

	lc := &loopConfig{after: stdAfter}
	for _, opt := range options {
		opt(lc)
	}

	value := init
	for {
		v, n := step(ctx, lc, task, value)
		if n.err != nil {
			return v, n.err
		} else if n.quit {
			return v, nil
		}
		value = v

		ch, stop := lc.after(n.interval)
		select {
		case <-ctx.Done():
			// shutting down comes first.
			stop()
			return value, ctx.Err()
		case <-ch:
		}
	}
}

type loopConfig struct {
	timeout time.Duration
	after   func(time.Duration) (<-chan time.Time, func() bool)
}

func step[T any](ctx context.Context, lc *loopConfig, task Task[T], value T) (T, Next) {
	if 0 < lc.timeout {
		c, cancel := context.WithTimeout(ctx, lc.timeout)
		defer cancel()
		ctx = c
	}
	return task(ctx, value)
}

func stdAfter(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

type LoopOption func(*loopConfig)

// set timeout per step.
//
// this timeout is set on context.Context passed to task.
func WithTimeout(d time.Duration) LoopOption {
	return func(lc *loopConfig) {
		lc.timeout = d
	}
}

// WithTimer replaces how loop waits between steps.
//
// after should return a channel receiving when d is elapsed, and a function stopping it.
func WithTimer(after func(d time.Duration) (<-chan time.Time, func() bool)) LoopOption {
	return func(lc *loopConfig) {
		lc.after = after
	}
}
