package clock

import (
	"sort"
	"sync"
	"time"
)

type Timer interface {
	// Stop prevents the timer from firing.
	//
	// It returns false if the timer has already fired or been stopped.
	Stop() bool
}

// Clock is a source of the current time and of deferred calls.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type real struct{}

// Real returns Clock backed by package time.
func Real() Clock {
	return real{}
}

func (real) Now() time.Time {
	return time.Now()
}

func (real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// After behaves like time.After, but on the given Clock.
//
// # Returns
//
// - <-chan time.Time: receives the time when d has elapsed on c.
//
// - func() bool: stops the timer. See Timer.Stop .
func After(c Clock, d time.Duration) (<-chan time.Time, func() bool) {
	ch := make(chan time.Time, 1)
	t := c.AfterFunc(d, func() { ch <- c.Now() })
	return ch, t.Stop
}

// Fake is a Clock which advances only when told to.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	serial int
}

var _ Clock = &Fake{}

func NewFake(t0 time.Time) *Fake {
	return &Fake{now: t0}
}

type fakeTimer struct {
	clock  *Fake
	at     time.Time
	serial int
	f      func()
	done   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serial += 1
	t := &fakeTimer{clock: c, at: c.now.Add(d), serial: c.serial, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Pending returns the number of timers which have neither fired nor been stopped.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n += 1
		}
	}
	return n
}

// Advance moves the clock forward by d, firing due timers in deadline order.
//
// Timer functions run on the calling goroutine, one by one.
// Timers set by those functions fire too, if they are due until the new time.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		live := c.timers[:0]
		for _, t := range c.timers {
			if !t.done {
				live = append(live, t)
			}
		}
		c.timers = live
		sort.SliceStable(c.timers, func(i, j int) bool {
			a, b := c.timers[i], c.timers[j]
			if !a.at.Equal(b.at) {
				return a.at.Before(b.at)
			}
			return a.serial < b.serial
		})

		if len(c.timers) == 0 || c.timers[0].at.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}

		next := c.timers[0]
		next.done = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()

		next.f()
	}
}
