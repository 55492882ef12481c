package clock

import (
	"slices"
	"sync"
	stdtime "time"
)

// Fake is a controllable Clock for testing time-dependent behavior.
// Callbacks fire synchronously inside Advance, in deadline order.
type Fake struct {
	mu     sync.Mutex
	now    stdtime.Time
	timers []*fakeTimer
	seq    int
}

type fakeTimer struct {
	clock    *Fake
	deadline stdtime.Time
	seq      int
	f        func()
	stopped  bool
	fired    bool
}

// NewFake creates a Fake frozen at the given time.
func NewFake(t stdtime.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the current fake time.
func (c *Fake) Now() stdtime.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run once the fake time reaches now+d.
// A non-positive d fires on the next Advance, including Advance(0).
func (c *Fake) AfterFunc(d stdtime.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, running every callback whose
// deadline is reached. Callbacks may schedule new timers; those fire too
// if they fall inside the window.
func (c *Fake) Advance(d stdtime.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.popDue(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.deadline.After(c.now) {
			c.now = next.deadline
		}
		next.fired = true
		f := next.f
		c.mu.Unlock()

		f()
	}
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// popDue removes and returns the earliest live timer due by target. Caller holds mu.
func (c *Fake) popDue(target stdtime.Time) *fakeTimer {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.timers = live

	slices.SortFunc(c.timers, func(a, b *fakeTimer) int {
		if cmp := a.deadline.Compare(b.deadline); cmp != 0 {
			return cmp
		}
		return a.seq - b.seq
	})
	if len(c.timers) == 0 || c.timers[0].deadline.After(target) {
		return nil
	}
	t := c.timers[0]
	c.timers = c.timers[1:]
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
