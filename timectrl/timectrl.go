package timectrl

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Clock is an interface for accessing time. Components depend on this
// abstraction rather than the time package directly so tests can drive time
// by hand.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives the current time once d has
	// elapsed.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the wall clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ManualClock is a Clock whose time only moves when Advance is called.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []manualWaiter
}

type manualWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewManualClock constructs a ManualClock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a waiter that fires once Advance moves time past d.
// A non-positive d fires immediately.
func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, manualWaiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

// Advance moves time forward by d and fires every waiter whose deadline has
// been reached, in deadline order.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now

	sort.Slice(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
	fired := 0
	for _, w := range c.waiters {
		if w.deadline.After(now) {
			break
		}
		w.ch <- now
		fired++
	}
	c.waiters = append(c.waiters[:0], c.waiters[fired:]...)
	c.mu.Unlock()
}

// Waiters reports the number of pending After registrations. Tests use it to
// wait until a goroutine is parked on the clock before advancing.
func (c *ManualClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Loop invokes registered listeners every Interval until its context ends.
type Loop struct {
	clock    Clock
	Interval time.Duration

	mu        sync.Mutex
	listeners []func(context.Context, time.Time)
}

// NewLoop constructs a loop driven by clock. A nil clock uses the wall clock.
func NewLoop(clock Clock, interval time.Duration) *Loop {
	if clock == nil {
		clock = Real()
	}
	return &Loop{clock: clock, Interval: interval}
}

// AddListener registers a callback invoked on every tick.
func (l *Loop) AddListener(fn func(context.Context, time.Time)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Run blocks, firing listeners on every interval, and returns ctx.Err() once
// ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-l.clock.After(l.Interval):
			l.mu.Lock()
			listeners := append([]func(context.Context, time.Time){}, l.listeners...)
			l.mu.Unlock()

			for _, fn := range listeners {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				fn(ctx, now)
			}
		}
	}
}
