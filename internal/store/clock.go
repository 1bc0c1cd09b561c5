package store

import "sync/atomic"

// Clock hands out commit sequence numbers for the in-process backends.
//
// Every commit that makes something new visible takes the next value; the
// current value is the store's snapshot marker. Sequence numbers are logical,
// never wall-clock, so replaying the same writes yields the same markers.
//
// Clock is safe for concurrent use, though backends only call Next while
// holding their write lock so the number and the write become visible together.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0 (the empty store).
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming from a persisted marker.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the latest value handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
