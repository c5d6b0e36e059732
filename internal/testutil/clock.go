package testutil

import (
	"sync/atomic"
	"time"
)

// Epoch is where a Clock starts unless told otherwise.
var Epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// Clock is a hand-driven time source. Pass clock.Now wherever a component
// takes a func() time.Time; it is safe to read from probe goroutines while
// the test advances it.
type Clock struct {
	nanos atomic.Int64
}

// NewClock returns a Clock reading start, or Epoch when start is zero.
func NewClock(start ...time.Time) *Clock {
	c := &Clock{}
	t := Epoch
	if len(start) > 0 && !start[0].IsZero() {
		t = start[0]
	}
	c.nanos.Store(t.UnixNano())
	return c
}

// Now returns the current reading in UTC.
func (c *Clock) Now() time.Time {
	return time.Unix(0, c.nanos.Load()).UTC()
}

// Advance steps the clock by d, which may be negative, and returns the new
// reading. A discovery test typically advances one scan interval per cycle.
func (c *Clock) Advance(d time.Duration) time.Time {
	return time.Unix(0, c.nanos.Add(int64(d))).UTC()
}
