package store

import (
	"sync/atomic"
	"time"
)

// Clock is the twin's notion of "now": wall time shifted by an offset that
// tests move forward through the admin API. Record timestamps such as
// createdon and modifiedon are taken from it.
type Clock struct {
	offset atomic.Int64
}

// NewClock returns a clock that agrees with wall time.
func NewClock() *Clock { return &Clock{} }

// Now returns wall time plus the current offset.
func (c *Clock) Now() time.Time {
	return time.Now().Add(c.Offset())
}

// Advance shifts the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.offset.Add(int64(d))
}

// Offset returns how far the clock is ahead of wall time.
func (c *Clock) Offset() time.Duration {
	return time.Duration(c.offset.Load())
}

// Reset puts the clock back on wall time.
func (c *Clock) Reset() {
	c.offset.Store(0)
}
