// Package timesync keeps peers' clocks aligned: round trip estimation,
// interval ticking and a snapshot interpolation timeline driven by the
// server's batch timestamps.
package timesync

import (
	"sync"
	"time"
)

// Clock returns monotonic local time in seconds.
type Clock interface {
	Seconds() float64
}

type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Seconds() float64 {
	return time.Since(c.start).Seconds()
}

// ManualClock only moves when told to. Tests step sessions with it.
type ManualClock struct {
	mu  sync.Mutex
	now float64
}

func NewManualClock(start float64) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Seconds() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d.Seconds()
	c.mu.Unlock()
}

func (c *ManualClock) Set(seconds float64) {
	c.mu.Lock()
	c.now = seconds
	c.mu.Unlock()
}

// Elapsed reports whether interval has passed since *last and advances *last
// to the latest multiple of interval, so ticks do not drift.
func Elapsed(now, interval float64, last *float64) bool {
	if interval <= 0 {
		*last = now
		return true
	}
	if now < *last+interval {
		return false
	}
	ticks := int64(now / interval)
	*last = float64(ticks) * interval
	return true
}
