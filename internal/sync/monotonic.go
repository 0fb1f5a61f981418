// ABOUTME: Monotonic local clock anchored to a wall-clock epoch
// ABOUTME: Immune to NTP steps or manual wall-clock changes after startup
package sync

import "time"

// MonotonicClock produces "local time" in Unix milliseconds from a wall-clock
// epoch captured once plus the elapsed monotonic ticks since then.
type MonotonicClock struct {
	epochMs       int64
	monotonicBase time.Duration
	ticks         func() time.Duration
}

// NewMonotonicClock captures the wall-clock epoch and the monotonic base at
// the same instant.
func NewMonotonicClock() *MonotonicClock {
	start := time.Now()
	return NewMonotonicClockFrom(
		func() time.Time { return start },
		func() time.Duration { return time.Since(start) },
	)
}

// NewMonotonicClockFrom builds a clock from explicit sources. The wall source
// is read exactly once, here.
func NewMonotonicClockFrom(wall func() time.Time, ticks func() time.Duration) *MonotonicClock {
	base := ticks()
	epoch := wall().UnixMilli()

	return &MonotonicClock{
		epochMs:       epoch,
		monotonicBase: base,
		ticks:         ticks,
	}
}

// LocalTime returns epoch + (monotonicNow - monotonicBase) in milliseconds.
func (c *MonotonicClock) LocalTime() int64 {
	return c.epochMs + (c.ticks() - c.monotonicBase).Milliseconds()
}

// Epoch returns the wall-clock milliseconds captured at construction.
func (c *MonotonicClock) Epoch() int64 {
	return c.epochMs
}

// Elapsed returns the monotonic time since construction.
func (c *MonotonicClock) Elapsed() time.Duration {
	return c.ticks() - c.monotonicBase
}
