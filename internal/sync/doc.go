// ABOUTME: Clock synchronization package
// ABOUTME: Provides batch NTP-style clock sync against a loopsync server
// Package sync estimates the offset between the device clock and a reference
// server clock.
//
// Local time comes from a MonotonicClock, so wall-clock steps after startup
// cannot disturb it. ClockSync runs a batch of round-trip probes, filters
// outliers and keeps the last good offset when a run fails.
//
// Example:
//
//	clock := sync.NewMonotonicClock()
//	cs := sync.NewClockSync(clock, ref, sync.Config{SampleCount: 20})
//	result := cs.RunSync(ctx)
//	serverNow := cs.ServerTime()
package sync
