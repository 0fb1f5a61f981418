// ABOUTME: Driver loop that paces the playback scheduler
// ABOUTME: Sleeps coarsely until just before the loop boundary, then polls tightly
package player

import (
	"context"
	"runtime"
	"time"
)

// DriverConfig controls how the driver waits between scheduler steps.
type DriverConfig struct {
	// SafetyMargin is how far before the loop boundary coarse sleeping stops.
	SafetyMargin time.Duration
	// PollInterval is the wait inside the safety margin; 0 yields instead.
	PollInterval time.Duration
	IdleInterval time.Duration
	// MaxSleep caps a single coarse sleep so a replaced clip is noticed.
	MaxSleep time.Duration
}

// DefaultDriverConfig returns the standard pacing.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		SafetyMargin: 10 * time.Millisecond,
		PollInterval: time.Millisecond,
		IdleInterval: 50 * time.Millisecond,
		MaxSleep:     time.Second,
	}
}

// Driver repeatedly advances a Scheduler until its context is cancelled.
type Driver struct {
	scheduler *Scheduler
	config    DriverConfig
}

// NewDriver creates a driver for scheduler.
func NewDriver(scheduler *Scheduler, config DriverConfig) *Driver {
	def := DefaultDriverConfig()
	if config.SafetyMargin < 0 {
		config.SafetyMargin = 0
	}
	if config.PollInterval < 0 {
		config.PollInterval = def.PollInterval
	}
	if config.IdleInterval <= 0 {
		config.IdleInterval = def.IdleInterval
	}
	if config.MaxSleep <= 0 {
		config.MaxSleep = def.MaxSleep
	}

	return &Driver{
		scheduler: scheduler,
		config:    config,
	}
}

// Run advances the scheduler until ctx is cancelled and returns ctx.Err().
func (d *Driver) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		state := d.scheduler.Advance(ctx)

		wait := d.nextWait(state)
		if wait < 0 {
			continue
		}
		if wait == 0 {
			runtime.Gosched()
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// nextWait returns how long to wait before the next step. A negative value
// means advance immediately and zero means yield.
func (d *Driver) nextWait(state State) time.Duration {
	switch state {
	case StateIdle:
		return d.config.IdleInterval

	case StateWaitingToLoop:
		p := d.scheduler.Player()
		if p == nil {
			return d.config.IdleInterval
		}

		remaining := time.Duration(p.RemainingMs()) * time.Millisecond
		if remaining > d.config.SafetyMargin {
			return min(remaining-d.config.SafetyMargin, d.config.MaxSleep)
		}
		return d.config.PollInterval

	default:
		return -1
	}
}
