// ABOUTME: Batch clock synchronization against a time-reference server
// ABOUTME: Runs N round-trip probes, filters outliers, keeps last good offset
package sync

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/samber/lo"
)

const (
	// DefaultSampleCount is the number of probes per sync run.
	DefaultSampleCount = 20

	// DefaultProbeTimeout bounds a single probe round trip.
	DefaultProbeTimeout = 2 * time.Second

	// LostAfterFailures consecutive failed runs mark the sync as lost.
	LostAfterFailures = 3

	historySize = 32
)

// ServerTimestamps are the two server-side stamps of a probe response.
type ServerTimestamps struct {
	ReceivedAt int64 // server clock when the request arrived
	SentAt     int64 // server clock when the response left
}

// TimeReference answers probes with server timestamps. Implementations must
// honour ctx cancellation; a failed or timed-out probe returns an error.
type TimeReference interface {
	Sync(ctx context.Context, reqSentAt int64) (ServerTimestamps, error)
}

// Quality represents sync quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

// Config tunes a ClockSync.
type Config struct {
	SampleCount  int
	ProbeTimeout time.Duration
	Filter       FilterMode
}

// Result describes one completed sync run.
type Result struct {
	Outcome  Outcome
	Offset   int64 // offset in effect after the run
	Previous int64 // offset before the run
	Probes   int
	Accepted int
	Kept     int
	Mean     float64
	Variance float64
	MeanRTT  float64
	Started  time.Time
	Duration time.Duration
}

// Updated reports whether the run replaced the offset.
func (r Result) Updated() bool {
	return r.Outcome == OutcomeUpdated
}

// ClockSync estimates serverTime - localTime from batches of probes.
type ClockSync struct {
	clock  *MonotonicClock
	ref    TimeReference
	config Config

	runMu sync.Mutex // one RunSync at a time

	mu         sync.RWMutex
	offset     int64
	synced     bool
	failures   int
	lastResult Result
	history    deque.Deque[Result]
	quality    Quality
}

// NewClockSync creates a synchronizer with zero offset and QualityLost.
func NewClockSync(clock *MonotonicClock, ref TimeReference, config Config) *ClockSync {
	if config.SampleCount <= 0 {
		config.SampleCount = DefaultSampleCount
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}

	cs := &ClockSync{
		clock:   clock,
		ref:     ref,
		config:  config,
		quality: QualityLost,
	}
	cs.history.SetBaseCap(historySize)
	return cs
}

// RunSync executes SampleCount sequential probes and folds them into a new
// offset. Every failure mode keeps the previous offset.
func (cs *ClockSync) RunSync(ctx context.Context) Result {
	cs.runMu.Lock()
	defer cs.runMu.Unlock()

	started := time.Now()
	samples := make([]Sample, 0, cs.config.SampleCount)

	for i := 0; i < cs.config.SampleCount; i++ {
		if ctx.Err() != nil {
			log.Printf("Sync run cancelled after %d/%d probes", i, cs.config.SampleCount)
			break
		}

		sample, err := cs.probe(ctx)
		if err != nil {
			log.Printf("Sync probe %d/%d failed: %v", i+1, cs.config.SampleCount, err)
			continue
		}
		samples = append(samples, sample)
	}

	offsets := lo.Map(samples, func(s Sample, _ int) float64 { return s.Offset() })
	offset, outcome, stats := Aggregate(offsets, cs.config.Filter)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	result := Result{
		Outcome:  outcome,
		Offset:   cs.offset,
		Previous: cs.offset,
		Probes:   cs.config.SampleCount,
		Accepted: stats.Count,
		Kept:     stats.Kept,
		Mean:     stats.Mean,
		Variance: stats.Variance,
		MeanRTT:  lo.MeanBy(samples, func(s Sample) float64 { return s.RoundTrip() }),
		Started:  started,
		Duration: time.Since(started),
	}

	if outcome == OutcomeUpdated {
		cs.offset = offset
		cs.synced = true
		cs.failures = 0
		result.Offset = offset
	} else {
		cs.failures++
	}

	cs.quality = cs.assessQuality(result)
	cs.lastResult = result
	cs.history.PushBack(result)
	for cs.history.Len() > historySize {
		cs.history.PopFront()
	}

	switch outcome {
	case OutcomeUpdated:
		log.Printf("Sync run: offset=%dms (was %dms), kept %d/%d samples, rtt=%.1fms, took %v",
			result.Offset, result.Previous, result.Kept, result.Probes, result.MeanRTT, result.Duration)
	case OutcomeNoSamples:
		log.Printf("Sync run failed: no samples from %d probes, keeping offset=%dms", result.Probes, result.Offset)
	case OutcomeAllOutliers:
		log.Printf("Sync run failed: all %d samples rejected (mean=%.1f variance=%.1f), keeping offset=%dms",
			result.Accepted, result.Mean, result.Variance, result.Offset)
	}

	if cs.failures == LostAfterFailures {
		log.Printf("Warning: %d consecutive sync runs failed, sync quality lost", cs.failures)
	}

	return result
}

// probe performs one round trip under the per-probe timeout.
func (cs *ClockSync) probe(ctx context.Context) (Sample, error) {
	probeCtx, cancel := context.WithTimeout(ctx, cs.config.ProbeTimeout)
	defer cancel()

	reqSentAt := cs.clock.LocalTime()
	ts, err := cs.ref.Sync(probeCtx, reqSentAt)
	resReceivedAt := cs.clock.LocalTime()
	if err != nil {
		return Sample{}, err
	}

	return Sample{
		ReqSentAt:     reqSentAt,
		ReqReceivedAt: ts.ReceivedAt,
		ResSentAt:     ts.SentAt,
		ResReceivedAt: resReceivedAt,
	}, nil
}

// assessQuality must be called with mu held.
func (cs *ClockSync) assessQuality(r Result) Quality {
	if !cs.synced || cs.failures >= LostAfterFailures {
		return QualityLost
	}
	if !r.Updated() || r.Kept*2 < r.Probes {
		return QualityDegraded
	}
	return QualityGood
}

// Offset returns the current offset in milliseconds (server - local).
func (cs *ClockSync) Offset() int64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.offset
}

// LocalTime returns the monotonic local time in milliseconds.
func (cs *ClockSync) LocalTime() int64 {
	return cs.clock.LocalTime()
}

// ServerTime returns LocalTime() + Offset().
func (cs *ClockSync) ServerTime() int64 {
	cs.mu.RLock()
	offset := cs.offset
	cs.mu.RUnlock()
	return cs.clock.LocalTime() + offset
}

// ServerToLocal converts a server timestamp to local time.
func (cs *ClockSync) ServerToLocal(serverMs int64) int64 {
	return serverMs - cs.Offset()
}

// LastResult returns the most recent run result and whether one exists.
func (cs *ClockSync) LastResult() (Result, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.lastResult, cs.history.Len() > 0
}

// History returns recent run results, oldest first.
func (cs *ClockSync) History() []Result {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	out := make([]Result, cs.history.Len())
	for i := range out {
		out[i] = cs.history.At(i)
	}
	return out
}

// Quality returns the current sync quality.
func (cs *ClockSync) Quality() Quality {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.quality
}

// Stats returns offset, mean RTT of the last run, quality and the number of
// consecutive failed runs.
func (cs *ClockSync) Stats() (offset int64, rtt float64, quality Quality, failures int) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.offset, cs.lastResult.MeanRTT, cs.quality, cs.failures
}
