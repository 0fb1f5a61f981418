// ABOUTME: Cooperative loop-playback state machine
// ABOUTME: Starts the clip, interleaves clock resyncs and restarts at the loop boundary
package player

import (
	"context"
	"log"
	"sync"

	internalsync "github.com/loopsync/loopsync-go/internal/sync"
)

// DefaultSyncWindowCapMs caps the window before the loop boundary in which
// a resync may be triggered.
const DefaultSyncWindowCapMs = 20000

// AudioPlayer is the single playback channel driven by the scheduler.
type AudioPlayer interface {
	Play() error
	Stop() error
	// RemainingMs is DurationMs minus elapsed playback; negative once the
	// clip has finished.
	RemainingMs() int64
	DurationMs() int64
}

// Syncer is the clock the scheduler stamps loops with and resyncs.
type Syncer interface {
	RunSync(ctx context.Context) internalsync.Result
	ServerTime() int64
}

// Reporter receives fire-and-forget backend reports.
type Reporter interface {
	ReportDuration(durationMs int64)
	ReportTimestamp(timestampMs int64)
}

// SchedulerConfig tunes the scheduler.
type SchedulerConfig struct {
	SyncWindowCapMs int64
}

// Scheduler advances the loop-playback state machine one step at a time.
type Scheduler struct {
	syncer   Syncer
	reporter Reporter
	config   SchedulerConfig

	stepMu sync.Mutex // serializes Advance, Load and Unload

	mu            sync.RWMutex
	state         State
	player        AudioPlayer
	lastTimestamp int64
	loops         int64
	lastSync      internalsync.Result
	onTransition  func(from, to State)
}

// NewScheduler creates an idle scheduler.
func NewScheduler(syncer Syncer, reporter Reporter, config SchedulerConfig) *Scheduler {
	if config.SyncWindowCapMs <= 0 {
		config.SyncWindowCapMs = DefaultSyncWindowCapMs
	}

	return &Scheduler{
		syncer:   syncer,
		reporter: reporter,
		config:   config,
		state:    StateIdle,
	}
}

// OnTransition registers a callback invoked after every state change. It
// runs on the driver goroutine and must not call back into the scheduler.
func (s *Scheduler) OnTransition(fn func(from, to State)) {
	s.mu.Lock()
	s.onTransition = fn
	s.mu.Unlock()
}

// Load installs a clip and moves the scheduler to starting. A clip that is
// already playing is replaced.
func (s *Scheduler) Load(p AudioPlayer) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	s.mu.RLock()
	previous := s.player
	s.mu.RUnlock()

	if previous != nil && previous != p {
		if err := previous.Stop(); err != nil {
			log.Printf("Failed to stop previous clip: %v", err)
		}
	}

	s.mu.Lock()
	s.player = p
	s.mu.Unlock()

	duration := p.DurationMs()
	log.Printf("Clip loaded: duration=%dms", duration)
	s.reporter.ReportDuration(duration)

	s.transition(StateStarting)
}

// Unload stops playback and returns to idle.
func (s *Scheduler) Unload() {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	s.mu.Lock()
	p := s.player
	s.player = nil
	s.mu.Unlock()

	if p != nil {
		if err := p.Stop(); err != nil {
			log.Printf("Failed to stop clip: %v", err)
		}
	}

	s.transition(StateIdle)
}

// Advance performs at most one transition and returns the resulting state.
// Only the syncing state blocks, for the duration of one bounded sync run.
func (s *Scheduler) Advance(ctx context.Context) State {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	s.mu.RLock()
	state, p := s.state, s.player
	s.mu.RUnlock()

	if p == nil {
		return state
	}

	switch state {
	case StateIdle:
		// Waiting for Load.

	case StateStarting:
		s.startLoop(p)
		s.transition(StateWaitingToSync)

	case StateWaitingToSync:
		window := min(s.config.SyncWindowCapMs, p.DurationMs())
		if p.RemainingMs() > window {
			s.transition(StateWaitingToLoop)
		} else {
			s.transition(StateSyncing)
		}

	case StateSyncing:
		result := s.syncer.RunSync(ctx)
		s.mu.Lock()
		s.lastSync = result
		s.mu.Unlock()
		s.transition(StateWaitingToLoop)

	case StateWaitingToLoop:
		if p.RemainingMs() <= 0 {
			s.mu.Lock()
			s.loops++
			s.mu.Unlock()
			s.transition(StateStarting)
		}
	}

	return s.State()
}

// startLoop restarts playback and stamps the loop start in server time.
func (s *Scheduler) startLoop(p AudioPlayer) {
	if err := p.Stop(); err != nil {
		log.Printf("Failed to stop clip before restart: %v", err)
	}
	if err := p.Play(); err != nil {
		log.Printf("Failed to start clip: %v", err)
	}

	timestamp := s.syncer.ServerTime()

	s.mu.Lock()
	s.lastTimestamp = timestamp
	s.mu.Unlock()

	s.reporter.ReportTimestamp(timestamp)
}

func (s *Scheduler) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	fn := s.onTransition
	s.mu.Unlock()

	if fn != nil && from != to {
		fn(from, to)
	}
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Player returns the loaded clip player, or nil when idle.
func (s *Scheduler) Player() AudioPlayer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.player
}

// LastTimestamp returns the server time at which the current loop began.
func (s *Scheduler) LastTimestamp() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTimestamp
}

// Loops returns the number of completed loop restarts.
func (s *Scheduler) Loops() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loops
}

// LastSync returns the result of the most recent in-loop sync run.
func (s *Scheduler) LastSync() internalsync.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}
