// ABOUTME: Tests for the loop playback scheduler
// ABOUTME: Covers the transition table, sync window and loop reporting
package player

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalsync "github.com/loopsync/loopsync-go/internal/sync"
)

type fakePlayer struct {
	mu        sync.Mutex
	duration  int64
	remaining int64
	plays     int
	stops     int
	playErr   error
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	p.remaining = p.duration
	return p.playErr
}

func (p *fakePlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakePlayer) RemainingMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remaining
}

func (p *fakePlayer) DurationMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *fakePlayer) setRemaining(ms int64) {
	p.mu.Lock()
	p.remaining = ms
	p.mu.Unlock()
}

func (p *fakePlayer) counts() (plays, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays, p.stops
}

type fakeSyncer struct {
	mu         sync.Mutex
	serverTime int64
	runs       int
	result     internalsync.Result
}

func (s *fakeSyncer) RunSync(ctx context.Context) internalsync.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	return s.result
}

func (s *fakeSyncer) ServerTime() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverTime
}

func (s *fakeSyncer) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

type fakeReporter struct {
	mu         sync.Mutex
	durations  []int64
	timestamps []int64
}

func (r *fakeReporter) ReportDuration(ms int64) {
	r.mu.Lock()
	r.durations = append(r.durations, ms)
	r.mu.Unlock()
}

func (r *fakeReporter) ReportTimestamp(ms int64) {
	r.mu.Lock()
	r.timestamps = append(r.timestamps, ms)
	r.mu.Unlock()
}

func newTestScheduler() (*Scheduler, *fakeSyncer, *fakeReporter) {
	syncer := &fakeSyncer{serverTime: 1_700_000_000_000}
	reporter := &fakeReporter{}
	return NewScheduler(syncer, reporter, SchedulerConfig{}), syncer, reporter
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "waiting_to_sync", StateWaitingToSync.String())
	assert.Equal(t, "syncing", StateSyncing.String())
	assert.Equal(t, "waiting_to_loop", StateWaitingToLoop.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestIdleAdvanceIsNoop(t *testing.T) {
	s, syncer, reporter := newTestScheduler()

	for i := 0; i < 3; i++ {
		assert.Equal(t, StateIdle, s.Advance(context.Background()))
	}

	assert.Equal(t, 0, syncer.runCount())
	assert.Empty(t, reporter.durations)
	assert.Empty(t, reporter.timestamps)
}

func TestLoadReportsDurationAndStarts(t *testing.T) {
	s, _, reporter := newTestScheduler()
	p := &fakePlayer{duration: 25000}

	s.Load(p)

	assert.Equal(t, StateStarting, s.State())
	assert.Equal(t, []int64{25000}, reporter.durations)
	assert.Same(t, p, s.Player())
}

func TestStartingPlaysAndStampsLoop(t *testing.T) {
	s, syncer, reporter := newTestScheduler()
	p := &fakePlayer{duration: 25000}
	s.Load(p)

	state := s.Advance(context.Background())

	assert.Equal(t, StateWaitingToSync, state)
	plays, stops := p.counts()
	assert.Equal(t, 1, plays)
	assert.Equal(t, 1, stops)
	assert.Equal(t, syncer.serverTime, s.LastTimestamp())
	assert.Equal(t, []int64{syncer.serverTime}, reporter.timestamps)
}

func TestSyncWindowDecision(t *testing.T) {
	tests := []struct {
		name      string
		duration  int64
		remaining int64
		want      State
	}{
		{"long clip far from boundary", 25000, 21000, StateWaitingToLoop},
		{"long clip inside window", 25000, 19000, StateSyncing},
		{"long clip exactly at window", 25000, 20000, StateSyncing},
		{"short clip always syncs", 5000, 5000, StateSyncing},
		{"clip longer than cap just started", 60000, 60000, StateWaitingToLoop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestScheduler()
			p := &fakePlayer{duration: tt.duration}
			s.Load(p)
			require.Equal(t, StateWaitingToSync, s.Advance(context.Background()))

			p.setRemaining(tt.remaining)
			assert.Equal(t, tt.want, s.Advance(context.Background()))
		})
	}
}

func TestCustomSyncWindowCap(t *testing.T) {
	syncer := &fakeSyncer{}
	s := NewScheduler(syncer, &fakeReporter{}, SchedulerConfig{SyncWindowCapMs: 5000})
	p := &fakePlayer{duration: 25000}
	s.Load(p)
	s.Advance(context.Background())

	p.setRemaining(6000)
	assert.Equal(t, StateWaitingToLoop, s.Advance(context.Background()))
}

func TestFullLoopSequence(t *testing.T) {
	s, syncer, reporter := newTestScheduler()
	syncer.result = internalsync.Result{Outcome: internalsync.OutcomeUpdated, Offset: 42}

	var transitions [][2]State
	s.OnTransition(func(from, to State) {
		transitions = append(transitions, [2]State{from, to})
	})

	p := &fakePlayer{duration: 25000}
	s.Load(p)
	ctx := context.Background()

	assert.Equal(t, StateWaitingToSync, s.Advance(ctx))
	p.setRemaining(19000)
	assert.Equal(t, StateSyncing, s.Advance(ctx))
	assert.Equal(t, StateWaitingToLoop, s.Advance(ctx))

	p.setRemaining(150)
	assert.Equal(t, StateWaitingToLoop, s.Advance(ctx))

	p.setRemaining(-3)
	assert.Equal(t, StateStarting, s.Advance(ctx))
	assert.Equal(t, StateWaitingToSync, s.Advance(ctx))

	assert.Equal(t, [][2]State{
		{StateIdle, StateStarting},
		{StateStarting, StateWaitingToSync},
		{StateWaitingToSync, StateSyncing},
		{StateSyncing, StateWaitingToLoop},
		{StateWaitingToLoop, StateStarting},
		{StateStarting, StateWaitingToSync},
	}, transitions)

	assert.Equal(t, 1, syncer.runCount())
	assert.Equal(t, int64(1), s.Loops())
	assert.Equal(t, int64(42), s.LastSync().Offset)
	assert.Len(t, reporter.timestamps, 2)

	plays, _ := p.counts()
	assert.Equal(t, 2, plays)
}

func TestLoopSkipsSyncFarFromBoundary(t *testing.T) {
	s, syncer, _ := newTestScheduler()
	p := &fakePlayer{duration: 60000}
	s.Load(p)
	ctx := context.Background()

	s.Advance(ctx) // starting
	assert.Equal(t, StateWaitingToLoop, s.Advance(ctx))

	p.setRemaining(0)
	assert.Equal(t, StateStarting, s.Advance(ctx))
	assert.Equal(t, 0, syncer.runCount())
}

func TestPlayErrorStillTransitions(t *testing.T) {
	s, _, reporter := newTestScheduler()
	p := &fakePlayer{duration: 1000, playErr: errors.New("device gone")}
	s.Load(p)

	assert.Equal(t, StateWaitingToSync, s.Advance(context.Background()))
	assert.Len(t, reporter.timestamps, 1)
}

func TestUnloadStopsAndIdles(t *testing.T) {
	s, _, _ := newTestScheduler()
	p := &fakePlayer{duration: 1000}
	s.Load(p)
	s.Advance(context.Background())

	s.Unload()

	assert.Equal(t, StateIdle, s.State())
	assert.Nil(t, s.Player())
	_, stops := p.counts()
	assert.Equal(t, 2, stops)
	assert.Equal(t, StateIdle, s.Advance(context.Background()))
}

func TestLoadReplacesClip(t *testing.T) {
	s, _, reporter := newTestScheduler()
	first := &fakePlayer{duration: 1000}
	second := &fakePlayer{duration: 2000}

	s.Load(first)
	s.Advance(context.Background())
	s.Load(second)

	assert.Equal(t, StateStarting, s.State())
	assert.Same(t, second, s.Player())
	assert.Equal(t, []int64{1000, 2000}, reporter.durations)

	_, stops := first.counts()
	assert.Equal(t, 2, stops)
}

func TestSnapshotsDuringSync(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	syncer := &blockingSyncer{entered: entered, release: release}
	s := NewScheduler(syncer, &fakeReporter{}, SchedulerConfig{})

	p := &fakePlayer{duration: 1000}
	s.Load(p)
	s.Advance(context.Background()) // starting
	s.Advance(context.Background()) // waiting_to_sync -> syncing

	done := make(chan State)
	go func() { done <- s.Advance(context.Background()) }()

	<-entered
	// Readers must not wait on the in-progress sync run
	assert.Equal(t, StateSyncing, s.State())
	assert.Equal(t, int64(0), s.Loops())

	close(release)
	assert.Equal(t, StateWaitingToLoop, <-done)
}

type blockingSyncer struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSyncer) RunSync(ctx context.Context) internalsync.Result {
	close(s.entered)
	<-s.release
	return internalsync.Result{}
}

func (s *blockingSyncer) ServerTime() int64 { return 0 }
