// ABOUTME: Looping clip output using oto library
// ABOUTME: Plays one decoded clip and tracks remaining time on the monotonic clock
package player

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/loopsync/loopsync-go/internal/audio"
)

// ErrNotInitialized is returned when playback is attempted before
// Initialize or Load.
var ErrNotInitialized = errors.New("output not initialized")

// LocalClock is the monotonic local time source for playback timing.
type LocalClock interface {
	LocalTime() int64
}

// voice is one playing instance of the clip. *oto.Player satisfies it.
type voice interface {
	Play()
	Pause()
	SetVolume(volume float64)
	Close() error
}

// clipTimer measures elapsed playback against the monotonic clock.
type clipTimer struct {
	clock     LocalClock
	startedAt int64
	running   bool
}

func (t *clipTimer) start() {
	t.startedAt = t.clock.LocalTime()
	t.running = true
}

func (t *clipTimer) stop() {
	t.running = false
}

// remaining returns duration minus elapsed playback, or duration when
// stopped. It goes negative once the clip has run out.
func (t *clipTimer) remaining(durationMs int64) int64 {
	if !t.running {
		return durationMs
	}
	return durationMs - (t.clock.LocalTime() - t.startedAt)
}

// Output plays a single clip through oto
type Output struct {
	mu       sync.Mutex
	otoCtx   *oto.Context
	newVoice func(r io.Reader) voice
	format   audio.Format
	clip     *audio.Clip
	voice    voice
	timer    clipTimer
	volume   int
	muted    bool
	ready    bool
}

// NewOutput creates an audio output timed by clock
func NewOutput(clock LocalClock) *Output {
	return &Output{
		timer:  clipTimer{clock: clock},
		volume: 100,
		muted:  false,
	}
}

// Initialize sets up oto with the specified format. oto allows one context
// per process, so later calls with a different format keep the first one.
func (o *Output) Initialize(format audio.Format) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.otoCtx != nil {
		if format.SampleRate != o.format.SampleRate || format.Channels != o.format.Channels {
			log.Printf("Warning: format change detected (%dHz %dch -> %dHz %dch) but oto doesn't support reinitialization",
				o.format.SampleRate, o.format.Channels, format.SampleRate, format.Channels)
		}
		return nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}

	<-readyChan

	o.otoCtx = ctx
	o.format = format
	o.newVoice = func(r io.Reader) voice { return ctx.NewPlayer(r) }
	o.ready = true

	log.Printf("Audio output initialized: %dHz, %d channels",
		format.SampleRate, format.Channels)

	return nil
}

// Load installs the clip to loop. Any playing instance is stopped.
func (o *Output) Load(clip *audio.Clip) error {
	if err := o.Initialize(clip.Format); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.closeVoice()
	o.clip = clip

	log.Printf("Clip ready: %s (%s, %dms)", clip.Path, clip.Format.Codec, clip.DurationMs)
	return nil
}

// Play starts the clip from the beginning.
func (o *Output) Play() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.ready || o.clip == nil {
		return ErrNotInitialized
	}

	o.closeVoice()

	v := o.newVoice(bytes.NewReader(o.clip.PCM))
	v.SetVolume(getVolumeMultiplier(o.volume, o.muted))
	v.Play()

	o.voice = v
	o.timer.start()
	return nil
}

// Stop halts playback. Stopping an idle output is a no-op.
func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.closeVoice()
}

func (o *Output) closeVoice() error {
	o.timer.stop()
	if o.voice == nil {
		return nil
	}

	v := o.voice
	o.voice = nil
	v.Pause()
	if err := v.Close(); err != nil {
		return fmt.Errorf("failed to close player: %w", err)
	}
	return nil
}

// RemainingMs returns the playback time left in the current loop.
func (o *Output) RemainingMs() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.timer.remaining(o.durationLocked())
}

// DurationMs returns the loaded clip's duration, or 0 with no clip.
func (o *Output) DurationMs() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.durationLocked()
}

func (o *Output) durationLocked() int64 {
	if o.clip == nil {
		return 0
	}
	return o.clip.DurationMs
}

// SetVolume sets the volume (0-100)
func (o *Output) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}

	o.mu.Lock()
	o.volume = volume
	o.applyVolume()
	o.mu.Unlock()

	log.Printf("Volume set to %d", volume)
}

// SetMuted sets mute state
func (o *Output) SetMuted(muted bool) {
	o.mu.Lock()
	o.muted = muted
	o.applyVolume()
	o.mu.Unlock()

	log.Printf("Muted: %v", muted)
}

// GetVolume returns current volume
func (o *Output) GetVolume() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

// IsMuted returns mute state
func (o *Output) IsMuted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.muted
}

func (o *Output) applyVolume() {
	if o.voice != nil {
		o.voice.SetVolume(getVolumeMultiplier(o.volume, o.muted))
	}
}

// Close stops playback and suspends the audio device
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.closeVoice()
	if o.otoCtx != nil {
		if suspendErr := o.otoCtx.Suspend(); suspendErr != nil && err == nil {
			err = fmt.Errorf("failed to suspend audio device: %w", suspendErr)
		}
		o.ready = false
	}
	return err
}

// getVolumeMultiplier calculates volume multiplier
func getVolumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}
