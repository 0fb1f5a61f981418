// ABOUTME: Tests for the looping clip output
// ABOUTME: Tests volume control and remaining-time tracking without an audio device
package player

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopsync/loopsync-go/internal/audio"
)

type manualClock struct {
	now int64
}

func (c *manualClock) LocalTime() int64 { return c.now }

type fakeVoice struct {
	playing bool
	closed  bool
	volume  float64
	data    []byte
}

func (v *fakeVoice) Play()                    { v.playing = true }
func (v *fakeVoice) Pause()                   { v.playing = false }
func (v *fakeVoice) SetVolume(volume float64) { v.volume = volume }
func (v *fakeVoice) Close() error {
	v.closed = true
	return nil
}

// newTestOutput returns an Output wired to fake voices instead of oto.
func newTestOutput(clock LocalClock, durationMs int64) (*Output, *[]*fakeVoice) {
	voices := &[]*fakeVoice{}
	o := NewOutput(clock)
	o.ready = true
	o.newVoice = func(r io.Reader) voice {
		data, _ := io.ReadAll(r)
		v := &fakeVoice{data: data}
		*voices = append(*voices, v)
		return v
	}
	o.clip = &audio.Clip{
		Path:       "loop.pcm",
		Format:     audio.Format{Codec: "pcm", SampleRate: 44100, Channels: 2, BitDepth: 16},
		PCM:        []byte{1, 2, 3, 4},
		DurationMs: durationMs,
	}
	return o, voices
}

func TestVolumeMultiplier(t *testing.T) {
	tests := []struct {
		volume   int
		muted    bool
		expected float64
	}{
		{100, false, 1.0},
		{50, false, 0.5},
		{0, false, 0.0},
		{80, true, 0.0}, // Muted overrides volume
	}

	for _, tt := range tests {
		result := getVolumeMultiplier(tt.volume, tt.muted)
		assert.Equal(t, tt.expected, result, "volume=%d, muted=%v", tt.volume, tt.muted)
	}
}

func TestClipTimerRemaining(t *testing.T) {
	clock := &manualClock{now: 1000}
	timer := clipTimer{clock: clock}

	assert.Equal(t, int64(25000), timer.remaining(25000), "stopped timer reports full duration")

	timer.start()
	clock.now += 4000
	assert.Equal(t, int64(21000), timer.remaining(25000))

	clock.now += 21005
	assert.Equal(t, int64(-5), timer.remaining(25000))

	timer.stop()
	assert.Equal(t, int64(25000), timer.remaining(25000))
}

func TestOutputPlayRestartsClip(t *testing.T) {
	clock := &manualClock{now: 0}
	o, voices := newTestOutput(clock, 25000)

	require.NoError(t, o.Play())
	require.Len(t, *voices, 1)
	first := (*voices)[0]
	assert.True(t, first.playing)
	assert.Equal(t, []byte{1, 2, 3, 4}, first.data)
	assert.Equal(t, 1.0, first.volume)

	clock.now = 6000
	assert.Equal(t, int64(19000), o.RemainingMs())

	require.NoError(t, o.Play())
	require.Len(t, *voices, 2)
	assert.True(t, first.closed)
	assert.Equal(t, int64(25000), o.RemainingMs())
}

func TestOutputStop(t *testing.T) {
	clock := &manualClock{}
	o, voices := newTestOutput(clock, 1000)

	assert.NoError(t, o.Stop(), "stopping an idle output is a no-op")

	require.NoError(t, o.Play())
	require.NoError(t, o.Stop())
	assert.True(t, (*voices)[0].closed)
	assert.Equal(t, int64(1000), o.RemainingMs())
	assert.Equal(t, int64(1000), o.DurationMs())
}

func TestOutputPlayWithoutClip(t *testing.T) {
	o := NewOutput(&manualClock{})

	assert.ErrorIs(t, o.Play(), ErrNotInitialized)
	assert.Equal(t, int64(0), o.DurationMs())
}

func TestOutputVolumeAppliesToPlayingVoice(t *testing.T) {
	o, voices := newTestOutput(&manualClock{}, 1000)
	require.NoError(t, o.Play())
	v := (*voices)[0]

	o.SetVolume(40)
	assert.Equal(t, 0.4, v.volume)
	assert.Equal(t, 40, o.GetVolume())

	o.SetMuted(true)
	assert.Equal(t, 0.0, v.volume)
	assert.True(t, o.IsMuted())

	o.SetVolume(150)
	assert.Equal(t, 100, o.GetVolume())
	o.SetVolume(-3)
	assert.Equal(t, 0, o.GetVolume())
}
