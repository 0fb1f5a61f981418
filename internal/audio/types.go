// ABOUTME: Audio type definitions
// ABOUTME: Defines clip formats, decoded clips and sample conversions
package audio

import "errors"

// ErrUnsupportedFormat is returned for clip files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported clip format")

// Output format shared by every decoder: interleaved signed 16-bit little-endian.
const (
	BitDepth       = 16
	bytesPerSample = BitDepth / 8
)

// Format describes decoded PCM
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// FrameSize returns the number of bytes in one interleaved frame.
func (f Format) FrameSize() int {
	return f.Channels * bytesPerSample
}

// Clip is a fully decoded audio clip ready for looped playback
type Clip struct {
	Path       string
	Format     Format
	PCM        []byte // interleaved s16le
	DurationMs int64
}

// Frames returns the number of interleaved frames in the clip.
func (c *Clip) Frames() int64 {
	size := c.Format.FrameSize()
	if size == 0 {
		return 0
	}
	return int64(len(c.PCM) / size)
}

// durationMs converts a frame count to whole milliseconds.
func durationMs(frames int64, sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return frames * 1000 / int64(sampleRate)
}

// SampleToInt16 narrows a sample of the given bit depth to 16 bits.
func SampleToInt16(sample int32, bitDepth int) int16 {
	switch {
	case bitDepth > 16:
		return int16(sample >> (bitDepth - 16))
	case bitDepth < 16:
		return int16(sample << (16 - bitDepth))
	default:
		return int16(sample)
	}
}
