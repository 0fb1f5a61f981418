// ABOUTME: Whole-clip audio decoding
// ABOUTME: Loads MP3, Opus, FLAC and raw PCM files into s16le buffers
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
	"gopkg.in/hraban/opus.v2"
)

// Raw PCM clips carry no header, so their layout is fixed.
const (
	RawSampleRate = 44100
	RawChannels   = 2

	opusSampleRate = 48000
	opusChannels   = 2
	opusMaxFrame   = 5760 // 120ms at 48kHz
)

// LoadClip decodes the clip at path, choosing the decoder by extension.
func LoadClip(path string) (*Clip, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var (
		clip *Clip
		err  error
	)

	switch ext {
	case ".mp3":
		clip, err = loadMP3(path)
	case ".opus", ".ogg":
		clip, err = loadOpus(path)
	case ".flac":
		clip, err = loadFLAC(path)
	case ".pcm", ".raw":
		clip, err = loadRaw(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load clip %s: %w", path, err)
	}

	clip.Path = path
	clip.DurationMs = durationMs(clip.Frames(), clip.Format.SampleRate)
	return clip, nil
}

func loadMP3(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	// go-mp3 always emits 16-bit stereo
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode error: %w", err)
	}

	return &Clip{
		Format: Format{Codec: "mp3", SampleRate: dec.SampleRate(), Channels: 2, BitDepth: BitDepth},
		PCM:    pcm,
	}, nil
}

func loadOpus(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stream, err := opus.NewStream(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open opus stream: %w", err)
	}
	defer stream.Close()

	var out bytes.Buffer
	pcm := make([]int16, opusMaxFrame*opusChannels)
	for {
		n, err := stream.Read(pcm)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("opus decode failed: %w", err)
		}
		// n counts samples per channel
		if err := binary.Write(&out, binary.LittleEndian, pcm[:n*opusChannels]); err != nil {
			return nil, err
		}
	}

	return &Clip{
		Format: Format{Codec: "opus", SampleRate: opusSampleRate, Channels: opusChannels, BitDepth: BitDepth},
		PCM:    out.Bytes(),
	}, nil
}

func loadFLAC(path string) (*Clip, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open flac stream: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	channels := int(info.NChannels)
	bitDepth := int(info.BitsPerSample)

	out := make([]byte, 0, int(info.NSamples)*channels*bytesPerSample)
	for {
		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("flac decode failed: %w", err)
		}

		// Interleave subframes and narrow to 16-bit
		n := len(frame.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			for ch := 0; ch < channels; ch++ {
				s := SampleToInt16(frame.Subframes[ch].Samples[i], bitDepth)
				out = binary.LittleEndian.AppendUint16(out, uint16(s))
			}
		}
	}

	return &Clip{
		Format: Format{Codec: "flac", SampleRate: int(info.SampleRate), Channels: channels, BitDepth: BitDepth},
		PCM:    out,
	}, nil
}

func loadRaw(path string) (*Clip, error) {
	pcm, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	format := Format{Codec: "pcm", SampleRate: RawSampleRate, Channels: RawChannels, BitDepth: BitDepth}

	// Drop a trailing partial frame
	if rem := len(pcm) % format.FrameSize(); rem != 0 {
		pcm = pcm[:len(pcm)-rem]
	}

	return &Clip{Format: format, PCM: pcm}, nil
}
