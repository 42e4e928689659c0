// Package audio defines the PCM value types that flow through earshot and the
// Source and Sink boundaries that produce and consume them.
//
// All PCM in this package is 16-bit signed little-endian. Sample rate and
// channel count travel with the data in [Format], [Frame] and [Clip].
package audio

import (
	"context"
	"time"
)

// DefaultFrameDuration is the capture frame length used by the segmenter.
// At 16 kHz mono this is 480 samples (960 bytes).
const DefaultFrameDuration = 30 * time.Millisecond

// DefaultFormat is the capture format expected by the transcribers: 16 kHz mono.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameBytes returns the number of bytes in a frame of duration d.
func (f Format) FrameBytes(d time.Duration) int {
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return samples * f.channels() * 2
}

// Duration returns the playback duration of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	samples := n / (2 * f.channels())
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

func (f Format) channels() int {
	if f.Channels <= 0 {
		return 1
	}
	return f.Channels
}

// String returns a human-readable form, e.g. "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Frame is a fixed-duration slice of captured PCM audio. Frames are treated
// as immutable once a Source has returned them.
type Frame struct {
	// Data is the PCM payload.
	Data []byte

	SampleRate int
	Channels   int

	// Index is the zero-based capture sequence number within one Source.
	Index int

	// Timestamp is the offset of the first sample from the start of capture.
	Timestamp time.Duration
}

// Format returns the frame's sample layout.
func (f Frame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	return f.Format().Duration(len(f.Data))
}

// Clip is a finite piece of synthesized or uploaded audio.
type Clip struct {
	PCM    []byte
	Format Format
}

// Duration returns the playback duration of the clip.
func (c Clip) Duration() time.Duration {
	return c.Format.Duration(len(c.PCM))
}

// Source produces a continuous sequence of fixed-size PCM frames.
//
// ReadFrame blocks until the next frame is available. It returns io.EOF once
// a finite source is exhausted. Implementations must return promptly when ctx
// is cancelled. A Source is owned by a single reader.
type Source interface {
	ReadFrame(ctx context.Context) (Frame, error)
	Format() Format
	Close() error
}

// Sink delivers synthesized audio to a file, a playback device or a media
// room. Play blocks until the clip has been handed off completely.
type Sink interface {
	Play(ctx context.Context, clip Clip) error
	Close() error
}
