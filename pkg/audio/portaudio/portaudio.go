// Package portaudio captures from the default input device and plays replies
// on the default output device through the PortAudio C library.
//
// Both [Source] and [Sink] call portaudio.Initialize when opened and
// portaudio.Terminate when closed. PortAudio reference-counts these calls, so
// a source and a sink may be open at the same time.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/earshot/pkg/audio"
)

// playbackFrames is the number of frames per buffer used for output streams.
const playbackFrames = 1024

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
)

// Source reads fixed-size frames from the default input device.
type Source struct {
	mu       sync.Mutex
	format   audio.Format
	duration time.Duration
	buf      []int16
	stream   *portaudio.Stream
	next     int
	closed   bool
}

// Open initialises PortAudio and starts a blocking input stream on the default
// device in format f. Each ReadFrame returns one frame of duration d.
func Open(f audio.Format, d time.Duration) (*Source, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("portaudio: invalid capture format %v", f)
	}
	samples := f.FrameBytes(d) / 2
	if samples == 0 {
		return nil, fmt.Errorf("portaudio: frame duration %v too short", d)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	s := &Source{format: f, duration: d, buf: make([]int16, samples)}

	stream, err := portaudio.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), samples/f.Channels, s.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}
	s.stream = stream
	slog.Info("portaudio: capturing from default input", "format", f.String(), "frame", d)
	return s, nil
}

// ReadFrame blocks until the device has filled one frame. An input overflow
// is logged and the (late) frame is returned anyway.
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.Frame{}, errors.New("portaudio: source closed")
	}

	if err := s.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return audio.Frame{}, fmt.Errorf("portaudio: read: %w", err)
		}
		slog.Warn("portaudio: input overflowed", "frame", s.next)
	}
	f := frameFrom(s.buf, s.format, s.next, s.duration)
	s.next++
	return f, nil
}

// Format returns the capture format.
func (s *Source) Format() audio.Format { return s.format }

// Close stops the input stream and releases PortAudio.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.stream.Stop(), s.stream.Close(), portaudio.Terminate())
}

// frameFrom copies the device buffer into an immutable frame.
func frameFrom(buf []int16, f audio.Format, index int, d time.Duration) audio.Frame {
	return audio.Frame{
		Data:       audio.Bytes(buf),
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Index:      index,
		Timestamp:  time.Duration(index) * d,
	}
}

// Sink plays clips on the default output device. Each clip opens its own
// output stream at the clip's sample rate, so no resampling happens here.
type Sink struct {
	mu     sync.Mutex
	closed bool
}

// NewSink initialises PortAudio for playback.
func NewSink() (*Sink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Sink{}, nil
}

// Play writes clip to the default output device and returns after the last
// buffer has been queued. Cancelling ctx stops playback between buffers.
func (s *Sink) Play(ctx context.Context, clip audio.Clip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("portaudio: sink closed")
	}
	if len(clip.PCM) == 0 {
		return nil
	}
	ch := clip.Format.Channels
	if ch <= 0 {
		ch = 1
	}

	out := make([]int16, playbackFrames*ch)
	stream, err := portaudio.OpenDefaultStream(0, ch, float64(clip.Format.SampleRate), playbackFrames, out)
	if err != nil {
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	defer stream.Stop()

	samples := audio.Int16s(clip.PCM)
	for off := 0; off < len(samples); off += len(out) {
		if err := ctx.Err(); err != nil {
			return err
		}
		fillBuffer(out, samples[off:])
		if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

// Close releases PortAudio.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return portaudio.Terminate()
}

// fillBuffer copies as many samples as fit into dst and zeroes the rest.
func fillBuffer(dst, src []int16) {
	n := copy(dst, src)
	clear(dst[n:])
}
