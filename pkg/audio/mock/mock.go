// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for unit tests.
//
// Both mocks are safe for concurrent use and record their calls so tests can
// assert on counts and arguments.
//
// Typical usage:
//
//	src := &mock.Source{Frames: frames}
//	sink := &mock.Sink{}
//	p := pipeline.New(classifier, transcriber, responder, synth, sink)
//	_ = p.Run(ctx, src)
//	clips := sink.Clips()
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
)

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source replays Frames in order. After the last frame it returns io.EOF,
// unless Block is set, in which case it waits for ctx to be cancelled, the
// way a live device would.
type Source struct {
	mu sync.Mutex

	// Frames are returned by ReadFrame in order.
	Frames []audio.Frame

	// SourceFormat is returned by Format. Defaults to audio.DefaultFormat.
	SourceFormat audio.Format

	// Block makes ReadFrame wait for cancellation once Frames are exhausted.
	Block bool

	// ReadErr, when non-nil, is returned after the frames are exhausted
	// instead of io.EOF.
	ReadErr error

	// OnRead is called with each frame index before it is returned. Tests use
	// it to synchronize with the capture loop.
	OnRead func(index int)

	pos        int
	closeCalls int
}

// ReadFrame implements [audio.Source].
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}
	s.mu.Lock()
	if s.pos < len(s.Frames) {
		f := s.Frames[s.pos]
		s.pos++
		cb := s.OnRead
		s.mu.Unlock()
		if cb != nil {
			cb(f.Index)
		}
		return f, nil
	}
	block, readErr := s.Block, s.ReadErr
	s.mu.Unlock()

	if readErr != nil {
		return audio.Frame{}, readErr
	}
	if block {
		<-ctx.Done()
		return audio.Frame{}, ctx.Err()
	}
	return audio.Frame{}, io.EOF
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SourceFormat.SampleRate == 0 {
		return audio.DefaultFormat
	}
	return s.SourceFormat
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}

// Reads returns how many frames have been handed out.
func (s *Source) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// CloseCalls returns how many times Close was called.
func (s *Source) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink records every clip passed to Play.
type Sink struct {
	mu sync.Mutex

	// PlayErr is returned by Play when non-nil. The clip is still recorded.
	PlayErr error

	// OnPlay runs inside Play before it returns.
	OnPlay func(audio.Clip)

	clips      []audio.Clip
	closeCalls int
}

// Play implements [audio.Sink].
func (s *Sink) Play(_ context.Context, clip audio.Clip) error {
	s.mu.Lock()
	s.clips = append(s.clips, clip)
	cb, err := s.OnPlay, s.PlayErr
	s.mu.Unlock()
	if cb != nil {
		cb(clip)
	}
	return err
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}

// Clips returns a copy of the recorded clips.
func (s *Sink) Clips() []audio.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Clip, len(s.clips))
	copy(out, s.clips)
	return out
}

// CloseCalls returns how many times Close was called.
func (s *Sink) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
