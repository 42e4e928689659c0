package audio

import (
	"context"
	"io"
	"time"
)

var (
	_ Source = (*ClipSource)(nil)
	_ Sink   = DiscardSink{}
)

// ClipSource serves an in-memory clip as a finite frame sequence. The clip is
// converted to the requested format up front; a trailing partial frame is
// zero-padded. ReadFrame returns io.EOF after the last frame.
type ClipSource struct {
	format Format
	frames []Frame
	pos    int
}

// NewClipSource returns a Source that yields clip in frames of duration d in
// format f.
func NewClipSource(clip Clip, f Format, d time.Duration) *ClipSource {
	pcm := Convert(clip.PCM, clip.Format, f)
	fr := NewFramer(f, d)
	frames := fr.Write(pcm)
	if last, ok := fr.Flush(); ok {
		frames = append(frames, last)
	}
	return &ClipSource{format: f, frames: frames}
}

// ReadFrame returns the next frame or io.EOF.
func (s *ClipSource) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.pos >= len(s.frames) {
		return Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

// Format returns the frame format.
func (s *ClipSource) Format() Format { return s.format }

// Len returns the total number of frames.
func (s *ClipSource) Len() int { return len(s.frames) }

// Close is a no-op.
func (s *ClipSource) Close() error { return nil }

// DiscardSink drops every clip. It is used for transcribe-only runs.
type DiscardSink struct{}

// Play discards clip.
func (DiscardSink) Play(context.Context, Clip) error { return nil }

// Close is a no-op.
func (DiscardSink) Close() error { return nil }
