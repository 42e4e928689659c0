// Package segment turns a stream of fixed-size audio frames into utterances.
//
// A [Segmenter] classifies every frame through a [vad.Classifier] and keeps a
// two-state machine (idle, speaking) with a hysteresis window: an utterance
// starts at the first speech frame and is emitted only after a run of
// consecutive silence frames of the configured length. The trailing silence
// frames are part of the emitted utterance.
//
// Push is the synchronous transition function and is not safe for concurrent
// use. Run drives Push from an [audio.Source] and delivers finished utterances
// on a channel.
package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// DefaultSilenceFrames is the hysteresis length: the number of consecutive
// silence frames that closes an utterance. At 30 ms frames this is 300 ms.
const DefaultSilenceFrames = 10

// Close reasons reported on [Utterance.Reason] and the utterance metric.
const (
	ReasonSilence   = "silence"
	ReasonMaxLength = "max_length"
)

// State is the segmenter's position in the idle/speaking machine.
type State int

const (
	StateIdle State = iota
	StateSpeaking
)

// String returns "idle" or "speaking".
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event reports what a single Push did.
type Event int

const (
	// EventNone means the frame did not change the state.
	EventNone Event = iota

	// EventSpeechStart means the frame opened a new utterance.
	EventSpeechStart

	// EventSpeechEnd means the frame closed an utterance, which Push returns.
	EventSpeechEnd
)

// String returns a short lowercase name for logs.
func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Utterance is a contiguous run of frames from the first speech frame through
// the frame that completed the hysteresis window.
type Utterance struct {
	// ID uniquely identifies the utterance across logs, events and history.
	ID string

	// Frames are the captured frames in capture order.
	Frames []audio.Frame

	// Reason is [ReasonSilence] or [ReasonMaxLength].
	Reason string
}

// PCM concatenates the frame payloads.
func (u Utterance) PCM() []byte {
	n := 0
	for _, f := range u.Frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Data...)
	}
	return out
}

// Format returns the format of the first frame, or the zero Format for an
// empty utterance.
func (u Utterance) Format() audio.Format {
	if len(u.Frames) == 0 {
		return audio.Format{}
	}
	return u.Frames[0].Format()
}

// Start is the capture offset of the first frame.
func (u Utterance) Start() time.Duration {
	if len(u.Frames) == 0 {
		return 0
	}
	return u.Frames[0].Timestamp
}

// End is the capture offset just past the last frame.
func (u Utterance) End() time.Duration {
	if len(u.Frames) == 0 {
		return 0
	}
	last := u.Frames[len(u.Frames)-1]
	return last.Timestamp + last.Duration()
}

// Gate reports whether capture is currently muted, for example while the
// assistant's own reply is playing.
type Gate interface {
	Closed() bool
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithSilenceFrames sets the hysteresis length. Values below 1 are ignored.
func WithSilenceFrames(n int) Option {
	return func(s *Segmenter) {
		if n > 0 {
			s.silenceFrames = n
		}
	}
}

// WithMaxFrames caps the utterance length. An utterance that reaches n frames
// is emitted as if its hysteresis had completed. Zero means unlimited.
func WithMaxFrames(n int) Option {
	return func(s *Segmenter) {
		if n >= 0 {
			s.maxFrames = n
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Segmenter) { s.metrics = m }
}

// WithGate makes Run treat every frame as zeroed silence while g is closed, and
// reset the machine when g opens again.
func WithGate(g Gate) Option {
	return func(s *Segmenter) { s.gate = g }
}

// WithIDFunc overrides the utterance ID generator. Defaults to
// [uuid.NewString].
func WithIDFunc(fn func() string) Option {
	return func(s *Segmenter) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// Segmenter is the utterance state machine.
type Segmenter struct {
	cls           vad.Classifier
	silenceFrames int
	maxFrames     int
	metrics       *observe.Metrics
	gate          Gate
	newID         func() string

	state      State
	silenceRun int
	buf        []audio.Frame
}

// New creates a Segmenter that classifies frames with cls.
func New(cls vad.Classifier, opts ...Option) *Segmenter {
	s := &Segmenter{
		cls:           cls,
		silenceFrames: DefaultSilenceFrames,
		newID:         uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// State returns the current state.
func (s *Segmenter) State() State { return s.state }

// SilenceFrames returns the configured hysteresis length.
func (s *Segmenter) SilenceFrames() int { return s.silenceFrames }

// Push classifies frame and advances the state machine. When the frame
// completes an utterance, Push returns [EventSpeechEnd] and the utterance;
// the segmenter keeps no reference to it afterwards.
//
// A classifier error counts as speech so that a flaky classifier extends an
// utterance rather than cutting it.
func (s *Segmenter) Push(frame audio.Frame) (Event, *Utterance) {
	return s.Observe(frame, s.classify(frame))
}

// Observe advances the state machine with an already known decision.
func (s *Segmenter) Observe(frame audio.Frame, d vad.Decision) (Event, *Utterance) {
	switch s.state {
	case StateIdle:
		if d != vad.Speech {
			return EventNone, nil
		}
		s.state = StateSpeaking
		s.silenceRun = 0
		s.buf = append(s.buf, frame)
		slog.Debug("segment: speech started", "frame", frame.Index, "at", frame.Timestamp)
		if s.maxFrames > 0 && len(s.buf) >= s.maxFrames {
			return EventSpeechStart, s.emit(ReasonMaxLength)
		}
		return EventSpeechStart, nil

	case StateSpeaking:
		s.buf = append(s.buf, frame)
		if d == vad.Speech {
			s.silenceRun = 0
		} else {
			s.silenceRun++
		}
		if s.silenceRun >= s.silenceFrames {
			return EventSpeechEnd, s.emit(ReasonSilence)
		}
		if s.maxFrames > 0 && len(s.buf) >= s.maxFrames {
			return EventSpeechEnd, s.emit(ReasonMaxLength)
		}
	}
	return EventNone, nil
}

// Reset discards any partial utterance and returns to idle. The classifier
// is reset too.
func (s *Segmenter) Reset() {
	if len(s.buf) > 0 {
		slog.Debug("segment: discarding partial utterance", "frames", len(s.buf))
	}
	s.state = StateIdle
	s.silenceRun = 0
	s.buf = nil
	if s.cls != nil {
		s.cls.Reset()
	}
}

// Run reads frames from src until the source ends or ctx is cancelled and
// sends every completed utterance on out. ctx is checked between frames. A
// partial utterance at stop time is discarded.
//
// Run returns nil when src reports [io.EOF], ctx.Err() on cancellation and a
// wrapped error when src fails. It does not close out.
func (s *Segmenter) Run(ctx context.Context, src audio.Source, out chan<- Utterance) error {
	defer s.Reset()

	gated := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("segment: read frame: %w", err)
		}
		s.metrics.FramesCaptured.Add(ctx, 1)

		var utt *Utterance
		switch {
		case s.gate != nil && s.gate.Closed():
			gated = true
			s.metrics.DroppedFrames.Add(ctx, 1)
			_, utt = s.Observe(muted(frame), vad.Silence)
		default:
			if gated {
				gated = false
				s.Reset()
			}
			_, utt = s.Push(frame)
		}

		if utt == nil {
			continue
		}
		if err := s.deliver(ctx, out, *utt); err != nil {
			return err
		}
	}
}

// muted returns frame with its samples zeroed. Gated frames still count
// toward the trailing silence of an open utterance, but the played-back
// audio they carry must not reach the transcriber.
func muted(frame audio.Frame) audio.Frame {
	frame.Data = make([]byte, len(frame.Data))
	return frame
}

func (s *Segmenter) deliver(ctx context.Context, out chan<- Utterance, u Utterance) error {
	select {
	case out <- u:
		s.metrics.QueueDepth.Add(ctx, 1)
		return nil
	default:
	}
	slog.Warn("segment: utterance queue full, capture is waiting on the turn worker",
		"utterance", u.ID, "frames", len(u.Frames))
	select {
	case out <- u:
		s.metrics.QueueDepth.Add(ctx, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Segmenter) classify(frame audio.Frame) vad.Decision {
	if s.cls == nil {
		return vad.Silence
	}
	d, err := s.cls.Classify(frame.Data)
	if err != nil {
		s.metrics.ClassifierErrors.Add(context.Background(), 1)
		slog.Debug("segment: classifier failed, treating frame as speech",
			"frame", frame.Index, "err", err)
		return vad.Speech
	}
	return d
}

func (s *Segmenter) emit(reason string) *Utterance {
	u := &Utterance{
		ID:     s.newID(),
		Frames: s.buf,
		Reason: reason,
	}
	s.state = StateIdle
	s.silenceRun = 0
	s.buf = nil
	s.metrics.RecordUtterance(context.Background(), reason)
	slog.Debug("segment: utterance complete",
		"utterance", u.ID, "frames", len(u.Frames), "reason", reason)
	return u
}
