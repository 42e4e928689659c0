// Package pipeline runs the voice loop.
//
// [Pipeline.Run] starts two goroutines under one errgroup: the capture loop
// reads frames from an [audio.Source] and feeds the segmenter, and the turn
// worker takes finished utterances off a bounded channel and runs each through
// transcription, reply, synthesis and playback. Turns are processed one at a
// time in capture order.
//
// While the sink plays a reply the half-duplex [Gate] is closed, so the
// assistant does not hear itself. Capture keeps draining the source during
// that time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/events"
	"github.com/MrWong99/earshot/internal/history"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/respond"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/internal/vocab"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// DefaultQueueSize is the capacity of the utterance channel between capture
// and the turn worker.
const DefaultQueueSize = 8

// Synthesizer renders reply text as a playable clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.Clip, error)
}

// Gate is the half-duplex switch shared by the capture loop and the turn
// worker. The zero value is open.
type Gate struct {
	closed atomic.Bool
}

var _ segment.Gate = (*Gate)(nil)

// Close mutes capture.
func (g *Gate) Close() { g.closed.Store(true) }

// Open unmutes capture.
func (g *Gate) Open() { g.closed.Store(false) }

// Closed reports whether capture is muted.
func (g *Gate) Closed() bool { return g.closed.Load() }

// Result describes one processed utterance.
type Result struct {
	UtteranceID string

	// Start and End bound the utterance in capture time.
	Start, End time.Duration

	// Transcript is the corrected transcription. Empty means no turn.
	Transcript string

	// Segments carry capture-relative offsets.
	Segments []stt.Segment

	Corrections []vocab.Correction

	Reply string
	Clip  audio.Clip

	// Outcome is one of the observe.Outcome* values.
	Outcome string
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithQueueSize sets the utterance channel capacity. Values below 1 are
// ignored.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithHalfDuplex enables or disables muting capture during playback. It is on
// by default; turn it off when the device does its own echo cancellation.
func WithHalfDuplex(on bool) Option {
	return func(p *Pipeline) { p.halfDuplex = on }
}

// WithSegmentOptions passes options through to the segmenter.
func WithSegmentOptions(opts ...segment.Option) Option {
	return func(p *Pipeline) { p.segOpts = append(p.segOpts, opts...) }
}

// WithVocabulary corrects every transcript against c before replying.
func WithVocabulary(c *vocab.Corrector) Option {
	return func(p *Pipeline) { p.vocab.Store(c) }
}

// WithHistory shares h with the caller. By default the pipeline keeps its own.
func WithHistory(h *history.History) Option {
	return func(p *Pipeline) {
		if h != nil {
			p.history = h
		}
	}
}

// WithTranscript appends every completed turn to w.
func WithTranscript(w *transcript.Writer) Option {
	return func(p *Pipeline) { p.transcript = w }
}

// WithEvents publishes every completed turn through pub.
func WithEvents(pub *events.Publisher) Option {
	return func(p *Pipeline) { p.events = pub }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithSourceName labels published events with the capture source, e.g. "mic".
func WithSourceName(name string) Option {
	return func(p *Pipeline) { p.sourceName = name }
}

// Pipeline wires the stages of one voice loop together.
type Pipeline struct {
	classifier  vad.Classifier
	transcriber stt.Transcriber
	responder   respond.Responder
	synth       Synthesizer
	sink        audio.Sink

	queueSize  int
	halfDuplex bool
	segOpts    []segment.Option
	vocab      atomic.Pointer[vocab.Corrector]
	history    *history.History
	transcript *transcript.Writer
	events     *events.Publisher
	metrics    *observe.Metrics
	sourceName string

	gate *Gate
	seg  *segment.Segmenter
}

// New creates a Pipeline. A nil sink discards replies.
func New(cls vad.Classifier, tr stt.Transcriber, r respond.Responder, s Synthesizer, sink audio.Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		classifier:  cls,
		transcriber: tr,
		responder:   r,
		synth:       s,
		sink:        sink,
		queueSize:   DefaultQueueSize,
		halfDuplex:  true,
		history:     history.New(),
		gate:        &Gate{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.sink == nil {
		p.sink = audio.DiscardSink{}
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	p.seg = p.newSegmenter(p.halfDuplex)
	return p
}

func (p *Pipeline) newSegmenter(gated bool) *segment.Segmenter {
	opts := append([]segment.Option{segment.WithMetrics(p.metrics)}, p.segOpts...)
	if gated {
		opts = append(opts, segment.WithGate(p.gate))
	}
	return segment.New(p.classifier, opts...)
}

// History returns the turn log.
func (p *Pipeline) History() *history.History { return p.history }

// Gate returns the half-duplex gate.
func (p *Pipeline) Gate() *Gate { return p.gate }

// SetVocabulary swaps the transcript corrector. It takes effect from the next
// utterance; nil disables correction.
func (p *Pipeline) SetVocabulary(c *vocab.Corrector) { p.vocab.Store(c) }

// Run captures from src until the source ends or ctx is cancelled. Utterances
// already queued when the source ends are still processed; on cancellation
// the worker stops without starting another turn.
//
// Per-utterance failures are logged and skipped. Run returns nil when src is
// exhausted, ctx.Err() on cancellation and the source error otherwise.
func (p *Pipeline) Run(ctx context.Context, src audio.Source) error {
	utts := make(chan segment.Utterance, p.queueSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(utts)
		return p.seg.Run(gctx, src, utts)
	})
	g.Go(func() error {
		p.work(gctx, utts)
		return nil
	})
	return g.Wait()
}

func (p *Pipeline) work(ctx context.Context, utts <-chan segment.Utterance) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-utts:
			if !ok {
				return
			}
			p.metrics.QueueDepth.Add(ctx, -1)
			if ctx.Err() != nil {
				return
			}
			if _, err := p.Turn(ctx, u); err != nil && ctx.Err() == nil {
				slog.Warn("pipeline: turn failed", "utterance", u.ID, "err", err)
			}
		}
	}
}

// ProcessFile runs every utterance in a finite source inline: capture pauses
// while a turn is processed. Speech still open when the source ends is closed
// by appending the hysteresis window of silence. Failed turns are logged and
// skipped; the returned slice holds every turn that produced a transcript.
func (p *Pipeline) ProcessFile(ctx context.Context, src audio.Source) ([]Result, error) {
	seg := p.newSegmenter(false)
	defer seg.Reset()

	var results []Result
	handle := func(u *segment.Utterance) {
		if u == nil {
			return
		}
		res, err := p.Turn(ctx, *u)
		if err != nil {
			slog.Warn("pipeline: turn failed", "utterance", u.ID, "err", err)
			return
		}
		if res.Outcome == observe.OutcomeCompleted {
			results = append(results, res)
		}
	}

	var last audio.Frame
	for {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		frame, err := src.ReadFrame(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return results, fmt.Errorf("pipeline: read frame: %w", err)
		}
		last = frame
		_, u := seg.Push(frame)
		handle(u)
	}

	for i := 1; i <= seg.SilenceFrames() && seg.State() == segment.StateSpeaking; i++ {
		_, u := seg.Observe(silentAfter(last, i), vad.Silence)
		handle(u)
	}
	return results, nil
}

// silentAfter returns an all-zero frame n positions after f.
func silentAfter(f audio.Frame, n int) audio.Frame {
	return audio.Frame{
		Data:       make([]byte, len(f.Data)),
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Index:      f.Index + n,
		Timestamp:  f.Timestamp + time.Duration(n)*f.Duration(),
	}
}

// Turn processes one utterance: transcribe, correct, reply, synthesize, play,
// then record the turn in the history, the transcript file and the event
// stream. An empty transcript ends the turn early with [observe.OutcomeEmpty]
// and nothing else is invoked.
func (p *Pipeline) Turn(ctx context.Context, u segment.Utterance) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.turn",
		trace.WithAttributes(attribute.String("utterance.id", u.ID), attribute.Int("frames", len(u.Frames))))
	defer span.End()

	res, err := p.answer(ctx, u.ID, u.PCM(), u.Format(), u.Start(), u.End())
	if err == nil && res.Outcome == observe.OutcomeCompleted {
		err = p.play(ctx, res.Clip)
	}
	if err != nil {
		res.Outcome = observe.OutcomeFailed
		observe.FailSpan(span, err)
		p.metrics.RecordTurn(ctx, res.Outcome)
		return res, err
	}
	p.metrics.RecordTurn(ctx, res.Outcome)
	if res.Outcome == observe.OutcomeEmpty {
		observe.Logger(ctx).Debug("pipeline: no speech in utterance", "utterance", u.ID)
		return res, nil
	}

	p.record(ctx, res)
	return res, nil
}

// Answer runs a whole clip through transcription, reply and synthesis without
// segmenting, playing or recording it. The upload server uses it.
func (p *Pipeline) Answer(ctx context.Context, clip audio.Clip) (Result, error) {
	id := uuid.NewString()
	ctx, span := observe.StartSpan(ctx, "pipeline.answer", trace.WithAttributes(attribute.String("utterance.id", id)))
	defer span.End()

	pcm := audio.Convert(clip.PCM, clip.Format, audio.DefaultFormat)
	res, err := p.answer(ctx, id, pcm, audio.DefaultFormat, 0, clip.Duration())
	if err != nil {
		res.Outcome = observe.OutcomeFailed
		observe.FailSpan(span, err)
	}
	p.metrics.RecordTurn(ctx, res.Outcome)
	return res, err
}

func (p *Pipeline) answer(ctx context.Context, id string, pcm []byte, f audio.Format, start, end time.Duration) (Result, error) {
	res := Result{UtteranceID: id, Start: start, End: end, Outcome: observe.OutcomeEmpty}

	if f.Channels > 1 {
		mono := audio.Format{SampleRate: f.SampleRate, Channels: 1}
		pcm = audio.Convert(pcm, f, mono)
		f = mono
	}

	var tr stt.Result
	err := p.stage(ctx, observe.StageTranscribe, func(ctx context.Context) error {
		var err error
		tr, err = p.transcriber.Transcribe(ctx, pcm, f.SampleRate)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("pipeline: transcribe: %w", err)
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return res, nil
	}
	segs := stt.Shift(tr.Segments, start)
	if vc := p.vocab.Load(); vc != nil {
		text, res.Corrections = vc.Correct(text)
		for i := range segs {
			segs[i].Text, _ = vc.Correct(segs[i].Text)
		}
		for _, c := range res.Corrections {
			slog.Debug("pipeline: vocabulary correction",
				"utterance", id, "from", c.Original, "to", c.Corrected, "confidence", c.Confidence)
		}
	}
	res.Transcript = text
	res.Segments = segs
	slog.Info("pipeline: heard", "utterance", id, "text", text)

	err = p.stage(ctx, observe.StageRespond, func(ctx context.Context) error {
		var err error
		res.Reply, err = p.responder.Respond(ctx, text, p.history)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("pipeline: respond: %w", err)
	}
	slog.Info("pipeline: replying", "utterance", id, "reply", res.Reply)

	err = p.stage(ctx, observe.StageSynthesize, func(ctx context.Context) error {
		var err error
		res.Clip, err = p.synth.Synthesize(ctx, res.Reply)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("pipeline: synthesize: %w", err)
	}
	res.Outcome = observe.OutcomeCompleted
	return res, nil
}

func (p *Pipeline) play(ctx context.Context, clip audio.Clip) error {
	if len(clip.PCM) == 0 {
		return nil
	}
	if p.halfDuplex {
		p.gate.Close()
		defer p.gate.Open()
	}
	err := p.stage(ctx, observe.StagePlay, func(ctx context.Context) error {
		return p.sink.Play(ctx, clip)
	})
	if err != nil {
		return fmt.Errorf("pipeline: play: %w", err)
	}
	return nil
}

// record appends a completed turn to the history, the transcript file and the
// event stream. Transcript and event failures are logged only.
func (p *Pipeline) record(ctx context.Context, res Result) {
	p.history.Append(history.Turn{
		UtteranceID: res.UtteranceID,
		Transcript:  res.Transcript,
		Reply:       res.Reply,
	})

	if p.transcript != nil {
		err := p.transcript.Write(transcript.Entry{
			Start:    res.Start,
			End:      res.End,
			Segments: res.Segments,
			Text:     res.Transcript,
			Reply:    res.Reply,
		})
		if err != nil {
			slog.Warn("pipeline: transcript write failed", "utterance", res.UtteranceID, "err", err)
		}
	}

	if p.events != nil {
		err := p.events.Publish(ctx, events.TurnEvent{
			UtteranceID: res.UtteranceID,
			Source:      p.sourceName,
			StartMs:     res.Start.Milliseconds(),
			EndMs:       res.End.Milliseconds(),
			Transcript:  res.Transcript,
			Reply:       res.Reply,
			AudioMs:     res.Clip.Duration().Milliseconds(),
			CompletedAt: time.Now().UTC(),
		})
		if err != nil {
			slog.Warn("pipeline: publish turn failed", "utterance", res.UtteranceID, "err", err)
		}
	}
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	p.metrics.RecordStage(ctx, name, time.Since(start))
	if err != nil {
		observe.FailSpan(span, err)
	}
	return err
}
