// Package app wires all earshot subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the classifier, the
// turn stages, the sink and the HTTP surface; Run opens the configured source
// and drives the capture loop; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSource, WithSink,
// WithClassifier). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/events"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/internal/respond"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/internal/synth"
	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/internal/upload"
	"github.com/MrWong99/earshot/internal/vocab"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/livekit"
	"github.com/MrWong99/earshot/pkg/audio/portaudio"
	"github.com/MrWong99/earshot/pkg/audio/wavfile"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
	"github.com/MrWong99/earshot/pkg/provider/vad/silero"
)

// serverShutdownTimeout bounds the HTTP server drain when Run ends.
const serverShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes and orchestrates the voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	format   audio.Format
	frameDur time.Duration

	// Subsystems; initialised in New, torn down in Shutdown.
	classifier vad.Classifier
	source     audio.Source
	openSrc    func(ctx context.Context) (audio.Source, error)
	sink       audio.Sink
	room       *livekit.Room
	pipeline   *pipeline.Pipeline
	uploads    *pipeline.Pipeline
	capture    *Capture
	ready      *health.Flag
	health     *health.Handler
	handler    http.Handler
	server     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects the capture source instead of opening the configured one
// in Run. The app does not close an injected source.
func WithSource(src audio.Source) Option {
	return func(a *App) { a.source = src }
}

// WithSourceOpener replaces how Run opens the configured mic or WAV source.
// Run closes each source it opens when it returns.
func WithSourceOpener(open func(ctx context.Context) (audio.Source, error)) Option {
	return func(a *App) { a.openSrc = open }
}

// WithSink injects the playback sink instead of opening the configured one.
func WithSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithClassifier injects the frame classifier instead of building one from
// the segmenter config.
func WithClassifier(c vad.Classifier) Option {
	return func(a *App) { a.classifier = c }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.ApplyConfig] change the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (see [BuildProviders]). New takes ownership of the
// provider closers.
//
// New does not open the capture source; Run does.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		format:    audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels},
		frameDur:  time.Duration(cfg.Audio.FrameMS) * time.Millisecond,
		ready:     &health.Flag{},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	for _, c := range providers.Closers {
		a.closers = append(a.closers, c.Close)
	}

	fail := func(stage string, err error) (*App, error) {
		a.closeAll()
		return nil, fmt.Errorf("app: %s: %w", stage, err)
	}

	// ── 1. Classifier ───────────────────────────────────────────────────
	if err := a.initClassifier(); err != nil {
		return fail("init classifier", err)
	}

	// ── 2. Responder + synthesizer ──────────────────────────────────────
	responder, err := respond.New(cfg.Responder.Kind, respond.Config{
		Replies:       cfg.Responder.Replies,
		LLM:           providers.LLM,
		SystemPrompt:  cfg.Responder.SystemPrompt,
		FallbackReply: cfg.Responder.FallbackReply,
	})
	if err != nil {
		return fail("init responder", err)
	}
	voice := tts.VoiceProfile{
		ID:          cfg.Voice.ID,
		Language:    cfg.Voice.Language,
		SpeedFactor: cfg.Voice.Speed,
	}
	synthesizer := synth.New(providers.TTS, voice)

	// ── 3. Sink ─────────────────────────────────────────────────────────
	if err := a.initSink(ctx); err != nil {
		return fail("init sink", err)
	}

	// ── 4. Pipeline ─────────────────────────────────────────────────────
	popts, err := a.pipelineOptions()
	if err != nil {
		return fail("init pipeline", err)
	}
	a.pipeline = pipeline.New(a.classifier, providers.STT, responder, synthesizer, a.sink, popts...)
	a.capture = NewCapture(a.pipeline, a.ready)

	// Uploads are answered with an echo over their own history, independent
	// of the live session's responder and turn count.
	if cfg.Upload.Enabled {
		uopts := []pipeline.Option{
			pipeline.WithMetrics(a.metrics),
			pipeline.WithSourceName("upload"),
		}
		if c := newCorrector(cfg.Pipeline.Vocabulary); c != nil {
			uopts = append(uopts, pipeline.WithVocabulary(c))
		}
		a.uploads = pipeline.New(a.classifier, providers.STT, respond.Echo{}, synthesizer, nil, uopts...)
	}

	// ── 5. HTTP surface ─────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initClassifier() error {
	if a.classifier != nil {
		return nil
	}
	seg := a.cfg.Segmenter
	var (
		cls vad.Classifier
		err error
	)
	switch seg.Classifier {
	case config.ClassifierSilero:
		cls, err = silero.New(seg.SileroModel, a.format.SampleRate, seg.SileroThreshold)
	default:
		cls, err = energy.New(seg.EnergyThreshold)
	}
	if err != nil {
		return err
	}
	a.classifier = cls
	a.closers = append(a.closers, cls.Close)
	slog.Info("classifier ready", "kind", seg.Classifier)
	return nil
}

func (a *App) initSink(ctx context.Context) error {
	if a.sink != nil {
		return nil
	}
	var sink audio.Sink
	switch a.cfg.Sink.Kind {
	case config.SinkWAV:
		s, err := wavfile.NewSink(a.cfg.Sink.Path)
		if err != nil {
			return err
		}
		sink = s
	case config.SinkSpeaker:
		s, err := portaudio.NewSink()
		if err != nil {
			return err
		}
		sink = s
	case config.SinkLiveKit:
		room, err := a.joinRoom(ctx)
		if err != nil {
			return err
		}
		a.sink = room
		return nil
	default:
		sink = audio.DiscardSink{}
	}
	a.sink = sink
	a.closers = append(a.closers, sink.Close)
	return nil
}

// joinRoom connects to LiveKit once; the room serves as both source and sink.
func (a *App) joinRoom(ctx context.Context) (*livekit.Room, error) {
	if a.room != nil {
		return a.room, nil
	}
	lk := a.cfg.LiveKit
	room, err := livekit.Join(ctx, livekit.Config{
		URL:       lk.URL,
		Room:      lk.Room,
		Identity:  lk.Identity,
		APIKey:    lk.APIKey,
		APISecret: lk.APISecret,
		Token:     lk.Token,
	},
		livekit.WithCaptureFormat(a.format, a.frameDur),
		livekit.WithReconnect(lk.ReconnectAttempts, lk.ReconnectBackoff),
	)
	if err != nil {
		return nil, err
	}
	a.room = room
	a.closers = append(a.closers, room.Close)
	return room, nil
}

func (a *App) pipelineOptions() ([]pipeline.Option, error) {
	pc := a.cfg.Pipeline
	opts := []pipeline.Option{
		pipeline.WithQueueSize(pc.QueueSize),
		pipeline.WithHalfDuplex(pc.HalfDuplexEnabled()),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithSourceName(string(a.cfg.Source.Kind)),
		pipeline.WithSegmentOptions(
			segment.WithSilenceFrames(a.cfg.Segmenter.SilenceFrames),
			segment.WithMaxFrames(a.cfg.Segmenter.MaxFrames),
			segment.WithMetrics(a.metrics),
		),
	}
	if c := newCorrector(pc.Vocabulary); c != nil {
		opts = append(opts, pipeline.WithVocabulary(c))
	}
	if pc.TranscriptPath != "" {
		w, err := transcript.Create(pc.TranscriptPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, w.Close)
		opts = append(opts, pipeline.WithTranscript(w))
	}

	host, _ := os.Hostname()
	pub := events.New(events.Config{
		Brokers: a.cfg.Events.Brokers,
		Topic:   a.cfg.Events.Topic,
		Source:  host,
	}, a.metrics)
	a.closers = append(a.closers, pub.Close)
	opts = append(opts, pipeline.WithEvents(pub))
	return opts, nil
}

func newCorrector(terms []string) *vocab.Corrector {
	if len(terms) == 0 {
		return nil
	}
	c := vocab.New(terms)
	if c.Len() == 0 {
		return nil
	}
	return c
}

// initHTTP builds the handler tree. The server itself only exists when a
// listen address is configured.
func (a *App) initHTTP() {
	mux := http.NewServeMux()

	a.health = health.New(a.ready.Checker("capture"))
	a.health.Add(a.providers.Checks...)
	a.health.Register(mux)

	mux.Handle("GET /metrics", observe.Handler())

	if up := a.cfg.Upload; up.Enabled {
		upload.NewHandler(a.uploads, upload.Config{
			RatePerSec: up.RatePerSec,
			Burst:      up.Burst,
			MaxBytes:   up.MaxBytes,
		}).Register(mux)
	}

	a.handler = observe.Middleware(a.metrics)(mux)
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		a.server = &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Pipeline returns the turn pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Capture returns the capture session manager.
func (a *App) Capture() *Capture { return a.capture }

// Handler returns the HTTP handler served on the listen address.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run opens the configured source, starts the HTTP server if one is
// configured, and captures until the source ends or ctx is cancelled.
//
// Run returns nil when a finite source is exhausted and ctx.Err() on
// cancellation. A source or server failure stops both and is returned.
func (a *App) Run(ctx context.Context) error {
	src, release, err := a.openSource(ctx)
	if err != nil {
		return fmt.Errorf("app: open source: %w", err)
	}
	defer release()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if a.server != nil {
		g.Go(func() error {
			slog.Info("http server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer scancel()
			return a.server.Shutdown(sctx)
		})
	}

	if err := a.capture.Start(gctx, string(a.cfg.Source.Kind), src); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	done := a.capture.Done()
	g.Go(func() error {
		<-done
		cancel()
		return a.capture.Err()
	})

	slog.Info("app running", "source", a.cfg.Source.Kind, "sink", a.cfg.Sink.Kind)
	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// openSource returns the capture source for one Run together with the
// function that releases it. Injected sources and the LiveKit room outlive
// Run, so their release is a no-op.
func (a *App) openSource(ctx context.Context) (audio.Source, func(), error) {
	keep := func() {}
	if a.source != nil {
		return a.source, keep, nil
	}
	if a.cfg.Source.Kind == config.SourceLiveKit {
		room, err := a.joinRoom(ctx)
		if err != nil {
			return nil, nil, err
		}
		return room, keep, nil
	}

	open := a.openSrc
	if open == nil {
		open = a.openDevice
	}
	src, err := open(ctx)
	if err != nil {
		return nil, nil, err
	}
	return src, func() {
		if err := src.Close(); err != nil {
			slog.Warn("source close error", "source", a.cfg.Source.Kind, "err", err)
		}
	}, nil
}

// openDevice opens the configured WAV file or microphone.
func (a *App) openDevice(context.Context) (audio.Source, error) {
	if a.cfg.Source.Kind == config.SourceWAV {
		return wavfile.Open(a.cfg.Source.Path, a.format, a.frameDur)
	}
	return portaudio.Open(a.format, a.frameDur)
}

// ProcessFile answers every utterance in the WAV file at path, playing each
// reply to the sink, and returns the completed turns.
func (a *App) ProcessFile(ctx context.Context, path string) ([]pipeline.Result, error) {
	src, err := wavfile.Open(path, a.format, a.frameDur)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	defer src.Close()
	return a.pipeline.ProcessFile(ctx, src)
}

// ListVoices returns the voices offered by the TTS providers.
func (a *App) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return a.providers.TTS.ListVoices(ctx)
}

// ApplyConfig applies the hot-reloadable parts of a changed config and logs
// the sections that need a restart. It is meant as a [config.Watcher]
// callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("config: log level changed", "level", d.NewLogLevel)
	}
	if d.VocabularyChanged {
		c := newCorrector(d.NewVocabulary)
		a.pipeline.SetVocabulary(c)
		if a.uploads != nil {
			a.uploads.SetVocabulary(c)
		}
		slog.Info("config: vocabulary reloaded", "terms", len(d.NewVocabulary))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config: changes take effect after restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops capture and tears down all subsystems in init order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.capture != nil && a.capture.IsActive() {
			if err := a.capture.Stop(ctx); err != nil {
				slog.Warn("capture stop error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New managed to build before failing.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}
