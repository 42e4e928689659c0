package app_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/history"
	"github.com/MrWong99/earshot/pkg/audio"
	audiomock "github.com/MrWong99/earshot/pkg/audio/mock"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	ttsmock "github.com/MrWong99/earshot/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/earshot/pkg/provider/vad/mock"
)

// testConfig returns a defaulted config that never touches a device.
func testConfig() *config.Config {
	cfg := &config.Config{
		Source:    config.SourceConfig{Kind: config.SourceWAV, Path: "unused.wav"},
		Sink:      config.SinkConfig{Kind: config.SinkDiscard},
		Segmenter: config.SegmenterConfig{SilenceFrames: 3},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

// testProviders returns providers with a scripted transcriber and TTS.
func testProviders(text string) *app.Providers {
	return &app.Providers{
		STT: &sttmock.Transcriber{Default: stt.Result{Text: text}},
		TTS: &ttsmock.Provider{
			Audio: tts.Audio{PCM: audio.Bytes([]int16{0, 1000, -2000, 500}), SampleRate: 22050},
			ListVoicesResult: []tts.VoiceProfile{
				{ID: "p225", Name: "VCTK p225"},
			},
		},
	}
}

func frames(n int) []audio.Frame {
	size := audio.DefaultFormat.FrameBytes(audio.DefaultFrameDuration)
	out := make([]audio.Frame, n)
	for i := range out {
		out[i] = audio.Frame{
			Data:       make([]byte, size),
			SampleRate: audio.DefaultFormat.SampleRate,
			Channels:   1,
			Index:      i,
			Timestamp:  time.Duration(i) * audio.DefaultFrameDuration,
		}
	}
	return out
}

// speechAt answers speech for frames 2 through 8 of a 20-frame stream.
func speechAt() *vadmock.Classifier {
	return vadmock.Pattern(20, func(i int) bool { return i >= 2 && i <= 8 })
}

type countingCloser struct{ n atomic.Int32 }

func (c *countingCloser) Close() error {
	c.n.Add(1)
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

func TestApp_RunFiniteSource(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Pipeline.TranscriptPath = filepath.Join(t.TempDir(), "transcript.txt")
	sink := &audiomock.Sink{}

	application, err := app.New(context.Background(), cfg, testProviders("hello there"),
		app.WithSource(&audiomock.Source{Frames: frames(20)}),
		app.WithSink(sink),
		app.WithClassifier(speechAt()),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- application.Run(context.Background()) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() = %v, want nil when the source ends", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after the source ended")
	}

	if got := len(sink.Clips()); got != 1 {
		t.Errorf("sink clips = %d, want 1", got)
	}
	if application.Capture().IsActive() {
		t.Error("capture still active after Run returned")
	}

	if err := application.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	data, err := os.ReadFile(cfg.Pipeline.TranscriptPath)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if !strings.Contains(string(data), "hello there") {
		t.Errorf("transcript = %q, want the recognised text", data)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders("hi"),
		app.WithSource(&audiomock.Source{Block: true}),
		app.WithSink(&audiomock.Sink{}),
		app.WithClassifier(&vadmock.Classifier{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- application.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !application.Capture().IsActive() {
		if time.Now().After(deadline) {
			t.Fatal("capture never became active")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if info := application.Capture().Info(); info.Source != string(config.SourceWAV) || info.ID == "" {
		t.Errorf("Info() = %+v", info)
	}

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestApp_RunSourceError(t *testing.T) {
	t.Parallel()

	errMic := errors.New("device unplugged")
	application, err := app.New(context.Background(), testConfig(), testProviders("hi"),
		app.WithSource(&audiomock.Source{ReadErr: errMic}),
		app.WithSink(&audiomock.Sink{}),
		app.WithClassifier(&vadmock.Classifier{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := application.Run(context.Background()); !errors.Is(err, errMic) {
		t.Errorf("Run() = %v, want %v", err, errMic)
	}
}

func TestApp_RunClosesOpenedSource(t *testing.T) {
	t.Parallel()

	var opened []*audiomock.Source
	application, err := app.New(context.Background(), testConfig(), testProviders("hi"),
		app.WithSourceOpener(func(context.Context) (audio.Source, error) {
			src := &audiomock.Source{Frames: frames(5)}
			opened = append(opened, src)
			return src, nil
		}),
		app.WithSink(&audiomock.Sink{}),
		app.WithClassifier(&vadmock.Classifier{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	for i := range 2 {
		if err := application.Run(context.Background()); err != nil {
			t.Fatalf("Run() #%d error: %v", i+1, err)
		}
		if got := opened[i].CloseCalls(); got != 1 {
			t.Errorf("source #%d closed %d times after Run, want 1", i+1, got)
		}
	}
	if err := application.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	for i, src := range opened {
		if got := src.CloseCalls(); got != 1 {
			t.Errorf("source #%d closed %d times after Shutdown, want 1", i+1, got)
		}
	}
}

func TestApp_RunLeavesInjectedSourceOpen(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Frames: frames(5)}
	application, err := app.New(context.Background(), testConfig(), testProviders("hi"),
		app.WithSource(src),
		app.WithSink(&audiomock.Sink{}),
		app.WithClassifier(&vadmock.Classifier{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := application.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	_ = application.Shutdown(context.Background())
	if got := src.CloseCalls(); got != 0 {
		t.Errorf("injected source closed %d times, want 0", got)
	}
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

func TestApp_HandlerRoutes(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Upload.Enabled = true
	application, err := app.New(context.Background(), cfg, testProviders("hi"),
		app.WithSink(&audiomock.Sink{}),
		app.WithClassifier(&vadmock.Classifier{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	h := application.Handler()

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{"GET", "/healthz", http.StatusOK},
		// Capture has not started yet.
		{"GET", "/readyz", http.StatusServiceUnavailable},
		{"GET", "/metrics", http.StatusOK},
		{"GET", "/upload-audio", http.StatusMethodNotAllowed},
		{"GET", "/nope", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.method+tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestApp_UploadRepliesWithEcho(t *testing.T) {
	t.Parallel()

	// The live session uses the round-robin responder and already has
	// turns; the upload reply must not depend on either.
	cfg := testConfig()
	cfg.Upload.Enabled = true
	providers := testProviders("book a table")
	application, err := app.New(context.Background(), cfg, providers,
		app.WithSink(&audiomock.Sink{}),
		app.WithClassifier(&vadmock.Classifier{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	application.Pipeline().History().Append(history.Turn{Transcript: "earlier", Reply: "reply"})

	for range 2 {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("file", "question.wav")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(audio.EncodeWAV(make([]byte, 3200), audio.DefaultFormat)); err != nil {
			t.Fatal(err)
		}
		if err := mw.Close(); err != nil {
			t.Fatal(err)
		}
		req := httptest.NewRequest("POST", "/upload-audio", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		application.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
	}

	tp := providers.TTS.(*ttsmock.Provider)
	calls := tp.SynthesizeCalls()
	if len(calls) != 2 {
		t.Fatalf("synthesize calls = %d, want 2", len(calls))
	}
	for i, c := range calls {
		if c.Text != "You said: book a table" {
			t.Errorf("upload %d reply = %q, want the echo", i, c.Text)
		}
	}
	if n := application.Pipeline().History().Len(); n != 1 {
		t.Errorf("live history len = %d, want 1", n)
	}
}

func TestApp_UploadDisabled(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders("hi"),
		app.WithSink(&audiomock.Sink{}),
		app.WithClassifier(&vadmock.Classifier{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	rec := httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/upload-audio", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()

	lv := new(slog.LevelVar)
	old := testConfig()
	application, err := app.New(context.Background(), old, testProviders("can you join live kit now"),
		app.WithSink(&audiomock.Sink{}),
		app.WithClassifier(&vadmock.Classifier{}),
		app.WithLogLevel(lv),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	clip := audio.Clip{PCM: make([]byte, 3200), Format: audio.DefaultFormat}
	res, err := application.Pipeline().Answer(context.Background(), clip)
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if res.Transcript != "can you join live kit now" {
		t.Fatalf("transcript before reload = %q", res.Transcript)
	}

	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug
	updated.Pipeline.Vocabulary = []string{"LiveKit"}
	application.ApplyConfig(old, updated)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", lv.Level())
	}
	res, err = application.Pipeline().Answer(context.Background(), clip)
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if res.Transcript != "can you join LiveKit now" {
		t.Errorf("transcript after reload = %q", res.Transcript)
	}
}

const reloadYAML = `
server:
  log_level: %s
source: {kind: wav, path: unused.wav}
sink: {kind: discard}
providers:
  stt: [{name: whisper}]
  tts: [{name: coqui}]
pipeline:
  vocabulary: [%s]
`

func TestApp_WatcherHotReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "earshot.yaml")
	if err := os.WriteFile(path, []byte(fmt.Sprintf(reloadYAML, "info", "Kubernetes")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	lv := new(slog.LevelVar)
	application, err := app.New(context.Background(), cfg, testProviders("can you join live kit now"),
		app.WithSink(&audiomock.Sink{}),
		app.WithClassifier(&vadmock.Classifier{}),
		app.WithLogLevel(lv),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = application.Shutdown(context.Background()) })

	w, err := config.NewWatcher(path, application.ApplyConfig, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	t.Cleanup(w.Stop)

	if err := os.WriteFile(path, []byte(fmt.Sprintf(reloadYAML, "debug", "LiveKit")), 0o644); err != nil {
		t.Fatal(err)
	}
	w.Reload()

	clip := audio.Clip{PCM: make([]byte, 3200), Format: audio.DefaultFormat}
	deadline := time.Now().Add(2 * time.Second)
	for w.Reloads() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("config was not reloaded")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Reloads is bumped before apply runs; Stop waits for it to return.
	w.Stop()

	if lv.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", lv.Level())
	}
	res, err := application.Pipeline().Answer(context.Background(), clip)
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if res.Transcript != "can you join LiveKit now" {
		t.Errorf("transcript after reload = %q", res.Transcript)
	}
}

// ─── File mode ───────────────────────────────────────────────────────────────

func TestApp_ProcessFile(t *testing.T) {
	t.Parallel()

	var pcm []byte
	for _, f := range frames(20) {
		pcm = append(pcm, f.Data...)
	}
	path := filepath.Join(t.TempDir(), "input.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(pcm, audio.DefaultFormat), 0o644); err != nil {
		t.Fatal(err)
	}

	sink := &audiomock.Sink{}
	application, err := app.New(context.Background(), testConfig(), testProviders("what time is it"),
		app.WithSink(sink),
		app.WithClassifier(speechAt()),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	results, err := application.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile() error: %v", err)
	}
	if len(results) != 1 || results[0].Transcript != "what time is it" {
		t.Fatalf("results = %+v", results)
	}
	if got := len(sink.Clips()); got != 1 {
		t.Errorf("sink clips = %d, want 1", got)
	}

	if _, err := application.ProcessFile(context.Background(), filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApp_ListVoices(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders("hi"),
		app.WithSink(&audiomock.Sink{}),
		app.WithClassifier(&vadmock.Classifier{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	voices, err := application.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices() error: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "p225" {
		t.Errorf("voices = %+v", voices)
	}
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

func TestNew_ResponderErrorReleasesProviders(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Responder.Kind = "llm"
	closer := &countingCloser{}
	providers := testProviders("hi")
	providers.Closers = []io.Closer{closer}

	if _, err := app.New(context.Background(), cfg, providers,
		app.WithSink(&audiomock.Sink{}),
		app.WithClassifier(&vadmock.Classifier{}),
	); err == nil {
		t.Fatal("expected error for llm responder without an LLM")
	}
	if got := closer.n.Load(); got != 1 {
		t.Errorf("provider closed %d times, want 1", got)
	}
}

func TestApp_ShutdownClosesProvidersOnce(t *testing.T) {
	t.Parallel()

	closer := &countingCloser{}
	providers := testProviders("hi")
	providers.Closers = []io.Closer{closer}

	application, err := app.New(context.Background(), testConfig(), providers,
		app.WithSink(&audiomock.Sink{}),
		app.WithClassifier(&vadmock.Classifier{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
	if got := closer.n.Load(); got != 1 {
		t.Errorf("provider closed %d times, want 1", got)
	}
}

func TestApp_ShutdownDeadline(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders("hi"),
		app.WithSink(&audiomock.Sink{}),
		app.WithClassifier(&vadmock.Classifier{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := application.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown() = %v, want context.Canceled", err)
	}
}
