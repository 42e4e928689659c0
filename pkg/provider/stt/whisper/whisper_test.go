package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// capturedRequest holds the multipart fields the mock server received.
type capturedRequest struct {
	Fields map[string]string
	WAV    []byte
}

// newMockServer creates a test server that answers POST /inference with body
// and records each request's form.
func newMockServer(t *testing.T, body any) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cr := capturedRequest{Fields: map[string]string{}}
		for k, v := range r.MultipartForm.Value {
			cr.Fields[k] = v[0]
		}
		if f, _, err := r.FormFile("file"); err == nil {
			cr.WAV, _ = io.ReadAll(f)
			f.Close()
		}
		mu.Lock()
		reqs = append(reqs, cr)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

// makeSpeechPCM generates a 440 Hz sine wave of `samples` 16-bit samples at
// 16 kHz.
func makeSpeechPCM(samples int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// makeSilencePCM generates `samples` zero-valued 16-bit samples.
func makeSilencePCM(samples int) []byte {
	return make([]byte, samples*2)
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	p, err := whisper.New("http://localhost:8080",
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
		whisper.WithHTTPClient(&http.Client{Timeout: time.Second}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_VerboseJSON(t *testing.T) {
	srv, requests := newMockServer(t, map[string]any{
		"text":     "  hello there  ",
		"language": "en",
		"segments": []map[string]any{
			{"start": 0.0, "end": 0.8, "text": " hello"},
			{"start": 0.8, "end": 1.5, "text": " there"},
		},
	})

	p, _ := whisper.New(srv.URL+"/", whisper.WithLanguage("en"), whisper.WithModel("base.en"))
	pcm := makeSpeechPCM(1600)
	res, err := p.Transcribe(context.Background(), pcm, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if res.Text != "hello there" {
		t.Errorf("Text = %q, want %q", res.Text, "hello there")
	}
	if len(res.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(res.Segments))
	}
	if res.Segments[1].Start != 800*time.Millisecond || res.Segments[1].End != 1500*time.Millisecond {
		t.Errorf("segment 1 = %v..%v", res.Segments[1].Start, res.Segments[1].End)
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("server saw %d requests, want 1", len(reqs))
	}
	got := reqs[0]
	for k, want := range map[string]string{
		"response_format": "verbose_json",
		"language":        "en",
		"model":           "base.en",
	} {
		if got.Fields[k] != want {
			t.Errorf("field %s = %q, want %q", k, got.Fields[k], want)
		}
	}
	clip, err := audio.DecodeWAV(got.WAV)
	if err != nil {
		t.Fatalf("uploaded file is not a WAV: %v", err)
	}
	if clip.Format != audio.DefaultFormat || len(clip.PCM) != len(pcm) {
		t.Errorf("uploaded clip %v with %d bytes", clip.Format, len(clip.PCM))
	}
}

func TestTranscribe_TextFromSegments(t *testing.T) {
	srv, _ := newMockServer(t, map[string]any{
		"segments": []map[string]any{
			{"start": 0.0, "end": 0.5, "text": "book"},
			{"start": 0.5, "end": 0.9, "text": "  "},
			{"start": 0.9, "end": 1.2, "text": "a table"},
		},
	})
	p, _ := whisper.New(srv.URL)

	res, err := p.Transcribe(context.Background(), makeSpeechPCM(160), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "book a table" || len(res.Segments) != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestTranscribe_BlankTextIsEmpty(t *testing.T) {
	srv, _ := newMockServer(t, map[string]string{"text": "   \n"})
	p, _ := whisper.New(srv.URL)

	res, err := p.Transcribe(context.Background(), makeSilencePCM(1600), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !res.Empty() {
		t.Fatalf("Text = %q, want empty", res.Text)
	}
}

func TestTranscribe_EmptyPCMSkipsServer(t *testing.T) {
	srv, requests := newMockServer(t, map[string]string{"text": "x"})
	p, _ := whisper.New(srv.URL)

	res, err := p.Transcribe(context.Background(), nil, 16000)
	if err != nil || !res.Empty() {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
	if n := len(requests()); n != 0 {
		t.Fatalf("server saw %d requests, want 0", n)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), makeSpeechPCM(160), 16000)
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("error %q should carry status and body", err)
	}
}

func TestTranscribe_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()
	p, _ := whisper.New(srv.URL)

	if _, err := p.Transcribe(context.Background(), makeSpeechPCM(160), 16000); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	srv, _ := newMockServer(t, map[string]string{"text": "x"})
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, makeSpeechPCM(160), 16000); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	p, _ := whisper.New(srv.URL)
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping against a live server: %v", err)
	}
	srv.Close()
	if err := p.Ping(context.Background()); err == nil {
		t.Fatal("Ping against a closed server should fail")
	}
}
