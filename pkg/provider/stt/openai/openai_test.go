package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/stt/openai"
)

// newFakeServer answers POST /audio/transcriptions with body and records the
// form fields of every request.
func newFakeServer(t *testing.T, body any) (*httptest.Server, func() []map[string]string) {
	t.Helper()
	var (
		mu    sync.Mutex
		forms []map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		form := map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		if _, hdr, err := r.FormFile("file"); err == nil {
			form["filename"] = hdr.Filename
		}
		mu.Lock()
		forms = append(forms, form)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []map[string]string {
		mu.Lock()
		defer mu.Unlock()
		return append([]map[string]string(nil), forms...)
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := openai.New("", ""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestTranscribe_VerboseSegments(t *testing.T) {
	srv, forms := newFakeServer(t, map[string]any{
		"text":     " hello world ",
		"language": "english",
		"segments": []map[string]any{
			{"id": 0, "start": 0.0, "end": 1.25, "text": " hello world"},
		},
	})
	p, err := openai.New("sk-test", "", openai.WithBaseURL(srv.URL), openai.WithLanguage("en"), openai.WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Transcribe(context.Background(), make([]byte, 3200), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q", res.Text)
	}
	if len(res.Segments) != 1 || res.Segments[0].End != 1250*time.Millisecond {
		t.Errorf("segments = %+v", res.Segments)
	}

	got := forms()
	if len(got) != 1 {
		t.Fatalf("server saw %d requests", len(got))
	}
	want := map[string]string{
		"model":           "whisper-1",
		"response_format": "verbose_json",
		"language":        "en",
		"filename":        "utterance.wav",
	}
	for k, v := range want {
		if got[0][k] != v {
			t.Errorf("form %s = %q, want %q", k, got[0][k], v)
		}
	}
}

func TestTranscribe_TextOnlyModel(t *testing.T) {
	srv, forms := newFakeServer(t, map[string]any{"text": "ok"})
	p, _ := openai.New("sk-test", "gpt-4o-mini-transcribe", openai.WithBaseURL(srv.URL))

	res, err := p.Transcribe(context.Background(), make([]byte, 320), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "ok" || res.Segments != nil {
		t.Errorf("result = %+v", res)
	}
	if f := forms()[0]; f["response_format"] != "" {
		t.Errorf("response_format = %q, want unset", f["response_format"])
	}
}

func TestTranscribe_EmptyPCM(t *testing.T) {
	srv, forms := newFakeServer(t, map[string]any{"text": "x"})
	p, _ := openai.New("sk-test", "", openai.WithBaseURL(srv.URL))

	res, err := p.Transcribe(context.Background(), nil, 16000)
	if err != nil || !res.Empty() {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
	if len(forms()) != 0 {
		t.Fatal("server should not be called for empty audio")
	}
}

func TestTranscribe_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad audio","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()
	p, _ := openai.New("sk-test", "", openai.WithBaseURL(srv.URL))

	if _, err := p.Transcribe(context.Background(), make([]byte, 320), 16000); err == nil {
		t.Fatal("expected error")
	}
}
