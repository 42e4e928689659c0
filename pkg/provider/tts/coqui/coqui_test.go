package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/tts"
)

// ---- test helpers ----

// wavFor returns a 22050 Hz mono WAV whose PCM is n copies of b.
func wavFor(b byte, n int) []byte {
	return audio.EncodeWAV(bytes.Repeat([]byte{b}, n), audio.Format{SampleRate: 22050, Channels: 1})
}

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return p
}

// ---- Provider creation ----

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5002")
		if p.language != defaultLanguage {
			t.Errorf("language = %q, want %q", p.language, defaultLanguage)
		}
		if p.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, defaultTimeout)
		}
		if p.apiMode != APIModeStandard {
			t.Errorf("apiMode = %q, want %q", p.apiMode, APIModeStandard)
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5002/")
		if p.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want trailing slash stripped", p.serverURL)
		}
	})

	t.Run("empty URL returns error", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Fatal("expected error for empty URL, got nil")
		}
	})

	t.Run("unknown mode returns error", func(t *testing.T) {
		if _, err := New("http://localhost:5002", WithAPIMode("tortoise")); err == nil {
			t.Fatal("expected error for unknown API mode, got nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		p := mustNew(t, "http://localhost:8002",
			WithLanguage("de"),
			WithTimeout(5*time.Second),
			WithAPIMode(APIModeXTTS),
		)
		if p.language != "de" || p.httpClient.Timeout != 5*time.Second || p.apiMode != APIModeXTTS {
			t.Errorf("options not applied: %+v", p)
		}
	})
}

// ---- Synthesize ----

func TestSynthesize_EmptyVoiceID_XTTS(t *testing.T) {
	p := mustNew(t, "http://localhost:8002", WithAPIMode(APIModeXTTS))
	if _, err := p.Synthesize(context.Background(), "Hi.", tts.VoiceProfile{}); err == nil {
		t.Fatal("expected error for empty voice ID in XTTS mode")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p := mustNew(t, "http://127.0.0.1:1")
	a, err := p.Synthesize(context.Background(), "   ", tts.VoiceProfile{ID: "p225"})
	if err != nil || len(a.PCM) != 0 {
		t.Fatalf("Synthesize(blank) = %d bytes, %v", len(a.PCM), err)
	}
}

func TestSynthesize_StandardAPI(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		queries []url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		queries = append(queries, r.URL.Query())
		mu.Unlock()
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavFor(0x33, 80))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithLanguage("en"))
	a, err := p.Synthesize(context.Background(), "Hello world.", tts.VoiceProfile{ID: "p225"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if a.SampleRate != 22050 || len(a.PCM) != 80 {
		t.Errorf("audio = %d bytes at %d Hz, want 80 at 22050", len(a.PCM), a.SampleRate)
	}

	if len(queries) != 1 {
		t.Fatalf("server received %d requests, want 1", len(queries))
	}
	q := queries[0]
	for k, want := range map[string]string{"text": "Hello world.", "speaker_id": "p225", "language_id": "en"} {
		if got := q.Get(k); got != want {
			t.Errorf("query %s = %q, want %q", k, got, want)
		}
	}
}

func TestSynthesize_VoiceLanguageOverrides(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("language_id")
		_, _ = w.Write(wavFor(0, 4))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithLanguage("en"))
	if _, err := p.Synthesize(context.Background(), "Hallo.", tts.VoiceProfile{ID: "x", Language: "de"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got != "de" {
		t.Errorf("language_id = %q, want de", got)
	}
}

// TestSynthesize_SentenceOrder checks that sentences are requested separately
// and stitched back in order even when the server answers out of order.
func TestSynthesize_SentenceOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req ttsRequest
		_ = json.Unmarshal(body, &req)

		// The first sentence is the slowest.
		var b byte
		switch req.Text {
		case "One.":
			time.Sleep(50 * time.Millisecond)
			b = 1
		case "Two!":
			b = 2
		case "Three?":
			b = 3
		default:
			http.Error(w, "unexpected sentence "+req.Text, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavFor(b, 4))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	a, err := p.Synthesize(context.Background(), "One. Two! Three?", tts.VoiceProfile{ID: "spk"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	want := []byte{1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3}
	if !bytes.Equal(a.PCM, want) {
		t.Errorf("PCM = %v, want %v", a.PCM, want)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	_, err := p.Synthesize(context.Background(), "Hello.", tts.VoiceProfile{ID: "p225"})
	if err == nil {
		t.Fatal("expected error on server failure")
	}
	if !strings.Contains(err.Error(), "coqui:") || !strings.Contains(err.Error(), "500") {
		t.Errorf("error %q should carry prefix and status", err)
	}
}

func TestSynthesize_InvalidWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("definitely not a wav file"))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	if _, err := p.Synthesize(context.Background(), "Hello.", tts.VoiceProfile{ID: "p225"}); err == nil {
		t.Fatal("expected error for invalid WAV body")
	}
}

func TestSynthesize_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Synthesize(ctx, "Hello.", tts.VoiceProfile{ID: "p225"}); err == nil {
		t.Fatal("expected error on context timeout")
	}
}

// ---- sentence splitting ----

func TestFindSentenceBoundary(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"period at end", "Hello.", 5},
		{"period space", "Hello. World", 5},
		{"exclamation", "Hello!", 5},
		{"question", "Hello?", 5},
		{"no boundary", "Hello", -1},
		{"abbreviation mid", "Dr. Smith", 2},
		{"decimal", "3.14 is pi", -1},
		{"empty", "", -1},
		{"multiple", "First. Second.", 5},
		{"question mid", "How? Great!", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findSentenceBoundary(tt.input); got != tt.want {
				t.Errorf("findSentenceBoundary(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitSentences(t *testing.T) {
	tests := map[string][]string{
		"Hello world. Are you there?": {"Hello world.", "Are you there?"},
		"no terminator":               {"no terminator"},
		"Pi is 3.14. Done":            {"Pi is 3.14.", "Done"},
		"  ":                          nil,
		"Wait... what?":               {"Wait...", "what?"},
	}
	for in, want := range tests {
		got := splitSentences(in)
		if len(got) != len(want) {
			t.Errorf("splitSentences(%q) = %q, want %q", in, got, want)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("splitSentences(%q) = %q, want %q", in, got, want)
				break
			}
		}
	}
}

// ---- ListVoices ----

func TestListVoices_XTTS(t *testing.T) {
	data, _ := json.Marshal(map[string]any{
		"speaker_bob":   map[string]any{"type": "studio"},
		"speaker_alice": map[string]any{"type": "studio"},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != studioSpeakersEndpoint {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[0].ID != "speaker_alice" || voices[1].ID != "speaker_bob" {
		t.Fatalf("voices = %+v, want alice then bob", voices)
	}
	for _, v := range voices {
		if v.Provider != "coqui" || v.Metadata["type"] != "studio" {
			t.Errorf("voice %+v", v)
		}
	}
}

func TestListVoices_Standard(t *testing.T) {
	t.Parallel()

	serve := func(t *testing.T, d detailsResponse) *httptest.Server {
		data, _ := json.Marshal(d)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != detailsEndpoint {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(data)
		}))
		t.Cleanup(srv.Close)
		return srv
	}

	t.Run("multi-speaker model", func(t *testing.T) {
		t.Parallel()
		srv := serve(t, detailsResponse{
			ModelName: "tts_models/en/vctk/vits",
			Language:  "en",
			Speakers:  []string{"p227", "p225", "p226"},
		})
		voices, err := mustNew(t, srv.URL).ListVoices(context.Background())
		if err != nil {
			t.Fatalf("ListVoices: %v", err)
		}
		wantIDs := []string{"p225", "p226", "p227"}
		if len(voices) != len(wantIDs) {
			t.Fatalf("got %d voices, want 3", len(voices))
		}
		for i, v := range voices {
			if v.ID != wantIDs[i] || v.Metadata["type"] != "speaker" || v.Language != "en" {
				t.Errorf("voices[%d] = %+v", i, v)
			}
		}
	})

	t.Run("single-speaker model", func(t *testing.T) {
		t.Parallel()
		srv := serve(t, detailsResponse{ModelName: "tts_models/en/ljspeech/vits"})
		voices, err := mustNew(t, srv.URL).ListVoices(context.Background())
		if err != nil {
			t.Fatalf("ListVoices: %v", err)
		}
		if len(voices) != 1 || voices[0].ID != "tts_models/en/ljspeech/vits" || voices[0].Metadata["type"] != "single-speaker" {
			t.Errorf("voices = %+v", voices)
		}
	})
}

func TestListVoices_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := mustNew(t, srv.URL).ListVoices(context.Background())
	if err == nil {
		t.Fatal("expected error on server failure, got nil")
	}
	if !strings.Contains(err.Error(), "coqui:") {
		t.Errorf("error %q missing 'coqui:' prefix", err.Error())
	}
}
