package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/pkg/audio"
)

var errTest = errors.New("test error")

type fakeAnswerer struct {
	mu    sync.Mutex
	res   pipeline.Result
	err   error
	clips []audio.Clip
}

func (f *fakeAnswerer) Answer(_ context.Context, clip audio.Clip) (pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clips = append(f.clips, clip)
	return f.res, f.err
}

func completed() pipeline.Result {
	return pipeline.Result{
		Outcome:    observe.OutcomeCompleted,
		Transcript: "hello",
		Reply:      "You said: hello",
		Clip: audio.Clip{
			PCM:    audio.Bytes([]int16{100, -100, 200}),
			Format: audio.Format{SampleRate: 22050, Channels: 1},
		},
	}
}

func wavBytes() []byte {
	return audio.EncodeWAV(make([]byte, 3200), audio.DefaultFormat)
}

// multipartBody builds a form with one part. filename nil means a plain
// field without a filename parameter.
func multipartBody(t *testing.T, field string, filename *string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	disp := `form-data; name="` + field + `"`
	if filename != nil {
		disp += `; filename="` + *filename + `"`
	}
	h.Set("Content-Disposition", disp)
	h.Set("Content-Type", "application/octet-stream")
	pw, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func ptr(s string) *string { return &s }

func serve(t *testing.T, h *Handler, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	req := httptest.NewRequest(http.MethodPost, Path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body["error"]
}

func TestUpload_Success(t *testing.T) {
	a := &fakeAnswerer{res: completed()}
	h := NewHandler(a, Config{})

	body, ct := multipartBody(t, "file", ptr("question.wav"), wavBytes())
	rec := serve(t, h, body, ct)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "audio/wav" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="response.wav"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	clip, err := audio.DecodeWAV(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("response is not WAV: %v", err)
	}
	if clip.Format.SampleRate != 22050 || len(clip.PCM) != 6 {
		t.Errorf("reply clip = %v, %d bytes", clip.Format, len(clip.PCM))
	}
	if len(a.clips) != 1 || a.clips[0].Format != audio.DefaultFormat || len(a.clips[0].PCM) != 3200 {
		t.Errorf("answerer got %+v", a.clips)
	}
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name   string
		build  func(t *testing.T) (io.Reader, string)
		answer *fakeAnswerer
		status int
		msg    string
	}{
		{
			name: "missing file field",
			build: func(t *testing.T) (io.Reader, string) {
				return multipartBody(t, "other", ptr("a.wav"), wavBytes())
			},
			status: http.StatusBadRequest, msg: MsgNoFilePart,
		},
		{
			name: "not multipart",
			build: func(*testing.T) (io.Reader, string) {
				return bytes.NewReader(wavBytes()), "audio/wav"
			},
			status: http.StatusBadRequest, msg: MsgNoFilePart,
		},
		{
			name: "empty filename",
			build: func(t *testing.T) (io.Reader, string) {
				return multipartBody(t, "file", ptr(""), nil)
			},
			status: http.StatusBadRequest, msg: MsgNoSelectedFile,
		},
		{
			name: "no filename parameter",
			build: func(t *testing.T) (io.Reader, string) {
				return multipartBody(t, "file", nil, []byte("x"))
			},
			status: http.StatusBadRequest, msg: MsgNoFilePart,
		},
		{
			name: "not a wav",
			build: func(t *testing.T) (io.Reader, string) {
				return multipartBody(t, "file", ptr("a.wav"), []byte("definitely not riff"))
			},
			status: http.StatusBadRequest, msg: MsgInvalidAudio,
		},
		{
			name: "no speech",
			build: func(t *testing.T) (io.Reader, string) {
				return multipartBody(t, "file", ptr("a.wav"), wavBytes())
			},
			answer: &fakeAnswerer{res: pipeline.Result{Outcome: observe.OutcomeEmpty}},
			status: http.StatusUnprocessableEntity, msg: MsgNoSpeech,
		},
		{
			name: "turn failure",
			build: func(t *testing.T) (io.Reader, string) {
				return multipartBody(t, "file", ptr("a.wav"), wavBytes())
			},
			answer: &fakeAnswerer{err: errTest},
			status: http.StatusInternalServerError, msg: MsgProcessingFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.answer
			if a == nil {
				a = &fakeAnswerer{res: completed()}
			}
			body, ct := tt.build(t)
			rec := serve(t, NewHandler(a, Config{}), body, ct)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if got := errorOf(t, rec); got != tt.msg {
				t.Errorf("error = %q, want %q", got, tt.msg)
			}
		})
	}
}

func TestUpload_RejectsBadInputBeforeAnswering(t *testing.T) {
	a := &fakeAnswerer{res: completed()}
	body, ct := multipartBody(t, "file", ptr("a.wav"), []byte("junk"))
	serve(t, NewHandler(a, Config{}), body, ct)
	if len(a.clips) != 0 {
		t.Error("answerer must not run for an invalid file")
	}
}

func TestUpload_TooLarge(t *testing.T) {
	body, ct := multipartBody(t, "file", ptr("a.wav"), make([]byte, 4096))
	rec := serve(t, NewHandler(&fakeAnswerer{res: completed()}, Config{MaxBytes: 1024}), body, ct)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestUpload_RateLimited(t *testing.T) {
	h := NewHandler(&fakeAnswerer{res: completed()}, Config{RatePerSec: 0.001, Burst: 1})

	body, ct := multipartBody(t, "file", ptr("a.wav"), wavBytes())
	if rec := serve(t, h, body, ct); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	body, ct = multipartBody(t, "file", ptr("a.wav"), wavBytes())
	rec := serve(t, h, body, ct)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if got := errorOf(t, rec); got != MsgTooManyRequests {
		t.Errorf("error = %q", got)
	}
}

func TestUpload_MethodNotAllowed(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(&fakeAnswerer{}, Config{}).Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Path, nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
