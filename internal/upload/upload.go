// Package upload serves the single-shot audio endpoint.
//
// POST /upload-audio takes a multipart form with one WAV file in the "file"
// field, runs it through transcription, reply and synthesis as one turn and
// answers with the spoken reply as a WAV attachment. Errors are JSON objects
// of the form {"error": "..."}.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/pkg/audio"
)

// Path is the route the handler is registered under.
const Path = "/upload-audio"

// DefaultMaxBytes bounds the request body.
const DefaultMaxBytes = 25 << 20

// Error messages returned in the JSON body.
const (
	MsgNoFilePart       = "No file part"
	MsgNoSelectedFile   = "No selected file"
	MsgInvalidAudio     = "Invalid audio file"
	MsgNoSpeech         = "No speech detected"
	MsgTooLarge         = "File too large"
	MsgTooManyRequests  = "Too many requests"
	MsgProcessingFailed = "Processing failed"
)

// Answerer runs one clip through the turn stages without playing it.
type Answerer interface {
	Answer(ctx context.Context, clip audio.Clip) (pipeline.Result, error)
}

var _ Answerer = (*pipeline.Pipeline)(nil)

// Config holds the handler limits.
type Config struct {
	// RatePerSec is the sustained request rate. Zero or less disables
	// limiting.
	RatePerSec float64

	// Burst is the number of requests allowed at once. Defaults to 1.
	Burst int

	// MaxBytes caps the request body. Defaults to [DefaultMaxBytes].
	MaxBytes int64
}

// Handler implements the upload endpoint.
type Handler struct {
	answerer Answerer
	limiter  *rate.Limiter
	maxBytes int64
}

var _ http.Handler = (*Handler)(nil)

// NewHandler creates a Handler that answers uploads through a.
func NewHandler(a Answerer, cfg Config) *Handler {
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Handler{
		answerer: a,
		limiter:  rate.NewLimiter(limit, burst),
		maxBytes: maxBytes,
	}
}

// Register adds the handler to mux as POST [Path].
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST "+Path, h)
}

// ServeHTTP handles one upload.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := observe.StartSpan(r.Context(), "upload.audio")
	defer span.End()
	if id := observe.CorrelationID(ctx); id != "" {
		w.Header().Set("X-Correlation-ID", id)
	}
	log := observe.Logger(ctx)

	if !h.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, MsgTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	filename, clip, status, msg := readUpload(r)
	if status != http.StatusOK {
		log.Debug("upload: rejected", "filename", filename, "status", status, "reason", msg)
		writeError(w, status, msg)
		return
	}
	span.SetAttributes(attribute.String("upload.filename", filename), attribute.Int("upload.bytes", len(clip.PCM)))

	res, err := h.answerer.Answer(ctx, clip)
	if err != nil {
		observe.FailSpan(span, err)
		log.Error("upload: turn failed", "filename", filename, "err", err)
		writeError(w, http.StatusInternalServerError, MsgProcessingFailed)
		return
	}
	if res.Outcome == observe.OutcomeEmpty {
		writeError(w, http.StatusUnprocessableEntity, MsgNoSpeech)
		return
	}

	var buf bytes.Buffer
	if err := audio.WriteWAV(&buf, res.Clip); err != nil {
		log.Error("upload: encode reply", "err", err)
		writeError(w, http.StatusInternalServerError, MsgProcessingFailed)
		return
	}
	log.Info("upload: answered",
		"filename", filename, "transcript", res.Transcript, "reply", res.Reply)

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="response.wav"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Debug("upload: write response", "err", err)
	}
}

// readUpload streams the multipart body and decodes the first "file" part.
// A part without a filename parameter is an ordinary form field and does not
// count as the file; a part with an empty filename is a form submitted
// without choosing a file.
func readUpload(r *http.Request) (filename string, clip audio.Clip, status int, msg string) {
	mr, err := r.MultipartReader()
	if err != nil {
		return "", audio.Clip{}, http.StatusBadRequest, MsgNoFilePart
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", audio.Clip{}, http.StatusBadRequest, MsgNoFilePart
		}
		if err != nil {
			if isTooLarge(err) {
				return "", audio.Clip{}, http.StatusRequestEntityTooLarge, MsgTooLarge
			}
			return "", audio.Clip{}, http.StatusBadRequest, MsgNoFilePart
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		_, params, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		name, isFile := params["filename"]
		if !isFile {
			_ = part.Close()
			continue
		}
		if name == "" {
			return "", audio.Clip{}, http.StatusBadRequest, MsgNoSelectedFile
		}

		clip, err := audio.ReadWAV(part)
		_ = part.Close()
		switch {
		case isTooLarge(err):
			return name, audio.Clip{}, http.StatusRequestEntityTooLarge, MsgTooLarge
		case err != nil || clip.Format.SampleRate <= 0 || clip.Format.Channels <= 0:
			return name, audio.Clip{}, http.StatusBadRequest, MsgInvalidAudio
		}
		return name, clip, http.StatusOK, ""
	}
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
