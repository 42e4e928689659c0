// Package openai provides an STT transcriber backed by the OpenAI audio
// transcription API (whisper-1 and the gpt-4o transcribe models).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// DefaultModel is used when no model is configured.
const DefaultModel = string(oai.AudioModelWhisper1)

// Compile-time assertion that Provider implements stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

// Provider implements stt.Transcriber using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL  string
	language string
	timeout  time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Any server speaking
// the /audio/transcriptions contract works, including local ones.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithLanguage sets the ISO-639-1 language hint (e.g. "en").
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI transcriber. An empty model selects
// [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
	}, nil
}

// Transcribe uploads pcm as a WAV file. whisper-1 is asked for verbose JSON
// so segment timestamps come back too; other models only return text.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (stt.Result, error) {
	if len(pcm) == 0 {
		return stt.Result{}, nil
	}
	wav := audio.EncodeWAV(pcm, audio.Format{SampleRate: sampleRate, Channels: 1})

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	verbose := p.model == DefaultModel
	if verbose {
		params.ResponseFormat = oai.AudioResponseFormatVerboseJSON
	}
	if p.language != "" {
		params.Language = oai.String(p.language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai: transcribe: %w", err)
	}

	res := stt.Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: p.language,
	}
	if verbose {
		segs, lang := parseVerbose(resp.RawJSON())
		res.Segments = segs
		if lang != "" {
			res.Language = lang
		}
	}
	return res, nil
}

// verboseTranscription is the part of the verbose_json body the SDK's
// Transcription type does not model.
type verboseTranscription struct {
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func parseVerbose(raw string) ([]stt.Segment, string) {
	if raw == "" {
		return nil, ""
	}
	var v verboseTranscription
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, ""
	}
	var segs []stt.Segment
	for _, s := range v.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segs = append(segs, stt.Segment{
			Start: time.Duration(s.Start * float64(time.Second)),
			End:   time.Duration(s.End * float64(time.Second)),
			Text:  text,
		})
	}
	return segs, v.Language
}
