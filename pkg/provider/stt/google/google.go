// Package google provides an STT transcriber backed by Google Cloud
// Speech-to-Text. Credentials come from Application Default Credentials
// (GOOGLE_APPLICATION_CREDENTIALS or the metadata server).
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

const defaultLanguage = "en-US"

// Compile-time assertion that Provider implements stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

// recognizeFunc is the single RPC the provider needs.
type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// Option is a functional option for configuring the Google Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 language code. Defaults to "en-US".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithModel selects a recognition model such as "latest_short". Empty uses
// the service default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// Provider implements stt.Transcriber with the synchronous Recognize RPC,
// which accepts up to one minute of audio per request.
type Provider struct {
	recognize recognizeFunc
	close     func() error
	language  string
	model     string
}

// New dials the Speech API. The caller must call Close.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("google: create speech client: %w", err)
	}
	p := newProvider(func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return client.Recognize(ctx, req)
	}, opts...)
	p.close = client.Close
	return p, nil
}

func newProvider(fn recognizeFunc, opts ...Option) *Provider {
	p := &Provider{
		recognize: fn,
		close:     func() error { return nil },
		language:  defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Close releases the gRPC connection.
func (p *Provider) Close() error { return p.close() }

// Transcribe sends pcm as LINEAR16 and joins the top alternative of every
// result.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (stt.Result, error) {
	if len(pcm) == 0 {
		return stt.Result{}, nil
	}
	if sampleRate <= 0 {
		return stt.Result{}, errors.New("google: sample rate must be positive")
	}
	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(sampleRate),
			AudioChannelCount:          1,
			LanguageCode:               p.language,
			Model:                      p.model,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: pcm},
		},
	}

	resp, err := p.recognize(ctx, req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("google: recognize: %w", err)
	}

	res := stt.Result{Language: p.language}
	var prevEnd time.Duration
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		text := strings.TrimSpace(alts[0].GetTranscript())
		end := r.GetResultEndTime().AsDuration()
		if text != "" {
			res.Segments = append(res.Segments, stt.Segment{Start: prevEnd, End: end, Text: text})
		}
		prevEnd = end
		if lc := r.GetLanguageCode(); lc != "" {
			res.Language = lc
		}
	}
	res.Text = stt.JoinSegments(res.Segments)
	return res, nil
}
