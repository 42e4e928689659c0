// Package deepgram provides a Deepgram-backed STT transcriber using the
// Deepgram live WebSocket API. It implements the stt.Transcriber interface.
//
// Each Transcribe call opens one connection, streams the utterance as binary
// frames, sends CloseStream and collects every final result until Deepgram
// answers with its Metadata message or closes the socket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// sendChunkBytes is 100 ms of 16 kHz mono audio.
	sendChunkBytes = 3200
)

// Compile-time assertion that Provider implements stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the WebSocket endpoint. Tests point it at a local
// server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Transcriber backed by the Deepgram live API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams pcm to Deepgram and returns the concatenated finals.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (stt.Result, error) {
	if len(pcm) == 0 {
		return stt.Result{}, nil
	}
	wsURL, err := p.buildURL(sampleRate)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	// Reads run concurrently with the upload so Deepgram never stalls on a
	// full send buffer.
	type readResult struct {
		res stt.Result
		err error
	}
	done := make(chan readResult, 1)
	go func() {
		res, err := collect(ctx, conn)
		done <- readResult{res, err}
	}()

	for chunk := range audio.Chunks(pcm, sendChunkBytes) {
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			return stt.Result{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			return stt.Result{}, r.err
		}
		conn.Close(websocket.StatusNormalClosure, "done")
		r.res.Language = p.language
		return r.res, nil
	case <-ctx.Done():
		return stt.Result{}, fmt.Errorf("deepgram: %w", ctx.Err())
	}
}

// buildURL constructs the Deepgram streaming endpoint URL.
func (p *Provider) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- responses ----

// deepgramResponse is the JSON structure of a Results or Metadata event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// collect reads until Metadata arrives or the server closes the socket.
func collect(ctx context.Context, conn *websocket.Conn) (stt.Result, error) {
	var res stt.Result
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return stt.Result{}, fmt.Errorf("deepgram: read: %w", err)
		}
		seg, final, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		if final {
			break
		}
		if seg.Text != "" {
			res.Segments = append(res.Segments, seg)
		}
	}
	res.Text = stt.JoinSegments(res.Segments)
	return res, nil
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. It returns
// the final segment of a Results event, or end=true for the Metadata event
// Deepgram sends after CloseStream. ok is false for anything to be ignored,
// including interim results.
func parseDeepgramResponse(data []byte) (seg stt.Segment, end bool, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Segment{}, false, false
	}
	switch resp.Type {
	case "Metadata":
		return stt.Segment{}, true, true
	case "Results":
	default:
		return stt.Segment{}, false, false
	}
	if !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return stt.Segment{}, false, false
	}
	start := time.Duration(resp.Start * float64(time.Second))
	return stt.Segment{
		Start: start,
		End:   start + time.Duration(resp.Duration*float64(time.Second)),
		Text:  strings.TrimSpace(resp.Channel.Alternatives[0].Transcript),
	}, false, true
}
