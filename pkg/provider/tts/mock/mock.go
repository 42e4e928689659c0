// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio and to verify which text and
// VoiceProfile reached the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Audio:            tts.Audio{PCM: pcm, SampleRate: 22050},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "p225", Name: "p225"}},
//	}
//	a, _ := p.Synthesize(ctx, "hello", voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/tts"
)

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Audio is returned by every successful Synthesize call.
	Audio tts.Audio

	// SynthesizeErr, if non-nil, is returned from Synthesize.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	synthCalls []SynthesizeCall
	listCalls  int
}

// Synthesize records the call and returns Audio or SynthesizeErr.
func (p *Provider) Synthesize(_ context.Context, text string, voice tts.VoiceProfile) (tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.synthCalls = append(p.synthCalls, SynthesizeCall{Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		return tts.Audio{}, p.SynthesizeErr
	}
	out := tts.Audio{SampleRate: p.Audio.SampleRate, PCM: make([]byte, len(p.Audio.PCM))}
	copy(out.PCM, p.Audio.PCM)
	return out, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// SynthesizeCalls returns a copy of the recorded Synthesize calls.
func (p *Provider) SynthesizeCalls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.synthCalls))
	copy(out, p.synthCalls)
	return out
}

// ListVoicesCalls returns how many times ListVoices was called.
func (p *Provider) ListVoicesCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listCalls
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.synthCalls = nil
	p.listCalls = 0
}
