// Package synth turns reply text into playable audio.
//
// A [Synthesizer] calls a [tts.Provider] with a fixed voice, applies the
// voice's speed factor, normalizes the peak level and returns a mono clip.
package synth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/tts"
)

// Option configures a [Synthesizer].
type Option func(*Synthesizer)

// WithPeak sets the normalization target in (0, 1]. Zero disables
// normalization. Defaults to [audio.DefaultPeak].
func WithPeak(p float64) Option {
	return func(s *Synthesizer) {
		if p >= 0 && p <= 1 {
			s.peak = p
		}
	}
}

// WithOutputRate resamples every clip to rate. Zero keeps the engine's
// native rate. This is the default.
func WithOutputRate(rate int) Option {
	return func(s *Synthesizer) {
		if rate >= 0 {
			s.outputRate = rate
		}
	}
}

// Synthesizer renders replies with one voice.
type Synthesizer struct {
	provider   tts.Provider
	voice      tts.VoiceProfile
	peak       float64
	outputRate int
}

// New returns a Synthesizer speaking with voice through p.
func New(p tts.Provider, voice tts.VoiceProfile, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		provider: p,
		voice:    voice,
		peak:     audio.DefaultPeak,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Voice returns the configured voice.
func (s *Synthesizer) Voice() tts.VoiceProfile { return s.voice }

// Synthesize renders text. Blank text yields an empty clip without calling
// the provider.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return audio.Clip{}, nil
	}
	a, err := s.provider.Synthesize(ctx, text, s.voice)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("synth: %w", err)
	}
	if a.SampleRate <= 0 {
		return audio.Clip{}, errors.New("synth: provider returned audio without a sample rate")
	}

	pcm := a.PCM
	rate := a.SampleRate
	if f := s.voice.SpeedFactor; f > 0 && f != 1 {
		pcm = Stretch(pcm, rate, f)
	}
	if s.outputRate > 0 && s.outputRate != rate {
		pcm = audio.ResampleMono16(pcm, rate, s.outputRate)
		rate = s.outputRate
	}
	if s.peak > 0 {
		pcm = audio.NormalizePeak(pcm, s.peak)
	}
	return audio.Clip{PCM: pcm, Format: audio.Format{SampleRate: rate, Channels: 1}}, nil
}

// Stretch changes the playback length of mono s16le pcm by factor while the
// sample rate stays the same. A factor above 1 slows speech down and lowers
// its pitch slightly.
func Stretch(pcm []byte, rate int, factor float64) []byte {
	if factor <= 0 || factor == 1 || rate <= 0 {
		return pcm
	}
	return audio.ResampleMono16(pcm, rate, int(math.Round(float64(rate)*factor)))
}
