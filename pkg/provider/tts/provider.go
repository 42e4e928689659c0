// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., a local Coqui
// server or ElevenLabs) and turns one reply into mono 16-bit PCM at the
// engine's native sample rate. Resampling and loudness normalisation are the
// caller's concern.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice. The returned Audio holds
	// the complete utterance.
	//
	// Returns an error if the backend cannot be reached, rejects the voice, or
	// ctx is cancelled. An empty text yields an empty Audio and no error.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (Audio, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
