package tts

import "time"

// VoiceProfile describes the voice a reply is spoken in.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g. "p225" for the VCTK
	// model, a speaker WAV name for XTTS, a voice ID for ElevenLabs).
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is the language code passed to multilingual models. Empty
	// uses the provider default.
	Language string

	// SpeedFactor stretches the rendered audio (1.0 = unchanged, >1.0 =
	// slower). Zero means 1.0.
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string
}

// Audio is synthesised speech: mono 16-bit signed little-endian PCM.
type Audio struct {
	PCM        []byte
	SampleRate int
}

// Duration returns the playback length of a.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.PCM)/2) * time.Second / time.Duration(a.SampleRate)
}
