package resilience

import (
	"context"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *STTFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Names returns the backend names in failover order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// Transcribe sends the utterance to the first healthy backend. If it fails,
// the same audio is retried on the next one.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (stt.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(t stt.Transcriber) (stt.Result, error) {
		return t.Transcribe(ctx, pcm, sampleRate)
	})
}
