// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber turns one finished utterance of mono 16-bit little-endian PCM
// into text. Backends include a local whisper.cpp server or in-process model,
// OpenAI's transcription API, Google Cloud Speech and Deepgram.
//
// Transcription is batch-oriented: the segmenter decides where an utterance
// ends, so providers never see an open-ended stream. An empty [Result.Text]
// means the utterance contained no recognisable speech and no turn should be
// taken.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"strings"
)

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe recognises the speech in pcm, which is mono 16-bit signed
	// little-endian audio at sampleRate Hz.
	//
	// Returns an error when the backend cannot be reached or rejects the
	// request. Silence is not an error: it yields a Result with empty Text.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (Result, error)
}

// TranscriberFunc adapts a plain function to [Transcriber].
type TranscriberFunc func(ctx context.Context, pcm []byte, sampleRate int) (Result, error)

// Transcribe calls f.
func (f TranscriberFunc) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (Result, error) {
	return f(ctx, pcm, sampleRate)
}

// JoinSegments concatenates segment texts with single spaces and trims the
// result. Providers that only report segments use it to fill [Result.Text].
func JoinSegments(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
