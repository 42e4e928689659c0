// Package mock provides a test double for the stt.Transcriber interface.
//
// Transcriber returns scripted results in order and records every call so
// tests can assert on what audio reached the transcription stage:
//
//	tr := &mock.Transcriber{Results: []stt.Result{{Text: "hello"}}}
//	res, _ := tr.Transcribe(ctx, pcm, 16000)
//	calls := tr.Calls()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)

// Call records a single invocation of Transcriber.Transcribe.
type Call struct {
	// PCM is a copy of the audio passed to Transcribe.
	PCM []byte

	// SampleRate is the rate passed to Transcribe.
	SampleRate int
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Results are returned in order, one per call. Once exhausted, Default is
	// returned.
	Results []stt.Result

	// Default is returned after Results runs out.
	Default stt.Result

	// Err, if non-nil, is returned from every call.
	Err error

	// Func, if set, replaces the scripted behaviour entirely. The call is
	// still recorded.
	Func func(ctx context.Context, pcm []byte, sampleRate int) (stt.Result, error)

	calls []Call
}

// Transcribe records the call and returns the next scripted result.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (stt.Result, error) {
	t.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	t.calls = append(t.calls, Call{PCM: cp, SampleRate: sampleRate})
	idx := len(t.calls) - 1
	fn, err := t.Func, t.Err
	var res stt.Result
	if idx < len(t.Results) {
		res = t.Results[idx]
	} else {
		res = t.Default
	}
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, pcm, sampleRate)
	}
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// Calls returns a copy of the recorded calls.
func (t *Transcriber) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Call, len(t.calls))
	copy(out, t.calls)
	return out
}

// CallCount returns the number of Transcribe invocations.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Reset clears all recorded calls.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = nil
}
