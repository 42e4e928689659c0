// Package mock provides test doubles for the vad package interfaces.
//
// Classifier replays a scripted list of decisions, which is how segmenter
// tests drive a known speech/silence pattern through the state machine:
//
//	cls := mock.Pattern(50, func(i int) bool { return i >= 5 && i <= 15 })
//	seg := segment.New(cls)
package mock

import (
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

var (
	_ vad.Classifier = (*Classifier)(nil)
	_ vad.Engine     = (*Engine)(nil)
)

// Step is one scripted classifier response.
type Step struct {
	Decision vad.Decision
	Err      error
}

// Classifier is a mock implementation of vad.Classifier. Each Classify call
// consumes the next Step; once Steps is exhausted it returns Default.
type Classifier struct {
	mu sync.Mutex

	// Steps are consumed in order by Classify.
	Steps []Step

	// Default is returned after Steps runs out.
	Default vad.Decision

	// Frames records every frame passed to Classify.
	Frames [][]byte

	// ResetCalls counts Reset invocations.
	ResetCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// Pattern builds a Classifier for n frames that answers Speech where
// speech(i) is true and Silence otherwise.
func Pattern(n int, speech func(i int) bool) *Classifier {
	steps := make([]Step, n)
	for i := range steps {
		if speech(i) {
			steps[i].Decision = vad.Speech
		}
	}
	return &Classifier{Steps: steps}
}

// Classify records the frame and returns the next scripted step.
func (c *Classifier) Classify(frame []byte) (vad.Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Frames = append(c.Frames, frame)
	idx := len(c.Frames) - 1
	if idx < len(c.Steps) {
		s := c.Steps[idx]
		return s.Decision, s.Err
	}
	return c.Default, nil
}

// Reset records the call.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResetCalls++
}

// Close records the call.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCalls++
	return nil
}

// Calls returns the number of Classify invocations so far.
func (c *Classifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Frames)
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Classifier is returned by NewClassifier. If nil, a fresh Classifier is
	// returned.
	Classifier vad.Classifier

	// NewClassifierErr, if non-nil, is returned from NewClassifier.
	NewClassifierErr error

	// Configs records the Config of every NewClassifier call.
	Configs []vad.Config
}

// NewClassifier records cfg and returns Classifier, NewClassifierErr.
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Configs = append(e.Configs, cfg)
	if e.NewClassifierErr != nil {
		return nil, e.NewClassifierErr
	}
	if e.Classifier != nil {
		return e.Classifier, nil
	}
	return &Classifier{}, nil
}
