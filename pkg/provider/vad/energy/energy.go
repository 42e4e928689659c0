// Package energy implements a vad.Classifier that compares the normalized RMS
// level of each frame against a fixed threshold.
//
// It needs no model and no CGO, which makes it the default classifier. It is
// easily fooled by steady background noise; use the silero package when the
// capture environment is noisy.
package energy

import (
	"errors"
	"fmt"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// DefaultThreshold is the normalized RMS level (fraction of full scale) above
// which a frame counts as speech.
const DefaultThreshold = 0.01

var (
	_ vad.Classifier = (*Classifier)(nil)
	_ vad.Engine     = Engine{}
)

// Classifier labels a frame as speech when audio.RMS(frame) exceeds the
// threshold. A frame exactly at the threshold is silence. The classifier is
// stateless and therefore safe for concurrent use.
type Classifier struct {
	threshold float64
}

// New returns a Classifier using threshold, or DefaultThreshold when
// threshold is zero.
func New(threshold float64) (*Classifier, error) {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < 0 || threshold >= 1 {
		return nil, fmt.Errorf("energy: threshold %v out of range (0, 1)", threshold)
	}
	return &Classifier{threshold: threshold}, nil
}

// Threshold returns the configured threshold.
func (c *Classifier) Threshold() float64 { return c.threshold }

// Classify implements vad.Classifier.
func (c *Classifier) Classify(frame []byte) (vad.Decision, error) {
	if len(frame) < 2 {
		return vad.Silence, errors.New("energy: frame shorter than one sample")
	}
	if audio.RMS(frame) > c.threshold {
		return vad.Speech, nil
	}
	return vad.Silence, nil
}

// Reset is a no-op; the classifier keeps no state.
func (c *Classifier) Reset() {}

// Close is a no-op.
func (c *Classifier) Close() error { return nil }

// Engine creates energy classifiers from a vad.Config.
type Engine struct{}

// NewClassifier implements vad.Engine.
func (Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	return New(cfg.Threshold)
}
