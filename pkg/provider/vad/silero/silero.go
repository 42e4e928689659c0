// Package silero implements a vad.Classifier backed by the Silero VAD ONNX
// model through github.com/streamer45/silero-vad-go.
//
// The model consumes fixed windows of 512 samples at 16 kHz (256 at 8 kHz),
// which do not line up with 30 ms capture frames. The classifier therefore
// buffers samples, runs the detector on every complete window and reports the
// detector's triggered state as of the last processed window. The ONNX
// runtime shared library must be available at link time.
package silero

import (
	"errors"
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// DefaultThreshold is the speech probability above which the detector triggers.
const DefaultThreshold = 0.5

// defaultMinSilenceMs keeps the detector's own end-of-speech smoothing short;
// the segmenter applies the real hysteresis window.
const defaultMinSilenceMs = 100

var (
	_ vad.Classifier = (*Classifier)(nil)
	_ vad.Engine     = (*Engine)(nil)
)

// detector is the subset of *speech.Detector the classifier uses.
type detector interface {
	Detect(pcm []float32) ([]speech.Segment, error)
	Reset() error
	Destroy() error
}

// Classifier adapts the streaming Silero detector to per-frame decisions.
// It is not safe for concurrent use.
type Classifier struct {
	det      detector
	window   int
	pending  []float32
	speaking bool
	closed   bool
}

// New loads the model at modelPath and returns a Classifier for audio at
// sampleRate (8000 or 16000).
func New(modelPath string, sampleRate int, threshold float64) (*Classifier, error) {
	if modelPath == "" {
		return nil, errors.New("silero: model path must not be empty")
	}
	window, err := windowSize(sampleRate)
	if err != nil {
		return nil, err
	}
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           sampleRate,
		Threshold:            float32(threshold),
		MinSilenceDurationMs: defaultMinSilenceMs,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	return newClassifier(det, window), nil
}

func newClassifier(det detector, window int) *Classifier {
	return &Classifier{det: det, window: window}
}

func windowSize(sampleRate int) (int, error) {
	switch sampleRate {
	case 16000:
		return 512, nil
	case 8000:
		return 256, nil
	}
	return 0, fmt.Errorf("silero: unsupported sample rate %d (want 8000 or 16000)", sampleRate)
}

// Classify implements vad.Classifier. Frames shorter than a model window are
// answered with the state of the previous window.
func (c *Classifier) Classify(frame []byte) (vad.Decision, error) {
	if c.closed {
		return vad.Silence, errors.New("silero: classifier is closed")
	}
	c.pending = append(c.pending, audio.Float32s(frame)...)

	if n := len(c.pending) / c.window * c.window; n > 0 {
		segs, err := c.det.Detect(c.pending[:n])
		rest := copy(c.pending, c.pending[n:])
		c.pending = c.pending[:rest]
		if err != nil {
			return c.decision(), fmt.Errorf("silero: detect: %w", err)
		}
		for _, s := range segs {
			// An open segment has no end yet; a closed one ends speech.
			c.speaking = s.SpeechEndAt == 0
		}
	}
	return c.decision(), nil
}

func (c *Classifier) decision() vad.Decision {
	if c.speaking {
		return vad.Speech
	}
	return vad.Silence
}

// Reset clears buffered samples and the detector's recurrent state.
func (c *Classifier) Reset() {
	c.pending = c.pending[:0]
	c.speaking = false
	if !c.closed {
		_ = c.det.Reset()
	}
}

// Close releases the ONNX session.
func (c *Classifier) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.det.Destroy(); err != nil {
		return fmt.Errorf("silero: destroy detector: %w", err)
	}
	return nil
}

// Engine creates one Silero classifier per stream from a shared model path.
type Engine struct {
	ModelPath string
}

// NewClassifier implements vad.Engine.
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	return New(e.ModelPath, cfg.SampleRate, cfg.Threshold)
}
