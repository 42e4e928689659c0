// Package vad defines the frame classifier used by the segmenter to decide
// whether a captured frame contains speech.
//
// A classifier is stateful per audio stream (Silero keeps recurrent model
// state, hysteresis-based detectors keep a smoothing history), so an Engine
// hands out one Classifier per stream. Classify is synchronous and must
// finish well within one frame period: it runs on the capture path.
//
// A Classifier must not be shared between goroutines unless the
// implementation documents otherwise.
package vad

// Decision is the per-frame verdict of a Classifier.
type Decision int

const (
	// Silence means the frame carries no speech.
	Silence Decision = iota

	// Speech means the frame carries speech.
	Speech
)

// String returns "speech" or "silence".
func (d Decision) String() string {
	if d == Speech {
		return "speech"
	}
	return "silence"
}

// Config holds the parameters for a classifier. Threshold is expressed in the
// backend's native scale: normalized RMS for the energy classifier, speech
// probability for model-based ones.
type Config struct {
	// SampleRate of the frames passed to Classify, in Hz.
	SampleRate int

	// FrameSizeMs is the duration of each frame.
	FrameSizeMs int

	// Threshold above which a frame is speech. Zero selects the backend default.
	Threshold float64
}

// Classifier labels individual PCM frames as speech or silence.
type Classifier interface {
	// Classify inspects one frame of 16-bit little-endian mono PCM. An error
	// leaves the classifier usable; callers decide how to treat the frame.
	Classify(frame []byte) (Decision, error)

	// Reset clears accumulated detection state without releasing resources.
	Reset()

	// Close releases the classifier. Calling Close more than once is safe.
	Close() error
}

// Engine creates classifiers. Implementations must be safe for concurrent use.
type Engine interface {
	NewClassifier(cfg Config) (Classifier, error)
}
