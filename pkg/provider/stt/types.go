package stt

import "time"

// Result is the outcome of transcribing one utterance.
type Result struct {
	// Text is the full transcript with surrounding whitespace trimmed. Empty
	// means no speech.
	Text string

	// Segments carries timestamped pieces of Text when the backend reports
	// them. Offsets are relative to the start of the submitted audio. May be
	// nil.
	Segments []Segment

	// Language is the detected or requested language, if known.
	Language string
}

// Empty reports whether the result contains no speech.
func (r Result) Empty() bool { return r.Text == "" }

// Segment is one timestamped piece of a transcript.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Shift returns a copy of segs with every offset moved by d. The pipeline
// uses it to turn utterance-relative offsets into capture-relative ones.
func Shift(segs []Segment, d time.Duration) []Segment {
	if len(segs) == 0 {
		return nil
	}
	out := make([]Segment, len(segs))
	for i, s := range segs {
		out[i] = Segment{Start: s.Start + d, End: s.End + d, Text: s.Text}
	}
	return out
}
