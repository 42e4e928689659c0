package audio

import "time"

// Framer cuts an arbitrary stream of PCM writes into fixed-size frames and
// stamps each with its capture index and timestamp. Sources whose backend
// delivers differently sized buffers (decoded Opus packets, whole files) use
// it to present the uniform frame size the segmenter expects.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	format   Format
	duration time.Duration
	size     int
	pending  []byte
	next     int
}

// NewFramer returns a Framer producing frames of duration d in format f.
func NewFramer(f Format, d time.Duration) *Framer {
	return &Framer{format: f, duration: d, size: f.FrameBytes(d)}
}

// FrameBytes returns the size in bytes of each emitted frame.
func (fr *Framer) FrameBytes() int { return fr.size }

// Write appends pcm and returns every complete frame now available.
func (fr *Framer) Write(pcm []byte) []Frame {
	fr.pending = append(fr.pending, pcm...)
	var out []Frame
	for len(fr.pending) >= fr.size && fr.size > 0 {
		data := make([]byte, fr.size)
		copy(data, fr.pending[:fr.size])
		fr.pending = fr.pending[fr.size:]
		out = append(out, fr.frame(data))
	}
	return out
}

// Flush zero-pads any buffered remainder to a full frame and returns it.
// ok is false when nothing was buffered.
func (fr *Framer) Flush() (f Frame, ok bool) {
	if len(fr.pending) == 0 {
		return Frame{}, false
	}
	data := make([]byte, fr.size)
	copy(data, fr.pending)
	fr.pending = nil
	return fr.frame(data), true
}

func (fr *Framer) frame(data []byte) Frame {
	f := Frame{
		Data:       data,
		SampleRate: fr.format.SampleRate,
		Channels:   fr.format.Channels,
		Index:      fr.next,
		Timestamp:  time.Duration(fr.next) * fr.duration,
	}
	fr.next++
	return f
}
