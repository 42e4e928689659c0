package audio

import (
	"encoding/binary"
	"iter"
	"math"
)

// fullScale is the magnitude used to map int16 samples to [-1, 1] for level
// measurements.
const fullScale = 32768.0

// Int16s decodes little-endian PCM bytes into samples. A trailing odd byte is
// ignored.
func Int16s(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Bytes encodes samples as little-endian PCM bytes.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Float32s converts PCM to float32 samples in [-1, 1), the layout expected by
// the whisper.cpp and Silero bindings.
func Float32s(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / fullScale
	}
	return out
}

// RMS returns the root-mean-square level of pcm normalized to full scale, so
// a full-scale square wave measures 1.0. Returns 0 for buffers shorter than
// one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum/float64(n)) / fullScale
}

// Chunks splits pcm into consecutive pieces of at most size bytes. The last
// chunk may be shorter. The sequence is finite and restarts from the
// beginning each time it is ranged over. Chunks share memory with pcm.
func Chunks(pcm []byte, size int) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if size <= 0 {
			size = len(pcm)
		}
		for off := 0; off < len(pcm); off += size {
			end := min(off+size, len(pcm))
			if !yield(pcm[off:end]) {
				return
			}
		}
	}
}
