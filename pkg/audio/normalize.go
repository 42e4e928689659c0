package audio

import "math"

// DefaultPeak is the fraction of full scale that [NormalizePeak] targets for
// synthesized output. It leaves headroom so quantization never wraps.
const DefaultPeak = 0.95

// Peak returns the largest absolute sample value in pcm.
func Peak(pcm []byte) int {
	peak := 0
	for _, s := range Int16s(pcm) {
		v := int(s)
		if v < 0 {
			v = -v
		}
		peak = max(peak, v)
	}
	return peak
}

// NormalizePeak scales pcm so that its largest absolute sample maps to
// target (a fraction of full scale, e.g. 0.95) and quantizes back to int16
// with rounding. Samples are read as x/32767 and written as round(y*32767),
// which makes the operation idempotent: normalizing already-normalized audio
// returns the same samples. Silent input is returned as zeros.
//
// The input is never modified.
func NormalizePeak(pcm []byte, target float64) []byte {
	samples := Int16s(pcm)
	peak := Peak(pcm)
	if peak == 0 {
		return make([]byte, len(samples)*2)
	}

	scale := target * math.MaxInt16 / float64(peak)
	for i, s := range samples {
		v := math.Round(float64(s) * scale)
		samples[i] = clamp16(int32(max(min(v, math.MaxInt16), math.MinInt16)))
	}
	return Bytes(samples)
}
