package audio

import (
	"fmt"
	"math"
)

// Convert rewrites pcm from one format to another. Channels are folded to
// mono before resampling so the interpolation only runs once per frame; a
// stereo target is produced last by duplicating the mono signal. If the
// formats already match, pcm is returned unchanged.
func Convert(pcm []byte, from, to Format) []byte {
	if from == to {
		return pcm
	}
	mono := Downmix(pcm, from.channels())
	mono = ResampleMono16(mono, from.SampleRate, to.SampleRate)
	if to.channels() == 2 {
		return MonoToStereo(mono)
	}
	return mono
}

// Downmix averages interleaved multi-channel PCM to mono. Mono input is
// returned unchanged.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	if channels == 2 {
		return StereoToMono(pcm)
	}
	samples := Int16s(pcm)
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(samples[i*channels+ch])
		}
		out[i] = int16(sum / int32(channels))
	}
	return Bytes(out)
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages L and R per 4-byte stereo frame.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := clamp16((l + r) / 2)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples mono PCM from srcRate to dstRate with linear
// interpolation. If the rates match or either is invalid, pcm is returned
// unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	src := Int16s(pcm)
	n := int(int64(len(src)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}

	out := make([]int16, n)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := float64(src[idx])
		s1 := s0
		if idx+1 < len(src) {
			s1 = float64(src[idx+1])
		}
		out[i] = int16(math.Round(s0*(1-frac) + s1*frac))
	}
	return Bytes(out)
}

func clamp16(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// formatString renders a rate and channel count, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
