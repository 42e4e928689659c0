package audio_test

import (
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
)

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMonoToStereo(t *testing.T) {
	stereo := audio.MonoToStereo(audio.Bytes([]int16{100, 200, 300}))
	equalSamples(t, audio.Int16s(stereo), []int16{100, 100, 200, 200, 300, 300})
}

func TestStereoToMono(t *testing.T) {
	mono := audio.StereoToMono(audio.Bytes([]int16{100, 200, -100, -200}))
	equalSamples(t, audio.Int16s(mono), []int16{150, -150})
}

func TestStereoToMono_NoOverflow(t *testing.T) {
	mono := audio.StereoToMono(audio.Bytes([]int16{32767, 32767, -32768, -32768}))
	equalSamples(t, audio.Int16s(mono), []int16{32767, -32768})
}

func TestDownmix_FourChannels(t *testing.T) {
	pcm := audio.Bytes([]int16{4, 8, 12, 16, -4, -4, -4, -4})
	equalSamples(t, audio.Int16s(audio.Downmix(pcm, 4)), []int16{10, -4})
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := audio.Bytes([]int16{1, 2, 3})
	out := audio.ResampleMono16(pcm, 16000, 16000)
	if &out[0] != &pcm[0] {
		t.Fatal("same-rate resample should return the input slice")
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	out := audio.ResampleMono16(audio.Bytes([]int16{0, 100}), 8000, 16000)
	equalSamples(t, audio.Int16s(out), []int16{0, 50, 100, 100})
}

func TestResampleMono16_Downsample(t *testing.T) {
	out := audio.ResampleMono16(audio.Bytes([]int16{0, 10, 20, 30, 40, 50}), 48000, 16000)
	equalSamples(t, audio.Int16s(out), []int16{0, 30})
}

func TestResampleMono16_ZeroRate(t *testing.T) {
	pcm := audio.Bytes([]int16{1, 2})
	if got := audio.ResampleMono16(pcm, 0, 16000); len(got) != len(pcm) {
		t.Fatalf("len = %d, want %d", len(got), len(pcm))
	}
}

func TestConvert_StereoHighRateToMono16k(t *testing.T) {
	// 6 stereo frames at 48 kHz, L and R identical.
	in := audio.Bytes([]int16{0, 0, 10, 10, 20, 20, 30, 30, 40, 40, 50, 50})
	out := audio.Convert(in,
		audio.Format{SampleRate: 48000, Channels: 2},
		audio.Format{SampleRate: 16000, Channels: 1},
	)
	equalSamples(t, audio.Int16s(out), []int16{0, 30})
}

func TestConvert_MonoToStereoTarget(t *testing.T) {
	in := audio.Bytes([]int16{7, 9})
	out := audio.Convert(in,
		audio.Format{SampleRate: 16000, Channels: 1},
		audio.Format{SampleRate: 16000, Channels: 2},
	)
	equalSamples(t, audio.Int16s(out), []int16{7, 7, 9, 9})
}

func TestFormatString(t *testing.T) {
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
