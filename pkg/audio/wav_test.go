package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	pcm := audio.Bytes([]int16{1, -1, 2, -2})
	wav := audio.EncodeWAV(pcm, audio.Format{SampleRate: 22050, Channels: 1})

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 22050 {
		t.Errorf("sample rate = %d, want 22050", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 44100 {
		t.Errorf("byte rate = %d, want 44100", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}

func TestDecodeWAV_RoundTrip(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 2}
	pcm := audio.Bytes([]int16{10, 20, 30, 40})

	clip, err := audio.DecodeWAV(audio.EncodeWAV(pcm, f))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if clip.Format != f {
		t.Errorf("format = %+v, want %+v", clip.Format, f)
	}
	if !bytes.Equal(clip.PCM, pcm) {
		t.Errorf("pcm = %v, want %v", clip.PCM, pcm)
	}
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	pcm := audio.Bytes([]int16{5, 6})
	wav := audio.EncodeWAV(pcm, audio.DefaultFormat)

	// Insert an odd-sized LIST chunk (with pad byte) between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	var b bytes.Buffer
	b.Write(wav[:36])
	b.Write(list)
	b.Write(wav[36:])

	clip, err := audio.DecodeWAV(b.Bytes())
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if !bytes.Equal(clip.PCM, pcm) {
		t.Errorf("pcm = %v, want %v", clip.PCM, pcm)
	}
}

func TestDecodeWAV_TruncatedDataChunk(t *testing.T) {
	pcm := audio.Bytes([]int16{1, 2, 3})
	wav := audio.EncodeWAV(pcm, audio.DefaultFormat)
	binary.LittleEndian.PutUint32(wav[40:44], 0xFFFFFFFF)

	clip, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(clip.PCM) != len(pcm) {
		t.Errorf("len(pcm) = %d, want %d", len(clip.PCM), len(pcm))
	}
}

func TestDecodeWAV_Rejects(t *testing.T) {
	eightBit := audio.EncodeWAV([]byte{1, 2}, audio.DefaultFormat)
	binary.LittleEndian.PutUint16(eightBit[34:36], 8)

	float := audio.EncodeWAV([]byte{1, 2}, audio.DefaultFormat)
	binary.LittleEndian.PutUint16(float[20:22], 3)

	tests := map[string][]byte{
		"empty":       nil,
		"not riff":    []byte("JUNKJUNKJUNKJUNK"),
		"8-bit":       eightBit,
		"float":       float,
		"header only": audio.EncodeWAV(nil, audio.DefaultFormat)[:36],
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := audio.DecodeWAV(data)
			if !errors.Is(err, audio.ErrInvalidWAV) {
				t.Fatalf("err = %v, want ErrInvalidWAV", err)
			}
		})
	}
}
