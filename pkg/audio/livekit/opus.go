package livekit

import (
	"fmt"
	"time"

	"layeh.com/gopus"

	"github.com/MrWong99/earshot/pkg/audio"
)

// WebRTC audio is 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
	// opusMaxFrameSize fits the longest packet Opus allows (120 ms).
	opusMaxFrameSize = opusFrameSize * 6
)

// opusFormat is the PCM layout on both sides of the codec.
var opusFormat = audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}

// opusDecoder decodes one remote track. A track needs its own decoder because
// Opus carries state across consecutive packets.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("livekit: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode turns one Opus packet into interleaved 48 kHz stereo PCM bytes.
func (d *opusDecoder) decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, opusMaxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("livekit: opus decode: %w", err)
	}
	return audio.Bytes(pcm), nil
}

// opusEncoder encodes the published reply track.
type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("livekit: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode compresses exactly one 20 ms frame of interleaved stereo PCM bytes.
func (e *opusEncoder) encode(frame []byte) ([]byte, error) {
	packet, err := e.enc.Encode(audio.Int16s(frame), opusFrameSize, len(frame))
	if err != nil {
		return nil, fmt.Errorf("livekit: opus encode: %w", err)
	}
	return packet, nil
}

// opusFrames converts a clip to 48 kHz stereo and splits it into 20 ms frames
// ready for encoding. The last frame is zero-padded.
func opusFrames(clip audio.Clip) [][]byte {
	pcm := audio.Convert(clip.PCM, clip.Format, opusFormat)
	size := opusFormat.FrameBytes(opusFrameSizeMs * time.Millisecond)
	var frames [][]byte
	for chunk := range audio.Chunks(pcm, size) {
		frame := make([]byte, size)
		copy(frame, chunk)
		frames = append(frames, frame)
	}
	return frames
}
