package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidWAV is returned by [DecodeWAV] for input that is not a 16-bit PCM
// RIFF/WAVE file.
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

const (
	wavHeaderSize   = 44
	wavFormatPCM    = 1
	wavFormatExtend = 0xFFFE
)

// EncodeWAV wraps PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	ch := f.channels()
	byteRate := f.SampleRate * ch * 2
	blockAlign := ch * 2

	buf := make([]byte, wavHeaderSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(ch))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// WriteWAV writes clip to w as a WAV file.
func WriteWAV(w io.Writer, clip Clip) error {
	_, err := w.Write(EncodeWAV(clip.PCM, clip.Format))
	return err
}

// DecodeWAV parses a RIFF/WAVE file and returns its PCM payload. Chunks other
// than "fmt " and "data" (LIST, fact, ...) are skipped. Only 16-bit integer
// PCM is accepted, including WAVE_FORMAT_EXTENSIBLE headers. A data chunk
// whose declared size overruns the file is truncated to what is present,
// which is what streaming encoders leave behind.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		f       Format
		haveFmt bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := data[off+8:]

		switch id {
		case "fmt ":
			if size < 16 || len(body) < 16 {
				return Clip{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			tag := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if tag != wavFormatPCM && tag != wavFormatExtend {
				return Clip{}, fmt.Errorf("%w: unsupported format tag %#x", ErrInvalidWAV, tag)
			}
			if bits != 16 {
				return Clip{}, fmt.Errorf("%w: %d-bit samples, want 16", ErrInvalidWAV, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return Clip{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			size = min(size, len(body))
			pcm := body[:size&^1]
			return Clip{PCM: pcm, Format: f}, nil
		}

		off += 8 + size
		if size%2 != 0 {
			off++
		}
	}
	return Clip{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}

// ReadWAV reads all of r and decodes it with [DecodeWAV].
func ReadWAV(r io.Reader) (Clip, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: read wav: %w", err)
	}
	return DecodeWAV(data)
}
