// Package wavfile reads capture audio from WAV files and writes synthesized
// replies to them.
//
// A [Source] decodes the whole file up front and serves it as fixed-size
// frames in the requested format, returning io.EOF after the last one. A
// [Sink] writes every clip it is given as a standalone WAV file.
package wavfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
)

// Source serves a WAV file as a finite sequence of frames.
type Source struct {
	*audio.ClipSource
	path string
	in   audio.Format
}

// Open decodes the WAV file at path and prepares it for framing in format f
// with frames of duration d. The file is downmixed and resampled as needed;
// the last partial frame is zero-padded.
func Open(path string, f audio.Format, d time.Duration) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: read %s: %w", path, err)
	}
	clip, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("wavfile: %s: %w", path, err)
	}
	src := &Source{
		ClipSource: audio.NewClipSource(clip, f, d),
		path:       path,
		in:         clip.Format,
	}
	slog.Debug("wavfile: opened source",
		"path", path,
		"file_format", clip.Format.String(),
		"duration", clip.Duration(),
		"frames", src.Len(),
	)
	return src, nil
}

// Path returns the file the source was opened from.
func (s *Source) Path() string { return s.path }

// FileFormat returns the sample layout stored in the file before conversion.
func (s *Source) FileFormat() audio.Format { return s.in }

// Sink writes each clip to a WAV file.
//
// When the configured path contains a %d verb, every clip gets its own file
// numbered from 1. Otherwise each clip overwrites the same file, so the path
// always holds the most recent reply.
type Sink struct {
	mu      sync.Mutex
	pattern string
	counter int
	written []string
}

// NewSink returns a Sink writing to path. An empty path is rejected.
func NewSink(path string) (*Sink, error) {
	if path == "" {
		return nil, fmt.Errorf("wavfile: sink path must not be empty")
	}
	return &Sink{pattern: path}, nil
}

// Play writes clip as a WAV file and returns once the file is on disk. The
// file is written to a temporary name first and renamed into place, so a
// reader never sees a partial file.
func (s *Sink) Play(ctx context.Context, clip audio.Clip) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pattern
	if strings.Contains(s.pattern, "%d") {
		path = fmt.Sprintf(s.pattern, s.counter+1)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("wavfile: create directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, audio.EncodeWAV(clip.PCM, clip.Format), 0o644); err != nil {
		return fmt.Errorf("wavfile: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("wavfile: rename %s: %w", path, err)
	}

	s.counter++
	s.written = append(s.written, path)
	slog.Info("wavfile: wrote reply", "path", path, "duration", clip.Duration())
	return nil
}

// Written returns the paths written so far, in order. With a fixed path the
// same name repeats.
func (s *Sink) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	copy(out, s.written)
	return out
}

// Close is a no-op; every Play leaves a complete file behind.
func (s *Sink) Close() error { return nil }
