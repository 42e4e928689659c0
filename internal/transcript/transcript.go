// Package transcript writes the plain-text conversation log.
//
// The file is created (truncated) once when the [Writer] is opened. Each turn
// appends one line per transcript segment, timed relative to the start of
// capture, followed by the reply:
//
//	[1.23s -> 2.10s] book an appointment
//	  reply: I can help you book an appointment.
package transcript

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Entry is one turn to log.
type Entry struct {
	// Start and End bound the utterance in capture time. They are used when
	// Segments is empty.
	Start, End time.Duration

	// Segments are offsets relative to the capture start.
	Segments []stt.Segment

	Text  string
	Reply string
}

// Writer appends entries to a transcript. It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
	c  io.Closer
}

// Create truncates or creates the file at path.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: create %s: %w", path, err)
	}
	return &Writer{w: bufio.NewWriter(f), c: f}, nil
}

// NewWriter wraps w. Close flushes but does not close w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write appends e and flushes, so the file is readable while the assistant
// runs.
func (t *Writer) Write(e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := io.WriteString(t.w, Format(e)); err != nil {
		return fmt.Errorf("transcript: write: %w", err)
	}
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("transcript: flush: %w", err)
	}
	return nil
}

// Close flushes buffered output and closes the file.
func (t *Writer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.w.Flush()
	if t.c != nil {
		if cerr := t.c.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("transcript: close: %w", err)
	}
	return nil
}

// Format renders e as it appears in the file.
func Format(e Entry) string {
	var sb strings.Builder
	segs := e.Segments
	if len(segs) == 0 {
		segs = []stt.Segment{{Start: e.Start, End: e.End, Text: e.Text}}
	}
	for _, s := range segs {
		fmt.Fprintf(&sb, "[%.2fs -> %.2fs] %s\n", s.Start.Seconds(), s.End.Seconds(), strings.TrimSpace(s.Text))
	}
	if e.Reply != "" {
		fmt.Fprintf(&sb, "  reply: %s\n", e.Reply)
	}
	return sb.String()
}
