package transcript

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		in   Entry
		want string
	}{
		{
			name: "segments",
			in: Entry{
				Segments: []stt.Segment{
					{Start: 1230 * time.Millisecond, End: 2100 * time.Millisecond, Text: " book an "},
					{Start: 2100 * time.Millisecond, End: 3 * time.Second, Text: "appointment"},
				},
				Text:  "book an appointment",
				Reply: "Sure.",
			},
			want: "[1.23s -> 2.10s] book an\n[2.10s -> 3.00s] appointment\n  reply: Sure.\n",
		},
		{
			name: "no segments falls back to utterance span",
			in:   Entry{Start: 150 * time.Millisecond, End: 780 * time.Millisecond, Text: "hello"},
			want: "[0.15s -> 0.78s] hello\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.in); got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriter_AppendsInOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_ = w.Write(Entry{End: time.Second, Text: "one", Reply: "r1"})
	_ = w.Write(Entry{Start: time.Second, End: 2 * time.Second, Text: "two", Reply: "r2"})
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := "[0.00s -> 1.00s] one\n  reply: r1\n[1.00s -> 2.00s] two\n  reply: r2\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestCreate_Truncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.txt")
	if err := os.WriteFile(path, []byte("stale contents\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Write(Entry{Text: "fresh"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Visible before Close.
	data, _ := os.ReadFile(path)
	if string(data) != "[0.00s -> 0.00s] fresh\n" {
		t.Errorf("file = %q", data)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCreate_BadPath(t *testing.T) {
	if _, err := Create(filepath.Join(t.TempDir(), "missing", "t.txt")); err == nil {
		t.Error("expected error for missing directory")
	}
}
