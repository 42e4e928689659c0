package history

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/llm"
)

func TestHistory_AppendAndLen(t *testing.T) {
	h := New()
	if h.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", h.Len())
	}
	h.Append(Turn{Transcript: "hello", Reply: "hi"})
	h.Append(Turn{Transcript: "book", Reply: "sure", At: time.Unix(10, 0)})

	if h.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", h.Len())
	}
	turns := h.Turns()
	if turns[0].At.IsZero() {
		t.Error("zero At should be stamped on append")
	}
	if !turns[1].At.Equal(time.Unix(10, 0)) {
		t.Errorf("explicit At overwritten: %v", turns[1].At)
	}
}

func TestHistory_NilIsEmpty(t *testing.T) {
	var h *History
	if h.Len() != 0 || h.Turns() != nil || len(h.Messages()) != 0 {
		t.Error("nil History should behave as empty")
	}
}

func TestHistory_TurnsIsCopy(t *testing.T) {
	h := New()
	h.Append(Turn{Transcript: "a", Reply: "b"})
	turns := h.Turns()
	turns[0].Reply = "mutated"
	if h.Turns()[0].Reply != "b" {
		t.Error("Turns() must return a copy")
	}
}

func TestHistory_Messages(t *testing.T) {
	h := New()
	h.Append(Turn{Transcript: "hello", Reply: "hi there"})
	h.Append(Turn{Transcript: "help", Reply: "sure"})

	want := []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "hi there"},
		{Role: llm.RoleUser, Content: "help"},
		{Role: llm.RoleAssistant, Content: "sure"},
	}
	got := h.Messages()
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestHistory_MessagesWithin(t *testing.T) {
	h := New()
	long := strings.Repeat("x", 400) // 100 tokens
	h.Append(Turn{Transcript: long, Reply: long})
	h.Append(Turn{Transcript: "recent", Reply: "reply"})

	got := h.MessagesWithin(50)
	if len(got) != 2 || got[0].Content != "recent" {
		t.Fatalf("MessagesWithin(50) = %+v, want only the recent turn", got)
	}
	if n := len(h.MessagesWithin(1000)); n != 4 {
		t.Errorf("MessagesWithin(1000) = %d messages, want 4", n)
	}
	if n := len(h.MessagesWithin(1)); n != 0 {
		t.Errorf("MessagesWithin(1) = %d messages, want 0", n)
	}
}

func TestHistory_ConcurrentAppend(t *testing.T) {
	h := New()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Append(Turn{Transcript: "t"})
			_ = h.Len()
		}()
	}
	wg.Wait()
	if h.Len() != 50 {
		t.Errorf("Len() = %d, want 50", h.Len())
	}
}
