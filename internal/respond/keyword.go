package respond

import (
	"context"
	"slices"
	"strings"
	"unicode"

	"github.com/MrWong99/earshot/internal/history"
)

// Rule maps any of its keywords to a fixed reply.
type Rule struct {
	Keywords []string
	Reply    string
}

// DefaultRules are the offline assistant's rules, checked in order.
var DefaultRules = []Rule{
	{Keywords: []string{"hello", "hi"}, Reply: "Hello! I'm your local AI assistant. How can I help you today?"},
	{Keywords: []string{"appointment", "book"}, Reply: "I can help you book an appointment. Please provide your email and name."},
	{Keywords: []string{"help"}, Reply: "I'm here to help! I can assist with appointment booking and answer your questions."},
}

// DefaultKeywordReply is used when no rule matches. It holds one
// [Placeholder] for the transcript.
const DefaultKeywordReply = "I understand you said: '%s'. How can I assist you with that?"

// Keyword answers with the first rule whose keyword appears as a word in the
// transcript, compared case-insensitively.
type Keyword struct {
	rules       []Rule
	defaultText string
}

// NewKeyword returns a Keyword responder. The first [Placeholder] in
// defaultText is replaced with the transcript.
func NewKeyword(rules []Rule, defaultText string) *Keyword {
	return &Keyword{rules: rules, defaultText: defaultText}
}

// Respond returns the first matching rule's reply or the filled default.
func (k *Keyword) Respond(_ context.Context, transcript string, _ *history.History) (string, error) {
	words := strings.FieldsFunc(strings.ToLower(transcript), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	for _, rule := range k.rules {
		for _, kw := range rule.Keywords {
			if slices.Contains(words, strings.ToLower(kw)) {
				return rule.Reply, nil
			}
		}
	}
	return Fill(k.defaultText, transcript), nil
}
